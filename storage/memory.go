package storage

import (
	"context"
	"sync"

	"cartas/configs"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// MemoryStore is the in-process backend used by tests and single-machine
// runs. One instance shared by several nodes behaves like a remote store:
// values are deep-copied on the way in and out so callers never alias
// stored state.
type MemoryStore struct {
	latch       sync.Mutex
	stock       *EstoqueGlobal
	inventories map[string][]byte
	txns        map[string][]byte
	reservas    map[string]int
	devolucoes  map[string]bool
	travas      map[string]string

	subLatch sync.Mutex
	nextSub  int
	subs     map[string]map[int]func(string, []byte)
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		inventories: make(map[string][]byte),
		txns:        make(map[string][]byte),
		reservas:    make(map[string]int),
		devolucoes:  make(map[string]bool),
		travas:      make(map[string]string),
		subs:        make(map[string]map[int]func(string, []byte)),
	}
}

func (c *MemoryStore) Bootstrap(ctx context.Context) error {
	c.latch.Lock()
	defer c.latch.Unlock()
	if c.stock == nil {
		c.stock = &EstoqueGlobal{PacotesRestantes: configs.EstoqueInicial}
	}
	return nil
}

func (c *MemoryStore) GetStock(ctx context.Context) (*EstoqueGlobal, error) {
	c.latch.Lock()
	defer c.latch.Unlock()
	if c.stock == nil {
		return nil, errors.New("estoque_global ausente")
	}
	cp := *c.stock
	return &cp, nil
}

func (c *MemoryStore) SetStock(ctx context.Context, est *EstoqueGlobal) error {
	c.latch.Lock()
	defer c.latch.Unlock()
	cp := *est
	c.stock = &cp
	return nil
}

func (c *MemoryStore) AtomicAdjustStock(ctx context.Context, delta int) (AdjustResult, error) {
	c.latch.Lock()
	defer c.latch.Unlock()
	return c.adjustLocked(delta)
}

func (c *MemoryStore) adjustLocked(delta int) (AdjustResult, error) {
	if c.stock == nil {
		return AdjustContended, errors.New("estoque_global ausente")
	}
	if c.stock.PacotesRestantes+delta < 0 {
		return AdjustInsufficient, nil
	}
	c.stock.PacotesRestantes += delta
	return AdjustOK, nil
}

func (c *MemoryStore) ReserveStock(ctx context.Context, idTransacao string, qty int) (AdjustResult, error) {
	c.latch.Lock()
	defer c.latch.Unlock()
	if c.devolucoes[idTransacao] {
		return AdjustAborted, nil
	}
	if _, ok := c.reservas[idTransacao]; ok {
		return AdjustOK, nil
	}
	res, err := c.adjustLocked(-qty)
	if err != nil || res != AdjustOK {
		return res, err
	}
	c.reservas[idTransacao] = qty
	return AdjustOK, nil
}

func (c *MemoryStore) ReleaseStock(ctx context.Context, idTransacao string, qty int) error {
	c.latch.Lock()
	defer c.latch.Unlock()
	if c.devolucoes[idTransacao] {
		return nil
	}
	c.devolucoes[idTransacao] = true
	if _, ok := c.reservas[idTransacao]; !ok {
		return nil
	}
	_, err := c.adjustLocked(qty)
	return err
}

func (c *MemoryStore) GetInventory(ctx context.Context, idJogador string) (*Inventario, error) {
	c.latch.Lock()
	raw, ok := c.inventories[idJogador]
	c.latch.Unlock()
	if !ok {
		return nil, nil
	}
	inv := &Inventario{}
	if err := json.Unmarshal(raw, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (c *MemoryStore) SetInventory(ctx context.Context, inv *Inventario) error {
	raw, err := json.Marshal(inv)
	if err != nil {
		return err
	}
	c.latch.Lock()
	c.inventories[inv.IDJogador] = raw
	c.latch.Unlock()
	return nil
}

func (c *MemoryStore) AtomicAdjustPacks(ctx context.Context, idJogador string, delta int) (AdjustResult, error) {
	c.latch.Lock()
	defer c.latch.Unlock()
	raw, ok := c.inventories[idJogador]
	if !ok {
		return AdjustInsufficient, nil
	}
	inv := &Inventario{}
	if err := json.Unmarshal(raw, inv); err != nil {
		return AdjustContended, err
	}
	if inv.PacotesDisponiveis+delta < 0 {
		return AdjustInsufficient, nil
	}
	inv.PacotesDisponiveis += delta
	out, err := json.Marshal(inv)
	if err != nil {
		return AdjustContended, err
	}
	c.inventories[idJogador] = out
	return AdjustOK, nil
}

func (c *MemoryStore) AcquireInventoryLock(ctx context.Context, idJogador, idTransacao string) (bool, error) {
	c.latch.Lock()
	defer c.latch.Unlock()
	dono, ok := c.travas[idJogador]
	if ok {
		return dono == idTransacao, nil
	}
	c.travas[idJogador] = idTransacao
	return true, nil
}

func (c *MemoryStore) ReleaseInventoryLock(ctx context.Context, idJogador, idTransacao string) error {
	c.latch.Lock()
	defer c.latch.Unlock()
	if c.travas[idJogador] == idTransacao {
		delete(c.travas, idJogador)
	}
	return nil
}

func (c *MemoryStore) GetTxn(ctx context.Context, idTransacao string) (*Transacao2PC, error) {
	c.latch.Lock()
	raw, ok := c.txns[idTransacao]
	c.latch.Unlock()
	if !ok {
		return nil, nil
	}
	tx := &Transacao2PC{}
	if err := json.Unmarshal(raw, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

func (c *MemoryStore) SetTxn(ctx context.Context, tx *Transacao2PC) error {
	raw, err := json.Marshal(tx)
	if err != nil {
		return err
	}
	c.latch.Lock()
	c.txns[tx.IDTransacao] = raw
	c.latch.Unlock()
	return nil
}

func (c *MemoryStore) CasTxnStatus(ctx context.Context, idTransacao, de, para string) (bool, error) {
	c.latch.Lock()
	defer c.latch.Unlock()
	raw, ok := c.txns[idTransacao]
	if !ok {
		return false, nil
	}
	tx := &Transacao2PC{}
	if err := json.Unmarshal(raw, tx); err != nil {
		return false, err
	}
	if tx.Status != de {
		return false, nil
	}
	tx.Status = para
	out, err := json.Marshal(tx)
	if err != nil {
		return false, err
	}
	c.txns[idTransacao] = out
	return true, nil
}

func (c *MemoryStore) DeleteTxn(ctx context.Context, idTransacao string) error {
	c.latch.Lock()
	delete(c.txns, idTransacao)
	c.latch.Unlock()
	return nil
}

func (c *MemoryStore) PendingTxns(ctx context.Context) ([]*Transacao2PC, error) {
	c.latch.Lock()
	raws := make([][]byte, 0, len(c.txns))
	for _, raw := range c.txns {
		raws = append(raws, raw)
	}
	c.latch.Unlock()
	out := make([]*Transacao2PC, 0, len(raws))
	for _, raw := range raws {
		tx := &Transacao2PC{}
		if err := json.Unmarshal(raw, tx); err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

func (c *MemoryStore) Publish(ctx context.Context, canal string, payload []byte) error {
	c.subLatch.Lock()
	handlers := make([]func(string, []byte), 0, len(c.subs[canal]))
	for _, h := range c.subs[canal] {
		handlers = append(handlers, h)
	}
	c.subLatch.Unlock()
	for _, h := range handlers {
		go h(canal, payload)
	}
	return nil
}

func (c *MemoryStore) Subscribe(ctx context.Context, canal string, handler func(canal string, payload []byte)) (func(), error) {
	c.subLatch.Lock()
	id := c.nextSub
	c.nextSub++
	if c.subs[canal] == nil {
		c.subs[canal] = make(map[int]func(string, []byte))
	}
	c.subs[canal][id] = handler
	c.subLatch.Unlock()
	cancel := func() {
		c.subLatch.Lock()
		delete(c.subs[canal], id)
		c.subLatch.Unlock()
	}
	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return cancel, nil
}

func (c *MemoryStore) Close() error {
	return nil
}
