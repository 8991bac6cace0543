package storage

import (
	"context"
	"strconv"
	"sync"
	"time"

	"cartas/configs"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Marker and lock expirations. Markers only guard replays of a
// transaction, so they can go once the record itself is gone; lock tokens
// get a backstop TTL in case a node dies holding one.
const (
	markerTTL    = configs.RecordGCHorizon
	lockTokenTTL = 3 * configs.CoordinatorTimeout
)

// RedisStore is the deployment backend of the coordination store. Stock
// updates go through WATCH/MULTI/EXEC so concurrent openings across the
// mesh never oversell, and events ride native pub/sub.
type RedisStore struct {
	rdb *redis.Client

	subLatch sync.Mutex
	subs     []*redis.PubSub
}

func NewRedisStore(ctx context.Context, addr string) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrapf(err, "redis inacessivel em %s", addr)
	}
	return &RedisStore{rdb: rdb}, nil
}

func (c *RedisStore) Bootstrap(ctx context.Context) error {
	raw, err := json.Marshal(&EstoqueGlobal{PacotesRestantes: configs.EstoqueInicial})
	if err != nil {
		return err
	}
	return c.rdb.SetNX(ctx, configs.KeyEstoqueGlobal, raw, 0).Err()
}

func (c *RedisStore) GetStock(ctx context.Context) (*EstoqueGlobal, error) {
	raw, err := c.rdb.Get(ctx, configs.KeyEstoqueGlobal).Bytes()
	if err == redis.Nil {
		return nil, errors.New("estoque_global ausente")
	}
	if err != nil {
		return nil, err
	}
	est := &EstoqueGlobal{}
	if err := json.Unmarshal(raw, est); err != nil {
		return nil, err
	}
	return est, nil
}

func (c *RedisStore) SetStock(ctx context.Context, est *EstoqueGlobal) error {
	raw, err := json.Marshal(est)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, configs.KeyEstoqueGlobal, raw, 0).Err()
}

var errEstoqueInsuficiente = errors.New(configs.MotivoEstoqueEsgotado)

func (c *RedisStore) AtomicAdjustStock(ctx context.Context, delta int) (AdjustResult, error) {
	for i := 0; i < configs.StockRetryBudget; i++ {
		err := c.rdb.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, configs.KeyEstoqueGlobal).Bytes()
			if err != nil {
				return err
			}
			est := &EstoqueGlobal{}
			if err := json.Unmarshal(raw, est); err != nil {
				return err
			}
			if est.PacotesRestantes+delta < 0 {
				return errEstoqueInsuficiente
			}
			est.PacotesRestantes += delta
			out, err := json.Marshal(est)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, configs.KeyEstoqueGlobal, out, 0)
				return nil
			})
			return err
		}, configs.KeyEstoqueGlobal)
		switch {
		case err == nil:
			return AdjustOK, nil
		case errors.Is(err, errEstoqueInsuficiente):
			return AdjustInsufficient, nil
		case errors.Is(err, redis.TxFailedErr):
			time.Sleep(time.Duration(i) * time.Millisecond)
			continue
		default:
			return AdjustContended, err
		}
	}
	return AdjustContended, nil
}

// ReserveStock writes the reservation marker and the stock debit in one
// MULTI/EXEC under a WATCH over both marker keys and the stock, so a
// crash can never leave the marker without the debit or vice versa.
func (c *RedisStore) ReserveStock(ctx context.Context, idTransacao string, qty int) (AdjustResult, error) {
	reserva := chaveReserva(idTransacao)
	devolucao := chaveDevolucao(idTransacao)
	for i := 0; i < configs.StockRetryBudget; i++ {
		res := AdjustOK
		err := c.rdb.Watch(ctx, func(tx *redis.Tx) error {
			devolvido, err := tx.Exists(ctx, devolucao).Result()
			if err != nil {
				return err
			}
			if devolvido > 0 {
				res = AdjustAborted
				return nil
			}
			reservado, err := tx.Exists(ctx, reserva).Result()
			if err != nil {
				return err
			}
			if reservado > 0 {
				return nil
			}
			raw, err := tx.Get(ctx, configs.KeyEstoqueGlobal).Bytes()
			if err != nil {
				return err
			}
			est := &EstoqueGlobal{}
			if err := json.Unmarshal(raw, est); err != nil {
				return err
			}
			if est.PacotesRestantes-qty < 0 {
				res = AdjustInsufficient
				return nil
			}
			est.PacotesRestantes -= qty
			out, err := json.Marshal(est)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, configs.KeyEstoqueGlobal, out, 0)
				pipe.Set(ctx, reserva, strconv.Itoa(qty), markerTTL)
				return nil
			})
			return err
		}, reserva, devolucao, configs.KeyEstoqueGlobal)
		switch {
		case err == nil:
			return res, nil
		case errors.Is(err, redis.TxFailedErr):
			time.Sleep(time.Duration(i) * time.Millisecond)
			continue
		default:
			return AdjustContended, err
		}
	}
	return AdjustContended, nil
}

// ReleaseStock pairs the release marker with the stock credit the same
// way: one transaction writes both or neither.
func (c *RedisStore) ReleaseStock(ctx context.Context, idTransacao string, qty int) error {
	reserva := chaveReserva(idTransacao)
	devolucao := chaveDevolucao(idTransacao)
	for i := 0; i < configs.StockRetryBudget; i++ {
		err := c.rdb.Watch(ctx, func(tx *redis.Tx) error {
			devolvido, err := tx.Exists(ctx, devolucao).Result()
			if err != nil {
				return err
			}
			if devolvido > 0 {
				return nil
			}
			reservado, err := tx.Exists(ctx, reserva).Result()
			if err != nil {
				return err
			}
			var out []byte
			if reservado > 0 {
				raw, err := tx.Get(ctx, configs.KeyEstoqueGlobal).Bytes()
				if err != nil {
					return err
				}
				est := &EstoqueGlobal{}
				if err := json.Unmarshal(raw, est); err != nil {
					return err
				}
				est.PacotesRestantes += qty
				if out, err = json.Marshal(est); err != nil {
					return err
				}
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, devolucao, "1", markerTTL)
				if out != nil {
					pipe.Set(ctx, configs.KeyEstoqueGlobal, out, 0)
				}
				return nil
			})
			return err
		}, reserva, devolucao, configs.KeyEstoqueGlobal)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			time.Sleep(time.Duration(i) * time.Millisecond)
			continue
		default:
			return err
		}
	}
	return errors.Errorf("devolucao de %s esgotou as tentativas", idTransacao)
}

func (c *RedisStore) GetInventory(ctx context.Context, idJogador string) (*Inventario, error) {
	raw, err := c.rdb.Get(ctx, chaveInventario(idJogador)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	inv := &Inventario{}
	if err := json.Unmarshal(raw, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (c *RedisStore) SetInventory(ctx context.Context, inv *Inventario) error {
	raw, err := json.Marshal(inv)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, chaveInventario(inv.IDJogador), raw, 0).Err()
}

var errSemCreditoDePacotes = errors.New("sem pacotes disponiveis")

func (c *RedisStore) AtomicAdjustPacks(ctx context.Context, idJogador string, delta int) (AdjustResult, error) {
	chave := chaveInventario(idJogador)
	for i := 0; i < configs.StockRetryBudget; i++ {
		err := c.rdb.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, chave).Bytes()
			if err == redis.Nil {
				return errSemCreditoDePacotes
			}
			if err != nil {
				return err
			}
			inv := &Inventario{}
			if err := json.Unmarshal(raw, inv); err != nil {
				return err
			}
			if inv.PacotesDisponiveis+delta < 0 {
				return errSemCreditoDePacotes
			}
			inv.PacotesDisponiveis += delta
			out, err := json.Marshal(inv)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, chave, out, 0)
				return nil
			})
			return err
		}, chave)
		switch {
		case err == nil:
			return AdjustOK, nil
		case errors.Is(err, errSemCreditoDePacotes):
			return AdjustInsufficient, nil
		case errors.Is(err, redis.TxFailedErr):
			time.Sleep(time.Duration(i) * time.Millisecond)
			continue
		default:
			return AdjustContended, err
		}
	}
	return AdjustContended, nil
}

func (c *RedisStore) AcquireInventoryLock(ctx context.Context, idJogador, idTransacao string) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, chaveTrava(idJogador), idTransacao, lockTokenTTL).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	dono, err := c.rdb.Get(ctx, chaveTrava(idJogador)).Result()
	if err == redis.Nil {
		// Owner released between SETNX and GET; next prepare retry wins.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return dono == idTransacao, nil
}

func (c *RedisStore) ReleaseInventoryLock(ctx context.Context, idJogador, idTransacao string) error {
	dono, err := c.rdb.Get(ctx, chaveTrava(idJogador)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if dono != idTransacao {
		return nil
	}
	return c.rdb.Del(ctx, chaveTrava(idJogador)).Err()
}

func (c *RedisStore) GetTxn(ctx context.Context, idTransacao string) (*Transacao2PC, error) {
	raw, err := c.rdb.Get(ctx, chaveTransacao(idTransacao)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	tx := &Transacao2PC{}
	if err := json.Unmarshal(raw, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

func (c *RedisStore) SetTxn(ctx context.Context, tx *Transacao2PC) error {
	raw, err := json.Marshal(tx)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, chaveTransacao(tx.IDTransacao), raw, 0).Err()
}

func (c *RedisStore) CasTxnStatus(ctx context.Context, idTransacao, de, para string) (bool, error) {
	chave := chaveTransacao(idTransacao)
	for i := 0; i < configs.StockRetryBudget; i++ {
		trocado := false
		err := c.rdb.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, chave).Bytes()
			if err == redis.Nil {
				return nil
			}
			if err != nil {
				return err
			}
			reg := &Transacao2PC{}
			if err := json.Unmarshal(raw, reg); err != nil {
				return err
			}
			if reg.Status != de {
				return nil
			}
			reg.Status = para
			out, err := json.Marshal(reg)
			if err != nil {
				return err
			}
			if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, chave, out, 0)
				return nil
			}); err != nil {
				return err
			}
			trocado = true
			return nil
		}, chave)
		switch {
		case err == nil:
			return trocado, nil
		case errors.Is(err, redis.TxFailedErr):
			time.Sleep(time.Duration(i) * time.Millisecond)
			continue
		default:
			return false, err
		}
	}
	return false, errors.Errorf("cas do registro %s esgotou as tentativas", idTransacao)
}

func (c *RedisStore) DeleteTxn(ctx context.Context, idTransacao string) error {
	return c.rdb.Del(ctx, chaveTransacao(idTransacao)).Err()
}

func (c *RedisStore) PendingTxns(ctx context.Context) ([]*Transacao2PC, error) {
	var out []*Transacao2PC
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, configs.KeyPrefixTransacao+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			raw, err := c.rdb.Get(ctx, key).Bytes()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return nil, err
			}
			tx := &Transacao2PC{}
			if err := json.Unmarshal(raw, tx); err != nil {
				configs.Warn(false, "registro de transacao ilegivel em "+key)
				continue
			}
			out = append(out, tx)
		}
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}

func (c *RedisStore) Publish(ctx context.Context, canal string, payload []byte) error {
	return c.rdb.Publish(ctx, canal, payload).Err()
}

func (c *RedisStore) Subscribe(ctx context.Context, canal string, handler func(canal string, payload []byte)) (func(), error) {
	pubsub := c.rdb.Subscribe(ctx, canal)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}
	c.subLatch.Lock()
	c.subs = append(c.subs, pubsub)
	c.subLatch.Unlock()
	go func() {
		for msg := range pubsub.Channel() {
			handler(msg.Channel, []byte(msg.Payload))
		}
	}()
	cancel := func() { pubsub.Close() }
	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			pubsub.Close()
		}()
	}
	return cancel, nil
}

func (c *RedisStore) Close() error {
	c.subLatch.Lock()
	for _, ps := range c.subs {
		ps.Close()
	}
	c.subs = nil
	c.subLatch.Unlock()
	return c.rdb.Close()
}
