package participant

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"cartas/cards"
	"cartas/configs"
	"cartas/network"
	"cartas/storage"

	"github.com/pkg/errors"
)

// Manager is the participant half of the transaction engine. Every node
// runs one; it votes on prepare requests and applies decisions, for
// transactions coordinated locally and remotely alike.
type Manager struct {
	store    storage.Store
	urlLocal string
	stats    *Stats
	locks    *playerLocks
	branches sync.Map // id_transacao -> *TXNBranch
	broken   int32
}

func NewManager(store storage.Store, urlLocal string) *Manager {
	return &Manager{
		store:    store,
		urlLocal: urlLocal,
		stats:    newStats(urlLocal),
		locks:    newPlayerLocks(),
	}
}

func (c *Manager) URL() string {
	return c.urlLocal
}

// Break makes the node refuse peer traffic, simulating a crash. Recover
// undoes it. Used by failure tests and the fault-injection endpoints.
func (c *Manager) Break() {
	atomic.StoreInt32(&c.broken, 1)
}

func (c *Manager) Recover() {
	atomic.StoreInt32(&c.broken, 0)
}

func (c *Manager) Broken() bool {
	return atomic.LoadInt32(&c.broken) == 1
}

// Prepare runs the vote phase for a transaction and returns this node's
// vote. It never returns an error: any failure becomes a VOTE_ABORT.
func (c *Manager) Prepare(ctx context.Context, tx *storage.Transacao2PC) *network.Voto2PC {
	inicio := time.Now()
	defer c.stats.observePrepare(tx.TipoOperacao, inicio)

	var voto *network.Voto2PC
	switch tx.TipoOperacao {
	case configs.OpAbrirPacote:
		voto = c.prepareAbrirPacote(ctx, tx)
	case configs.OpTrocaCartas:
		voto = c.prepareTroca(ctx, tx)
	default:
		voto = network.NewVotoAbort(tx.IDTransacao, c.urlLocal, configs.MotivoOperacaoDesconhecida)
	}
	if voto.Commit() {
		c.branches.Store(tx.IDTransacao, newBranch(tx))
	}
	c.stats.vote(tx.TipoOperacao, voto.Voto)
	configs.TxnPrint(tx.IDTransacao, "voto %s (%s)", voto.Voto, voto.Mensagem)
	return voto
}

// prepareAbrirPacote reserves the pack stock. The reservation is guarded
// per transaction inside the store, so only the first prepare of a
// transaction debits the stock no matter how many participants run this.
// To keep the debit on a single owner the branch executed on the
// coordinator's own node does it; the others witness and vote yes.
func (c *Manager) prepareAbrirPacote(ctx context.Context, tx *storage.Transacao2PC) *network.Voto2PC {
	dados := tx.AbrirPacote
	if dados == nil || dados.QuantidadePacotes <= 0 {
		return network.NewVotoAbort(tx.IDTransacao, c.urlLocal, "quantidade de pacotes invalida")
	}
	ok, err := c.store.AcquireInventoryLock(ctx, dados.IDJogador, tx.IDTransacao)
	if err != nil {
		return network.NewVotoAbort(tx.IDTransacao, c.urlLocal, err.Error())
	}
	if !ok {
		return network.NewVotoAbort(tx.IDTransacao, c.urlLocal, configs.MotivoInventarioBloqueado)
	}
	if tx.CoordenadorURL != c.urlLocal {
		if _, err := c.store.GetStock(ctx); err != nil {
			return network.NewVotoAbort(tx.IDTransacao, c.urlLocal, err.Error())
		}
		return network.NewVotoCommit(tx.IDTransacao, c.urlLocal)
	}
	res, err := c.store.ReserveStock(ctx, tx.IDTransacao, dados.QuantidadePacotes)
	if err != nil {
		return network.NewVotoAbort(tx.IDTransacao, c.urlLocal, err.Error())
	}
	if res != storage.AdjustOK {
		motivo := res.Motivo()
		if motivo == "" {
			motivo = configs.MotivoEstoqueContencao
		}
		return network.NewVotoAbort(tx.IDTransacao, c.urlLocal, motivo)
	}
	return network.NewVotoCommit(tx.IDTransacao, c.urlLocal)
}

// prepareTroca validates card ownership and pins both inventories with
// lock tokens until the decision lands.
func (c *Manager) prepareTroca(ctx context.Context, tx *storage.Transacao2PC) *network.Voto2PC {
	dados := tx.Troca
	if dados == nil || dados.IDJogadorA == dados.IDJogadorB {
		return network.NewVotoAbort(tx.IDTransacao, c.urlLocal, "detalhes de troca invalidos")
	}
	release := c.locks.lockAll([]string{dados.IDJogadorA, dados.IDJogadorB})
	defer release()

	for _, j := range []string{dados.IDJogadorA, dados.IDJogadorB} {
		ok, err := c.store.AcquireInventoryLock(ctx, j, tx.IDTransacao)
		if err != nil {
			return network.NewVotoAbort(tx.IDTransacao, c.urlLocal, err.Error())
		}
		if !ok {
			return network.NewVotoAbort(tx.IDTransacao, c.urlLocal, configs.MotivoInventarioBloqueado)
		}
	}

	for _, par := range []struct{ jogador, carta string }{
		{dados.IDJogadorA, dados.IDCartaA},
		{dados.IDJogadorB, dados.IDCartaB},
	} {
		inv, err := c.store.GetInventory(ctx, par.jogador)
		if err != nil {
			return network.NewVotoAbort(tx.IDTransacao, c.urlLocal, err.Error())
		}
		if inv == nil || !inv.TemCarta(par.carta) {
			return network.NewVotoAbort(tx.IDTransacao, c.urlLocal,
				configs.MotivoCartaAusente+" "+par.carta)
		}
	}
	return network.NewVotoCommit(tx.IDTransacao, c.urlLocal)
}

// Decide applies a coordinator's decision. It is replay-safe: a decision
// delivered twice, or re-driven by the recovery sweeper after a restart,
// converges to the same store state. A nil return is the ACK.
func (c *Manager) Decide(ctx context.Context, res *network.Resultado2PC) error {
	if res.Decisao != configs.GlobalCommit && res.Decisao != configs.GlobalAbort {
		return errors.Errorf("decisao desconhecida: %q", res.Decisao)
	}
	var tx *storage.Transacao2PC
	var branch *TXNBranch
	if b, ok := c.branches.Load(res.IDTransacao); ok {
		branch = b.(*TXNBranch)
		if branch.Applied() {
			return nil
		}
		tx = branch.Tx
	} else {
		rec, err := c.store.GetTxn(ctx, res.IDTransacao)
		if err != nil {
			return err
		}
		if rec == nil {
			// Already finalized and garbage collected.
			return nil
		}
		tx = rec
	}

	release := c.locks.lockAll(tx.Jogadores())
	defer release()

	var err error
	if res.Decisao == configs.GlobalCommit {
		err = c.applyCommit(ctx, tx)
	} else {
		err = c.applyAbort(ctx, tx)
	}
	if err != nil {
		return err
	}
	for _, j := range tx.Jogadores() {
		if lerr := c.store.ReleaseInventoryLock(ctx, j, tx.IDTransacao); lerr != nil {
			configs.Warn(false, "falha liberando trava de "+j+": "+lerr.Error())
		}
	}
	if branch != nil {
		branch.markApplied()
	}
	c.branches.Delete(tx.IDTransacao)
	c.stats.decision(tx.TipoOperacao, res.Decisao)
	configs.TxnPrint(tx.IDTransacao, "decisao %s aplicada", res.Decisao)
	return nil
}

func (c *Manager) applyCommit(ctx context.Context, tx *storage.Transacao2PC) error {
	switch tx.TipoOperacao {
	case configs.OpAbrirPacote:
		return c.commitAbrirPacote(ctx, tx)
	case configs.OpTrocaCartas:
		return c.commitTroca(ctx, tx)
	}
	return errors.Errorf("%s: %q", configs.MotivoOperacaoDesconhecida, tx.TipoOperacao)
}

// commitAbrirPacote mints the pack's cards and appends them. Minting is
// deterministic in the transaction, so every replica of this commit
// writes the same cards, and the presence check makes replays no-ops.
func (c *Manager) commitAbrirPacote(ctx context.Context, tx *storage.Transacao2PC) error {
	dados := tx.AbrirPacote
	inv, err := c.store.GetInventory(ctx, dados.IDJogador)
	if err != nil {
		return err
	}
	if inv == nil {
		inv = &storage.Inventario{IDJogador: dados.IDJogador}
	}
	cartas := cards.AbrirPacotes(tx.IDTransacao, dados.IDJogador, dados.QuantidadePacotes)
	if inv.TemCarta(cartas[0].IDCarta) {
		return nil
	}
	inv.Cartas = append(inv.Cartas, cartas...)
	return c.store.SetInventory(ctx, inv)
}

// commitTroca swaps the two cards one leg at a time, additions before
// removals. Every step is a presence-checked no-op on replay, so a
// decide re-driven after a crash between writes converges from any
// intermediate state without losing or duplicating a card.
func (c *Manager) commitTroca(ctx context.Context, tx *storage.Transacao2PC) error {
	dados := tx.Troca
	invA, err := c.store.GetInventory(ctx, dados.IDJogadorA)
	if err != nil {
		return err
	}
	invB, err := c.store.GetInventory(ctx, dados.IDJogadorB)
	if err != nil {
		return err
	}
	if invA == nil || invB == nil {
		return errors.New("inventario ausente na efetivacao da troca")
	}
	if carta, ok := acharCarta(dados.IDCartaA, invA, invB); ok && !invB.TemCarta(dados.IDCartaA) {
		invB.Cartas = append(invB.Cartas, carta)
		if err := c.store.SetInventory(ctx, invB); err != nil {
			return err
		}
	}
	if carta, ok := acharCarta(dados.IDCartaB, invA, invB); ok && !invA.TemCarta(dados.IDCartaB) {
		invA.Cartas = append(invA.Cartas, carta)
		if err := c.store.SetInventory(ctx, invA); err != nil {
			return err
		}
	}
	if _, ok := invA.RemoveCarta(dados.IDCartaA); ok {
		if err := c.store.SetInventory(ctx, invA); err != nil {
			return err
		}
	}
	if _, ok := invB.RemoveCarta(dados.IDCartaB); ok {
		if err := c.store.SetInventory(ctx, invB); err != nil {
			return err
		}
	}
	return nil
}

// acharCarta looks a card up across the trade's two inventories.
func acharCarta(idCarta string, invs ...*storage.Inventario) (storage.Carta, bool) {
	for _, inv := range invs {
		for _, carta := range inv.Cartas {
			if carta.IDCarta == idCarta {
				return carta, true
			}
		}
	}
	return storage.Carta{}, false
}

// applyAbort undoes the prepare-phase effects. The stock release is
// guarded inside the store, so every participant may call it and the
// packs go back exactly once.
func (c *Manager) applyAbort(ctx context.Context, tx *storage.Transacao2PC) error {
	if tx.TipoOperacao == configs.OpAbrirPacote {
		return c.store.ReleaseStock(ctx, tx.IDTransacao, tx.AbrirPacote.QuantidadePacotes)
	}
	return nil
}
