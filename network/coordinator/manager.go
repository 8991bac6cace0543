package coordinator

import (
	"context"

	"cartas/configs"
	"cartas/network/participant"
	"cartas/storage"
)

// Manager is the coordinator half of the transaction engine. Any node
// becomes the coordinator of the transactions its clients start; the peer
// list is the full static mesh, this node included.
type Manager struct {
	store    storage.Store
	local    *participant.Manager
	journal  *Journal
	conn     *Cliente
	urlLocal string
	peers    []string
}

func NewManager(store storage.Store, local *participant.Manager, journal *Journal, peers []string) *Manager {
	return &Manager{
		store:    store,
		local:    local,
		journal:  journal,
		conn:     NewCliente(),
		urlLocal: local.URL(),
		peers:    append([]string(nil), peers...),
	}
}

func (c *Manager) URL() string {
	return c.urlLocal
}

func (c *Manager) Peers() []string {
	return append([]string(nil), c.peers...)
}

// RecoverJournal compensates pack debits whose transaction outcome was
// lost in a crash. Run once at boot, before serving traffic: the client
// of an unresolved debit never saw a success, so the pack goes back.
func (c *Manager) RecoverJournal(ctx context.Context) error {
	for _, deb := range c.journal.Pendentes() {
		res, err := c.store.AtomicAdjustPacks(ctx, deb.IDJogador, deb.Quantidade)
		if err != nil {
			return err
		}
		if res != storage.AdjustOK {
			configs.Warn(false, "debito de "+deb.IDJogador+" sem inventario para compensar")
		}
		if err := c.journal.RegistrarResolucao(deb.IDDebito); err != nil {
			return err
		}
		configs.LPrintf("debito de pacote compensado para %s (+%d)", deb.IDJogador, deb.Quantidade)
	}
	return nil
}
