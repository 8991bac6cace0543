package participant

import (
	"context"
	"time"

	"cartas/configs"
	"cartas/network"
)

// RunSweeper drives Sweep on a fixed interval until ctx ends. Every node
// runs one; it is what lets a node killed between prepare and decide
// converge after a restart, and what unblocks transactions whose
// coordinator died before writing a decision.
func (c *Manager) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(configs.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// Sweep walks every transaction record in the store and drives this
// node's branch toward the recorded outcome.
//
// Terminal records are re-applied (Decide is replay-safe) and garbage
// collected once old enough. Records still PREPARING stay untouched while
// their coordinator may be alive; past the coordinator timeout, a record
// this node coordinated is presumed aborted, since no decision survived
// the crash.
func (c *Manager) Sweep(ctx context.Context) {
	c.stats.sweep()
	pend, err := c.store.PendingTxns(ctx)
	if err != nil {
		configs.Warn(false, "varredura falhou: "+err.Error())
		return
	}
	for _, rec := range pend {
		switch rec.Status {
		case configs.StatusCommitted, configs.StatusAborted:
			commit := rec.Status == configs.StatusCommitted
			if err := c.Decide(ctx, network.NewResultado(rec, c.urlLocal, commit)); err != nil {
				configs.Warn(false, "reaplicando "+rec.IDTransacao+": "+err.Error())
				continue
			}
			if time.Since(rec.CriadaEm) > configs.RecordGCHorizon {
				if err := c.store.DeleteTxn(ctx, rec.IDTransacao); err != nil {
					configs.Warn(false, "gc de "+rec.IDTransacao+": "+err.Error())
				}
			}
		case configs.StatusPreparing:
			if rec.CoordenadorURL != c.urlLocal {
				// Blocking window: the decision belongs to another
				// coordinator, wait for it.
				continue
			}
			if time.Since(rec.CriadaEm) <= configs.CoordinatorTimeout {
				continue
			}
			trocado, err := c.store.CasTxnStatus(ctx, rec.IDTransacao,
				configs.StatusPreparing, configs.StatusAborted)
			if err != nil {
				configs.Warn(false, "gravando abort presumido: "+err.Error())
				continue
			}
			if !trocado {
				// A decision landed after the scan; the next pass applies it.
				continue
			}
			configs.TxnPrint(rec.IDTransacao, "coordenacao interrompida, presumindo abort")
			rec.Status = configs.StatusAborted
			if err := c.Decide(ctx, network.NewResultado(rec, c.urlLocal, false)); err != nil {
				configs.Warn(false, "abortando "+rec.IDTransacao+": "+err.Error())
			}
		}
	}
}
