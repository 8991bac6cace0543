package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"cartas/configs"

	"github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rs, err := NewRedisStore(context.Background(), mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { rs.Close() })
	return map[string]Store{
		"memoria": NewMemoryStore(),
		"redis":   rs,
	}
}

func TestBootstrapOnlySeedsOnce(t *testing.T) {
	for name, cs := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, cs.Bootstrap(ctx))
			require.NoError(t, cs.SetStock(ctx, &EstoqueGlobal{PacotesRestantes: 7}))
			require.NoError(t, cs.Bootstrap(ctx))
			est, err := cs.GetStock(ctx)
			require.NoError(t, err)
			assert.Equal(t, 7, est.PacotesRestantes)
		})
	}
}

func TestAtomicAdjustStock(t *testing.T) {
	for name, cs := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, cs.Bootstrap(ctx))

			res, err := cs.AtomicAdjustStock(ctx, -20)
			require.NoError(t, err)
			assert.Equal(t, AdjustOK, res)

			res, err = cs.AtomicAdjustStock(ctx, -40)
			require.NoError(t, err)
			assert.Equal(t, AdjustInsufficient, res)

			est, err := cs.GetStock(ctx)
			require.NoError(t, err)
			assert.Equal(t, configs.EstoqueInicial-20, est.PacotesRestantes)
		})
	}
}

func TestReserveAndReleaseStock(t *testing.T) {
	for name, cs := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, cs.Bootstrap(ctx))

			res, err := cs.ReserveStock(ctx, "tx-1", 1)
			require.NoError(t, err)
			assert.Equal(t, AdjustOK, res)

			// Replayed prepare must not debit twice.
			res, err = cs.ReserveStock(ctx, "tx-1", 1)
			require.NoError(t, err)
			assert.Equal(t, AdjustOK, res)

			est, err := cs.GetStock(ctx)
			require.NoError(t, err)
			assert.Equal(t, configs.EstoqueInicial-1, est.PacotesRestantes)

			require.NoError(t, cs.ReleaseStock(ctx, "tx-1", 1))
			require.NoError(t, cs.ReleaseStock(ctx, "tx-1", 1))
			est, err = cs.GetStock(ctx)
			require.NoError(t, err)
			assert.Equal(t, configs.EstoqueInicial, est.PacotesRestantes)

			// A reserve landing after the release was decided is refused.
			res, err = cs.ReserveStock(ctx, "tx-1", 1)
			require.NoError(t, err)
			assert.Equal(t, AdjustAborted, res)
			est, err = cs.GetStock(ctx)
			require.NoError(t, err)
			assert.Equal(t, configs.EstoqueInicial, est.PacotesRestantes)
		})
	}
}

func TestReserveStockNeverOversells(t *testing.T) {
	for name, cs := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, cs.Bootstrap(ctx))

			const tentativas = 60
			results := make([]AdjustResult, tentativas)
			var wg sync.WaitGroup
			for i := 0; i < tentativas; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					res, err := cs.ReserveStock(ctx, fmt.Sprintf("tx-%d", i), 1)
					assert.NoError(t, err)
					results[i] = res
				}(i)
			}
			wg.Wait()

			ok, negado := 0, 0
			for _, r := range results {
				switch r {
				case AdjustOK:
					ok++
				case AdjustInsufficient:
					negado++
				}
			}
			assert.Equal(t, configs.EstoqueInicial, ok)
			assert.Equal(t, tentativas-configs.EstoqueInicial, negado)
			est, err := cs.GetStock(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, est.PacotesRestantes)
		})
	}
}

// Reserve and release racing on the same transaction may land in either
// order, but the stock always comes back whole: the marker and its stock
// adjustment move together or not at all.
func TestReserveReleaseRaceKeepsStockConsistent(t *testing.T) {
	for name, cs := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, cs.Bootstrap(ctx))

			const rodadas = 20
			var wg sync.WaitGroup
			for i := 0; i < rodadas; i++ {
				id := fmt.Sprintf("tx-%d", i)
				wg.Add(2)
				go func() {
					defer wg.Done()
					_, err := cs.ReserveStock(ctx, id, 1)
					assert.NoError(t, err)
				}()
				go func() {
					defer wg.Done()
					assert.NoError(t, cs.ReleaseStock(ctx, id, 1))
				}()
			}
			wg.Wait()

			est, err := cs.GetStock(ctx)
			require.NoError(t, err)
			assert.Equal(t, configs.EstoqueInicial, est.PacotesRestantes)
		})
	}
}

func TestAtomicAdjustPacks(t *testing.T) {
	for name, cs := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, cs.SetInventory(ctx, &Inventario{
				IDJogador: "j-1", PacotesDisponiveis: 1,
			}))

			res, err := cs.AtomicAdjustPacks(ctx, "j-1", -1)
			require.NoError(t, err)
			assert.Equal(t, AdjustOK, res)

			res, err = cs.AtomicAdjustPacks(ctx, "j-1", -1)
			require.NoError(t, err)
			assert.Equal(t, AdjustInsufficient, res)

			res, err = cs.AtomicAdjustPacks(ctx, "j-1", 2)
			require.NoError(t, err)
			assert.Equal(t, AdjustOK, res)

			inv, err := cs.GetInventory(ctx, "j-1")
			require.NoError(t, err)
			assert.Equal(t, 2, inv.PacotesDisponiveis)

			res, err = cs.AtomicAdjustPacks(ctx, "fantasma", 1)
			require.NoError(t, err)
			assert.Equal(t, AdjustInsufficient, res)
		})
	}
}

func TestAtomicAdjustPacksNeverDoubleSpends(t *testing.T) {
	for name, cs := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, cs.SetInventory(ctx, &Inventario{
				IDJogador: "j-1", PacotesDisponiveis: 1,
			}))

			const tentativas = 8
			results := make([]AdjustResult, tentativas)
			var wg sync.WaitGroup
			for i := 0; i < tentativas; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					res, err := cs.AtomicAdjustPacks(ctx, "j-1", -1)
					assert.NoError(t, err)
					results[i] = res
				}(i)
			}
			wg.Wait()

			ok := 0
			for _, r := range results {
				if r == AdjustOK {
					ok++
				}
			}
			assert.Equal(t, 1, ok)
			inv, err := cs.GetInventory(ctx, "j-1")
			require.NoError(t, err)
			assert.Equal(t, 0, inv.PacotesDisponiveis)
		})
	}
}

func TestInventoryRoundTrip(t *testing.T) {
	for name, cs := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			inv, err := cs.GetInventory(ctx, "desconhecido")
			require.NoError(t, err)
			assert.Nil(t, inv)

			in := &Inventario{
				IDJogador:          "j-1",
				PacotesDisponiveis: 1,
				Cartas: []Carta{{
					IDCarta: "CARTA-1", Nome: "Pedra", Tipo: "pedra",
					Skin: "Granito", Raridade: "Comum",
				}},
			}
			require.NoError(t, cs.SetInventory(ctx, in))
			out, err := cs.GetInventory(ctx, "j-1")
			require.NoError(t, err)
			assert.Equal(t, in, out)

			// The returned value must not alias the stored one.
			out.PacotesDisponiveis = 99
			again, err := cs.GetInventory(ctx, "j-1")
			require.NoError(t, err)
			assert.Equal(t, 1, again.PacotesDisponiveis)
		})
	}
}

func TestInventoryLockTokens(t *testing.T) {
	for name, cs := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ok, err := cs.AcquireInventoryLock(ctx, "j-1", "tx-a")
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = cs.AcquireInventoryLock(ctx, "j-1", "tx-b")
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = cs.AcquireInventoryLock(ctx, "j-1", "tx-a")
			require.NoError(t, err)
			assert.True(t, ok)

			// Only the owner releases.
			require.NoError(t, cs.ReleaseInventoryLock(ctx, "j-1", "tx-b"))
			ok, err = cs.AcquireInventoryLock(ctx, "j-1", "tx-b")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, cs.ReleaseInventoryLock(ctx, "j-1", "tx-a"))
			ok, err = cs.AcquireInventoryLock(ctx, "j-1", "tx-b")
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestTxnRecords(t *testing.T) {
	for name, cs := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			tx, err := cs.GetTxn(ctx, "nada")
			require.NoError(t, err)
			assert.Nil(t, tx)

			in := &Transacao2PC{
				IDTransacao:    "tx-1",
				CoordenadorURL: "http://servidor_1:8101",
				TipoOperacao:   configs.OpAbrirPacote,
				Status:         configs.StatusPreparing,
				CriadaEm:       time.Now().UTC().Truncate(time.Second),
				AbrirPacote:    &DadosAbrirPacote{IDJogador: "j-1", QuantidadePacotes: 1},
			}
			require.NoError(t, cs.SetTxn(ctx, in))
			out, err := cs.GetTxn(ctx, "tx-1")
			require.NoError(t, err)
			assert.Equal(t, in, out)

			pend, err := cs.PendingTxns(ctx)
			require.NoError(t, err)
			require.Len(t, pend, 1)
			assert.Equal(t, "tx-1", pend[0].IDTransacao)

			require.NoError(t, cs.DeleteTxn(ctx, "tx-1"))
			out, err = cs.GetTxn(ctx, "tx-1")
			require.NoError(t, err)
			assert.Nil(t, out)
		})
	}
}

func TestCasTxnStatus(t *testing.T) {
	for name, cs := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ok, err := cs.CasTxnStatus(ctx, "nada", configs.StatusPreparing, configs.StatusAborted)
			require.NoError(t, err)
			assert.False(t, ok)

			tx := &Transacao2PC{
				IDTransacao:    "tx-1",
				CoordenadorURL: "http://servidor_1:8101",
				TipoOperacao:   configs.OpAbrirPacote,
				Status:         configs.StatusCommitted,
				CriadaEm:       time.Now().UTC().Truncate(time.Second),
				AbrirPacote:    &DadosAbrirPacote{IDJogador: "j-1", QuantidadePacotes: 1},
			}
			require.NoError(t, cs.SetTxn(ctx, tx))

			// A decided record cannot be flipped back by a presumed abort.
			ok, err = cs.CasTxnStatus(ctx, "tx-1", configs.StatusPreparing, configs.StatusAborted)
			require.NoError(t, err)
			assert.False(t, ok)
			out, err := cs.GetTxn(ctx, "tx-1")
			require.NoError(t, err)
			assert.Equal(t, configs.StatusCommitted, out.Status)

			ok, err = cs.CasTxnStatus(ctx, "tx-1", configs.StatusCommitted, configs.StatusAborted)
			require.NoError(t, err)
			assert.True(t, ok)
			out, err = cs.GetTxn(ctx, "tx-1")
			require.NoError(t, err)
			assert.Equal(t, configs.StatusAborted, out.Status)
		})
	}
}

func TestPubSub(t *testing.T) {
	for name, cs := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			got := make(chan []byte, 1)
			cancel, err := cs.Subscribe(ctx, configs.CanalEventosGerais, func(canal string, payload []byte) {
				assert.Equal(t, configs.CanalEventosGerais, canal)
				got <- payload
			})
			require.NoError(t, err)
			defer cancel()

			payload, err := json.Marshal(map[string]string{"tipo": "novo_jogador"})
			require.NoError(t, err)
			require.NoError(t, cs.Publish(ctx, configs.CanalEventosGerais, payload))

			select {
			case raw := <-got:
				assert.JSONEq(t, string(payload), string(raw))
			case <-time.After(2 * time.Second):
				t.Fatal("evento nao entregue")
			}
		})
	}
}
