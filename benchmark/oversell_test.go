package benchmark

import (
	"context"
	"testing"
	"time"

	"cartas/configs"
	"cartas/network/mesh"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Sixty players race for fifty packs across five nodes. Exactly fifty
// succeed, the stock ends at zero, and nobody is refused for any reason
// other than exhaustion.
func TestCorridaNuncaVendeAlemDoEstoque(t *testing.T) {
	if testing.Short() {
		t.Skip("corrida completa demora")
	}
	cluster, err := mesh.TestKit(5)
	require.NoError(t, err)
	defer cluster.Close()
	ctx := context.Background()
	require.NoError(t, cluster.Store.Bootstrap(ctx))

	excedente := 10
	b := &CorridaPacotes{Cluster: cluster}
	res, err := b.Run(configs.EstoqueInicial + excedente)
	require.NoError(t, err)

	assert.EqualValues(t, configs.EstoqueInicial, res.Sucessos)
	assert.EqualValues(t, excedente, res.Esgotados)
	assert.EqualValues(t, 0, res.Outros)

	est, err := cluster.Store.GetStock(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, est.PacotesRestantes)

	// Every record settles once the decisions drain.
	require.Eventually(t, func() bool {
		pend, perr := cluster.Store.PendingTxns(ctx)
		require.NoError(t, perr)
		return len(pend) == 0
	}, 10*time.Second, 100*time.Millisecond)
}
