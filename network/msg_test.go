package network

import (
	"testing"

	"cartas/configs"
	"cartas/storage"

	"github.com/stretchr/testify/assert"
)

func TestEndpointPorOperacao(t *testing.T) {
	assert.Equal(t, EndpointPreparePacote, PrepareEndpoint(configs.OpAbrirPacote))
	assert.Equal(t, EndpointDecidePacote, DecideEndpoint(configs.OpAbrirPacote))
	assert.Equal(t, EndpointPrepareTroca, PrepareEndpoint(configs.OpTrocaCartas))
	assert.Equal(t, EndpointDecideTroca, DecideEndpoint(configs.OpTrocaCartas))
}

func TestVotoCommit(t *testing.T) {
	assert.True(t, NewVotoCommit("tx-1", "http://s1:8000").Commit())
	assert.False(t, NewVotoAbort("tx-1", "http://s1:8000", configs.MotivoEstoqueEsgotado).Commit())
	var ausente *Voto2PC
	assert.False(t, ausente.Commit())
	assert.False(t, (&Voto2PC{Voto: "talvez"}).Commit())
}

func TestNewResultado(t *testing.T) {
	tx := &storage.Transacao2PC{IDTransacao: "tx-9", TipoOperacao: configs.OpAbrirPacote}
	assert.Equal(t, configs.GlobalCommit, NewResultado(tx, "http://s1:8000", true).Decisao)
	assert.Equal(t, configs.GlobalAbort, NewResultado(tx, "http://s1:8000", false).Decisao)
}
