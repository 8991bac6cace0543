package storage

import (
	"testing"

	"cartas/configs"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInventarioCartas(t *testing.T) {
	inv := &Inventario{IDJogador: "j-1", Cartas: []Carta{
		{IDCarta: "CARTA-a"}, {IDCarta: "CARTA-b"},
	}}
	assert.True(t, inv.TemCarta("CARTA-a"))
	assert.False(t, inv.TemCarta("CARTA-x"))

	c, ok := inv.RemoveCarta("CARTA-a")
	assert.True(t, ok)
	assert.Equal(t, "CARTA-a", c.IDCarta)
	assert.False(t, inv.TemCarta("CARTA-a"))

	_, ok = inv.RemoveCarta("CARTA-a")
	assert.False(t, ok)
}

func TestTransacaoDadosAbrirPacote(t *testing.T) {
	raw := []byte(`{
		"id_transacao": "tx-1",
		"coordenador_url": "http://servidor_1:8101",
		"tipo_operacao": "abrir_pacote",
		"status": "PREPARING",
		"dados": {"id_jogador": "j-1", "quantidade_pacotes": 2}
	}`)
	tx := &Transacao2PC{}
	require.NoError(t, json.Unmarshal(raw, tx))
	require.NotNil(t, tx.AbrirPacote)
	assert.Nil(t, tx.Troca)
	assert.Equal(t, "j-1", tx.AbrirPacote.IDJogador)
	assert.Equal(t, 2, tx.AbrirPacote.QuantidadePacotes)
	assert.Equal(t, []string{"j-1"}, tx.Jogadores())

	out, err := json.Marshal(tx)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"quantidade_pacotes":2`)
}

func TestTransacaoDadosTroca(t *testing.T) {
	raw := []byte(`{
		"id_transacao": "tx-2",
		"coordenador_url": "http://servidor_2:8102",
		"tipo_operacao": "troca_cartas",
		"status": "PREPARING",
		"dados": {
			"id_jogador_a": "j-1", "id_carta_a": "CARTA-a",
			"id_jogador_b": "j-2", "id_carta_b": "CARTA-b"
		}
	}`)
	tx := &Transacao2PC{}
	require.NoError(t, json.Unmarshal(raw, tx))
	require.NotNil(t, tx.Troca)
	assert.Nil(t, tx.AbrirPacote)
	assert.Equal(t, []string{"j-1", "j-2"}, tx.Jogadores())
}

func TestTransacaoRejectsUnknownKind(t *testing.T) {
	raw := []byte(`{
		"id_transacao": "tx-3",
		"coordenador_url": "http://servidor_1:8101",
		"tipo_operacao": "resgatar_premio",
		"status": "PREPARING",
		"dados": {}
	}`)
	err := json.Unmarshal(raw, &Transacao2PC{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), configs.MotivoOperacaoDesconhecida)
}
