package mesh

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"cartas/configs"
	"cartas/network"
	"cartas/storage"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doJSON(t *testing.T, method, url string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	decoded := map[string]interface{}{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func bootCluster(t *testing.T, n int) *Cluster {
	t.Helper()
	cluster, err := TestKit(n)
	require.NoError(t, err)
	t.Cleanup(cluster.Close)
	require.NoError(t, cluster.Store.Bootstrap(context.Background()))
	return cluster
}

func entrar(t *testing.T, baseURL, nome string) string {
	t.Helper()
	status, body := doJSON(t, http.MethodPost, baseURL+"/jogador/entrar?nome_jogador="+nome, nil)
	require.Equal(t, http.StatusOK, status)
	jogador := body["jogador"].(map[string]interface{})
	return jogador["id_jogador"].(string)
}

func TestStatusEServidores(t *testing.T) {
	cluster := bootCluster(t, 3)

	status, body := doJSON(t, http.MethodGet, cluster.Nodes[0].URL+"/", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "online", body["status"])
	assert.EqualValues(t, configs.EstoqueInicial, body["estoque_global"])

	status, body = doJSON(t, http.MethodGet, cluster.Nodes[1].URL+"/servidores", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["servidores"], 3)
}

func TestEntrarEVerInventario(t *testing.T) {
	cluster := bootCluster(t, 2)

	status, body := doJSON(t, http.MethodPost,
		cluster.Nodes[0].URL+"/jogador/entrar?nome_jogador=ana", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Bem-vindo, ana!", body["mensagem"])
	id := body["jogador"].(map[string]interface{})["id_jogador"].(string)
	require.NotEmpty(t, id)

	// The player is visible from any node of the mesh.
	status, inv := doJSON(t, http.MethodGet, cluster.Nodes[1].URL+"/inventario/"+id, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, configs.PacotesIniciais, inv["pacotes_disponiveis"])

	status, body = doJSON(t, http.MethodGet, cluster.Nodes[0].URL+"/inventario/fantasma", nil)
	require.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Jogador não encontrado.", body["detail"])

	status, _ = doJSON(t, http.MethodPost, cluster.Nodes[0].URL+"/jogador/entrar", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAbrirPacote(t *testing.T) {
	cluster := bootCluster(t, 3)
	id := entrar(t, cluster.Nodes[0].URL, "ana")

	// Any node serves the open, not only the one the player joined through.
	status, body := doJSON(t, http.MethodPost, cluster.Nodes[1].URL+"/pacote/abrir/"+id, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "sucesso", body["status"])
	assert.Equal(t, "Pacote aberto com sucesso! Cartas adicionadas ao inventário.", body["mensagem"])
	atualizado := body["inventario_atualizado"].(map[string]interface{})
	assert.EqualValues(t, 0, atualizado["pacotes_disponiveis"])
	assert.Len(t, atualizado["cartas"], configs.CartasPorPacote)

	status, body = doJSON(t, http.MethodPost, cluster.Nodes[1].URL+"/pacote/abrir/"+id, nil)
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "O jogador não possui pacotes disponíveis para abrir.", body["detail"])

	status, body = doJSON(t, http.MethodPost, cluster.Nodes[2].URL+"/pacote/abrir/fantasma", nil)
	require.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Jogador não encontrado.", body["detail"])
}

func TestAbrirPacoteEstoqueEsgotado(t *testing.T) {
	cluster := bootCluster(t, 2)
	ctx := context.Background()
	require.NoError(t, cluster.Store.SetStock(ctx, &storage.EstoqueGlobal{PacotesRestantes: 0}))
	id := entrar(t, cluster.Nodes[0].URL, "ana")

	status, body := doJSON(t, http.MethodPost, cluster.Nodes[0].URL+"/pacote/abrir/"+id, nil)
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Estoque global de pacotes esgotado.", body["detail"])
}

func primeiraCarta(t *testing.T, baseURL, id string) string {
	t.Helper()
	status, inv := doJSON(t, http.MethodGet, baseURL+"/inventario/"+id, nil)
	require.Equal(t, http.StatusOK, status)
	cartas := inv["cartas"].([]interface{})
	require.NotEmpty(t, cartas)
	return cartas[0].(map[string]interface{})["id_carta"].(string)
}

func TestTrocaDeCartas(t *testing.T) {
	cluster := bootCluster(t, 3)
	idA := entrar(t, cluster.Nodes[0].URL, "ana")
	idB := entrar(t, cluster.Nodes[1].URL, "bia")
	status, _ := doJSON(t, http.MethodPost, cluster.Nodes[0].URL+"/pacote/abrir/"+idA, nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = doJSON(t, http.MethodPost, cluster.Nodes[1].URL+"/pacote/abrir/"+idB, nil)
	require.Equal(t, http.StatusOK, status)
	cartaA := primeiraCarta(t, cluster.Nodes[0].URL, idA)
	cartaB := primeiraCarta(t, cluster.Nodes[1].URL, idB)

	// A third node coordinates the trade between the two.
	url := fmt.Sprintf("%s/inventario/troca/%s/%s?id_carta_a=%s&id_carta_b=%s",
		cluster.Nodes[2].URL, idA, idB, cartaA, cartaB)
	status, body := doJSON(t, http.MethodPost, url, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Troca de cartas concluída com sucesso!", body["mensagem"])

	ctx := context.Background()
	invA, err := cluster.Store.GetInventory(ctx, idA)
	require.NoError(t, err)
	invB, err := cluster.Store.GetInventory(ctx, idB)
	require.NoError(t, err)
	assert.True(t, invA.TemCarta(cartaB))
	assert.True(t, invB.TemCarta(cartaA))
	assert.False(t, invA.TemCarta(cartaA))
}

func TestTrocaCartaInexistente(t *testing.T) {
	cluster := bootCluster(t, 2)
	idA := entrar(t, cluster.Nodes[0].URL, "ana")
	idB := entrar(t, cluster.Nodes[0].URL, "bia")

	url := fmt.Sprintf("%s/inventario/troca/%s/%s?id_carta_a=CARTA-x&id_carta_b=CARTA-y",
		cluster.Nodes[1].URL, idA, idB)
	status, body := doJSON(t, http.MethodPost, url, nil)
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Um dos jogadores não possui a carta oferecida.", body["detail"])
}

func TestPrepareRejeitaOperacaoDesconhecida(t *testing.T) {
	cluster := bootCluster(t, 1)

	req := map[string]interface{}{
		"id_transacao":    "tx-1",
		"coordenador_url": cluster.Nodes[0].URL,
		"tipo_operacao":   "excluir_conta",
		"dados":           map[string]interface{}{},
	}
	status, _ := doJSON(t, http.MethodPost,
		cluster.Nodes[0].URL+network.EndpointPreparePacote, req)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestDecideProcessaEReplica(t *testing.T) {
	cluster := bootCluster(t, 1)
	ctx := context.Background()
	require.NoError(t, cluster.Store.SetInventory(ctx, &storage.Inventario{IDJogador: "j-1"}))
	tx := &storage.Transacao2PC{
		IDTransacao:    "tx-decide",
		CoordenadorURL: cluster.Nodes[0].URL,
		TipoOperacao:   configs.OpAbrirPacote,
		Status:         configs.StatusCommitted,
		AbrirPacote:    &storage.DadosAbrirPacote{IDJogador: "j-1", QuantidadePacotes: 1},
	}
	require.NoError(t, cluster.Store.SetTxn(ctx, tx))

	res := network.NewResultado(tx, cluster.Nodes[0].URL, true)
	for i := 0; i < 2; i++ {
		status, body := doJSON(t, http.MethodPost,
			cluster.Nodes[0].URL+network.EndpointDecidePacote, res)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "Decisão GLOBAL_COMMIT processada.", body["mensagem"])
	}

	// Replayed decides mint the cards exactly once.
	inv, err := cluster.Store.GetInventory(ctx, "j-1")
	require.NoError(t, err)
	assert.Len(t, inv.Cartas, configs.CartasPorPacote)
}

func TestPareamentoEJogada(t *testing.T) {
	cluster := bootCluster(t, 2)
	ctx := context.Background()

	eventos := make(chan map[string]interface{}, 4)
	cancel, err := cluster.Store.Subscribe(ctx, configs.CanalEventosGerais,
		func(canal string, payload []byte) {
			ev := map[string]interface{}{}
			if json.Unmarshal(payload, &ev) == nil {
				eventos <- ev
			}
		})
	require.NoError(t, err)
	defer cancel()

	status, body := doJSON(t, http.MethodPost, cluster.Nodes[1].URL+"/pareamento/solicitar",
		PareamentoSolicitacao{
			IDJogadorSolicitante: "j-1",
			ServidorSolicitante:  cluster.Nodes[0].URL,
		})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["aceito"])
	idPartida := body["id_partida"].(string)
	assert.True(t, strings.HasPrefix(idPartida, "PARTIDA-"))

	select {
	case ev := <-eventos:
		assert.Equal(t, "pareamento_aceito", ev["tipo"])
		assert.Equal(t, idPartida, ev["id_partida"])
	case <-time.After(2 * time.Second):
		t.Fatal("evento pareamento_aceito nao chegou")
	}

	jogadas := make(chan map[string]interface{}, 1)
	cancelPartida, err := cluster.Store.Subscribe(ctx, configs.CanalPartida(idPartida),
		func(canal string, payload []byte) {
			ev := map[string]interface{}{}
			if json.Unmarshal(payload, &ev) == nil {
				jogadas <- ev
			}
		})
	require.NoError(t, err)
	defer cancelPartida()

	url := fmt.Sprintf("%s/partida/jogada?id_partida=%s&id_jogador=j-1&jogada=pedra",
		cluster.Nodes[0].URL, idPartida)
	status, body = doJSON(t, http.MethodPost, url, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, fmt.Sprintf("Jogada pedra de j-1 registrada na partida %s.", idPartida),
		body["mensagem"])

	select {
	case ev := <-jogadas:
		assert.Equal(t, "pedra", ev["jogada"])
	case <-time.After(2 * time.Second):
		t.Fatal("evento de jogada nao chegou")
	}
}

func TestMetricsExpostas(t *testing.T) {
	cluster := bootCluster(t, 1)
	id := entrar(t, cluster.Nodes[0].URL, "ana")
	status, _ := doJSON(t, http.MethodPost, cluster.Nodes[0].URL+"/pacote/abrir/"+id, nil)
	require.Equal(t, http.StatusOK, status)

	resp, err := http.Get(cluster.Nodes[0].URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "cartas_participante")
}
