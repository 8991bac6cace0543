package mesh

import (
	"fmt"
	"net/http"
	"time"

	"cartas/configs"
	"cartas/eventbus"
	"cartas/network"
	"cartas/network/coordinator"
	"cartas/storage"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

const (
	detalheJogadorNaoEncontrado = "Jogador não encontrado."
	detalheSemPacotes           = "O jogador não possui pacotes disponíveis para abrir."
	detalheAberturaAbortada     = "Falha na abertura do pacote. Transação 2PC abortada."
	detalheTrocaAbortada        = "Falha na troca de cartas. Transação 2PC abortada."
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) error {
	est, err := s.store.GetStock(r.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, map[string]interface{}{
		"status":         "online",
		"servidor":       configs.NomeServidor,
		"url":            s.coord.URL(),
		"estoque_global": est.PacotesRestantes,
	})
}

func (s *Server) handleServidores(w http.ResponseWriter, r *http.Request) error {
	return writeJSON(w, map[string]interface{}{"servidores": s.coord.Peers()})
}

func (s *Server) handleEntrar(w http.ResponseWriter, r *http.Request) error {
	nome := r.URL.Query().Get("nome_jogador")
	if nome == "" {
		return errBadRequest("O parâmetro nome_jogador é obrigatório.")
	}
	jogador := &storage.Jogador{
		IDJogador:     uuid.NewString(),
		Nome:          nome,
		ServidorLocal: configs.NomeServidor,
	}
	inv := &storage.Inventario{
		IDJogador:          jogador.IDJogador,
		PacotesDisponiveis: configs.PacotesIniciais,
	}
	if err := s.store.SetInventory(r.Context(), inv); err != nil {
		return err
	}
	s.bus.Publicar(r.Context(), configs.CanalEventosGerais, eventbus.EventoNovoJogador{
		Tipo:      eventbus.TipoNovoJogador,
		IDJogador: jogador.IDJogador,
		Servidor:  configs.NomeServidor,
	})
	return writeJSON(w, map[string]interface{}{
		"mensagem":   fmt.Sprintf("Bem-vindo, %s!", nome),
		"jogador":    jogador,
		"inventario": inv,
	})
}

func (s *Server) handleVerInventario(w http.ResponseWriter, r *http.Request) error {
	inv, err := s.store.GetInventory(r.Context(), mux.Vars(r)["id_jogador"])
	if err != nil {
		return err
	}
	if inv == nil {
		return errNotFound(detalheJogadorNaoEncontrado)
	}
	return writeJSON(w, inv)
}

func (s *Server) handleAbrirPacote(w http.ResponseWriter, r *http.Request) error {
	idJogador := mux.Vars(r)["id_jogador"]
	inv, err := s.coord.AbrirPacote(r.Context(), idJogador, 1)
	if err != nil {
		s.bus.NotificarJogador(r.Context(), idJogador, eventbus.EventoPacoteAberto{
			Tipo:   eventbus.TipoPacoteAberto,
			Status: eventbus.StatusFalha,
			Motivo: detalheAberturaAbortada,
		})
		switch {
		case errors.Is(err, coordinator.ErrJogadorDesconhecido):
			return errNotFound(detalheJogadorNaoEncontrado)
		case errors.Is(err, coordinator.ErrSemPacotes):
			return errBadRequest(detalheSemPacotes)
		case errors.Is(err, coordinator.ErrEstoqueEsgotado):
			return errBadRequest("Estoque global de pacotes esgotado.")
		}
		return errInternal(detalheAberturaAbortada)
	}

	obtidas := inv.Cartas
	if len(obtidas) > configs.CartasPorPacote {
		obtidas = obtidas[len(obtidas)-configs.CartasPorPacote:]
	}
	s.bus.NotificarJogador(r.Context(), idJogador, eventbus.EventoPacoteAberto{
		Tipo:          eventbus.TipoPacoteAberto,
		Status:        eventbus.StatusSucesso,
		CartasObtidas: obtidas,
	})
	return writeJSON(w, map[string]interface{}{
		"status":                "sucesso",
		"mensagem":              "Pacote aberto com sucesso! Cartas adicionadas ao inventário.",
		"inventario_atualizado": inv,
	})
}

func (s *Server) handleTroca(w http.ResponseWriter, r *http.Request) error {
	vars := mux.Vars(r)
	dados := &storage.DadosTroca{
		IDJogadorA: vars["id_jogador_a"],
		IDJogadorB: vars["id_jogador_b"],
		IDCartaA:   r.URL.Query().Get("id_carta_a"),
		IDCartaB:   r.URL.Query().Get("id_carta_b"),
	}
	if dados.IDCartaA == "" || dados.IDCartaB == "" {
		return errBadRequest("Os parâmetros id_carta_a e id_carta_b são obrigatórios.")
	}
	if err := s.coord.TrocaCartas(r.Context(), dados); err != nil {
		s.notificarTroca(r, dados, eventbus.StatusFalha, detalheTrocaAbortada)
		switch {
		case errors.Is(err, coordinator.ErrJogadorDesconhecido):
			return errNotFound(detalheJogadorNaoEncontrado)
		case errors.Is(err, coordinator.ErrCartaAusente):
			return errBadRequest("Um dos jogadores não possui a carta oferecida.")
		}
		return errInternal(detalheTrocaAbortada)
	}
	s.notificarTroca(r, dados, eventbus.StatusSucesso, "")
	return writeJSON(w, map[string]string{
		"status":   "sucesso",
		"mensagem": "Troca de cartas concluída com sucesso!",
	})
}

func (s *Server) notificarTroca(r *http.Request, dados *storage.DadosTroca, status, motivo string) {
	s.bus.NotificarJogador(r.Context(), dados.IDJogadorA, eventbus.EventoTrocaCartas{
		Tipo: eventbus.TipoTrocaCartas, Status: status,
		Parceiro: dados.IDJogadorB, CartaRecebida: dados.IDCartaB, Motivo: motivo,
	})
	s.bus.NotificarJogador(r.Context(), dados.IDJogadorB, eventbus.EventoTrocaCartas{
		Tipo: eventbus.TipoTrocaCartas, Status: status,
		Parceiro: dados.IDJogadorA, CartaRecebida: dados.IDCartaA, Motivo: motivo,
	})
}

func (s *Server) handlePrepare(w http.ResponseWriter, r *http.Request) error {
	if s.part.Broken() {
		return errUnavailable("Servidor indisponível.")
	}
	tx := &storage.Transacao2PC{}
	if err := json.NewDecoder(r.Body).Decode(tx); err != nil {
		return errBadRequest(err.Error())
	}
	return writeJSON(w, s.part.Prepare(r.Context(), tx))
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) error {
	if s.part.Broken() {
		return errUnavailable("Servidor indisponível.")
	}
	res := &network.Resultado2PC{}
	if err := json.NewDecoder(r.Body).Decode(res); err != nil {
		return errBadRequest(err.Error())
	}
	if err := s.part.Decide(r.Context(), res); err != nil {
		return err
	}
	return writeJSON(w, map[string]string{
		"status":   "ok",
		"mensagem": fmt.Sprintf("Decisão %s processada.", res.Decisao),
	})
}

// PareamentoSolicitacao is a match request sent by a peer server on
// behalf of one of its players.
type PareamentoSolicitacao struct {
	IDJogadorSolicitante string `json:"id_jogador_solicitante"`
	ServidorSolicitante  string `json:"servidor_solicitante_url"`
	TipoJogo             string `json:"tipo_jogo"`
}

type PareamentoResposta struct {
	Aceito    bool   `json:"aceito"`
	Mensagem  string `json:"mensagem"`
	IDPartida string `json:"id_partida,omitempty"`
}

func (s *Server) handlePareamento(w http.ResponseWriter, r *http.Request) error {
	sol := &PareamentoSolicitacao{TipoJogo: "Pedra-Papel-Tesoura 1v1"}
	if err := json.NewDecoder(r.Body).Decode(sol); err != nil {
		return errBadRequest(err.Error())
	}
	if sol.IDJogadorSolicitante == "" {
		return errBadRequest("O campo id_jogador_solicitante é obrigatório.")
	}
	idPartida := fmt.Sprintf("PARTIDA-%d", time.Now().Unix())
	s.bus.Publicar(r.Context(), configs.CanalEventosGerais, eventbus.EventoPareamentoAceito{
		Tipo:      eventbus.TipoPareamentoAceito,
		IDPartida: idPartida,
		Jogador1:  sol.IDJogadorSolicitante,
		Servidor1: sol.ServidorSolicitante,
		Servidor2: s.coord.URL(),
	})
	return writeJSON(w, PareamentoResposta{
		Aceito:    true,
		Mensagem:  fmt.Sprintf("Pareamento aceito para %s.", sol.TipoJogo),
		IDPartida: idPartida,
	})
}

func (s *Server) handleJogada(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	idPartida, idJogador, jogada := q.Get("id_partida"), q.Get("id_jogador"), q.Get("jogada")
	if idPartida == "" || idJogador == "" || jogada == "" {
		return errBadRequest("Os parâmetros id_partida, id_jogador e jogada são obrigatórios.")
	}
	s.bus.Publicar(r.Context(), configs.CanalPartida(idPartida), eventbus.EventoJogada{
		Tipo:      eventbus.TipoJogada,
		IDJogador: idJogador,
		Jogada:    jogada,
	})
	return writeJSON(w, map[string]string{
		"status":   "ok",
		"mensagem": fmt.Sprintf("Jogada %s de %s registrada na partida %s.", jogada, idJogador, idPartida),
	})
}
