package storage

import (
	"time"

	"cartas/configs"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// Carta is a single collectible card. Card ids are globally unique.
type Carta struct {
	IDCarta  string `json:"id_carta"`
	Nome     string `json:"nome"`
	Tipo     string `json:"tipo"`
	Skin     string `json:"skin"`
	Raridade string `json:"raridade"`
}

// Jogador identifies a player and the node that admitted them.
type Jogador struct {
	IDJogador     string `json:"id_jogador"`
	Nome          string `json:"nome"`
	ServidorLocal string `json:"servidor_local"`
}

// Inventario is the per-player state kept in the coordination store under
// inventario:{id_jogador}.
type Inventario struct {
	IDJogador          string  `json:"id_jogador"`
	Cartas             []Carta `json:"cartas"`
	PacotesDisponiveis int     `json:"pacotes_disponiveis"`
}

// TemCarta reports whether the inventory holds the given card.
func (inv *Inventario) TemCarta(idCarta string) bool {
	for i := range inv.Cartas {
		if inv.Cartas[i].IDCarta == idCarta {
			return true
		}
	}
	return false
}

// RemoveCarta takes the card out of the inventory and returns it.
func (inv *Inventario) RemoveCarta(idCarta string) (Carta, bool) {
	for i := range inv.Cartas {
		if inv.Cartas[i].IDCarta == idCarta {
			c := inv.Cartas[i]
			inv.Cartas = append(inv.Cartas[:i], inv.Cartas[i+1:]...)
			return c, true
		}
	}
	return Carta{}, false
}

// EstoqueGlobal is the shared pack stock under estoque_global.
type EstoqueGlobal struct {
	PacotesRestantes int `json:"pacotes_restantes"`
}

// DadosAbrirPacote is the payload of an abrir_pacote transaction.
type DadosAbrirPacote struct {
	IDJogador         string `json:"id_jogador"`
	QuantidadePacotes int    `json:"quantidade_pacotes"`
}

// DadosTroca is the payload of a troca_cartas transaction.
type DadosTroca struct {
	IDJogadorA string `json:"id_jogador_a"`
	IDCartaA   string `json:"id_carta_a"`
	IDJogadorB string `json:"id_jogador_b"`
	IDCartaB   string `json:"id_carta_b"`
}

// Transacao2PC is the transaction record exchanged between peers and
// persisted under transacao_2pc:{id_transacao}. On the wire the payload is
// a single "dados" object whose shape follows tipo_operacao; in memory it
// is kept typed, one pointer per kind, exactly one of them set.
type Transacao2PC struct {
	IDTransacao    string            `json:"id_transacao"`
	CoordenadorURL string            `json:"coordenador_url"`
	TipoOperacao   string            `json:"tipo_operacao"`
	Status         string            `json:"status"`
	CriadaEm       time.Time         `json:"criada_em"`
	AbrirPacote    *DadosAbrirPacote `json:"-"`
	Troca          *DadosTroca       `json:"-"`
}

type transacaoWire struct {
	IDTransacao    string          `json:"id_transacao"`
	CoordenadorURL string          `json:"coordenador_url"`
	TipoOperacao   string          `json:"tipo_operacao"`
	Status         string          `json:"status"`
	CriadaEm       time.Time       `json:"criada_em"`
	Dados          json.RawMessage `json:"dados"`
}

// MarshalJSON flattens the typed payload back into the dados object.
func (t Transacao2PC) MarshalJSON() ([]byte, error) {
	var dados interface{}
	switch t.TipoOperacao {
	case configs.OpAbrirPacote:
		dados = t.AbrirPacote
	case configs.OpTrocaCartas:
		dados = t.Troca
	default:
		return nil, errors.Errorf("%s: %q", configs.MotivoOperacaoDesconhecida, t.TipoOperacao)
	}
	raw, err := json.Marshal(dados)
	if err != nil {
		return nil, err
	}
	return json.Marshal(transacaoWire{
		IDTransacao:    t.IDTransacao,
		CoordenadorURL: t.CoordenadorURL,
		TipoOperacao:   t.TipoOperacao,
		Status:         t.Status,
		CriadaEm:       t.CriadaEm,
		Dados:          raw,
	})
}

// UnmarshalJSON decodes dados into the payload matching tipo_operacao and
// rejects transactions of a kind this node does not know.
func (t *Transacao2PC) UnmarshalJSON(b []byte) error {
	var w transacaoWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	t.IDTransacao = w.IDTransacao
	t.CoordenadorURL = w.CoordenadorURL
	t.TipoOperacao = w.TipoOperacao
	t.Status = w.Status
	t.CriadaEm = w.CriadaEm
	t.AbrirPacote = nil
	t.Troca = nil
	switch w.TipoOperacao {
	case configs.OpAbrirPacote:
		dados := &DadosAbrirPacote{}
		if err := json.Unmarshal(w.Dados, dados); err != nil {
			return err
		}
		t.AbrirPacote = dados
	case configs.OpTrocaCartas:
		dados := &DadosTroca{}
		if err := json.Unmarshal(w.Dados, dados); err != nil {
			return err
		}
		t.Troca = dados
	default:
		return errors.Errorf("%s: %q", configs.MotivoOperacaoDesconhecida, w.TipoOperacao)
	}
	return nil
}

// Jogadores lists the players a transaction touches, in record order.
func (t *Transacao2PC) Jogadores() []string {
	switch t.TipoOperacao {
	case configs.OpAbrirPacote:
		return []string{t.AbrirPacote.IDJogador}
	case configs.OpTrocaCartas:
		return []string{t.Troca.IDJogadorA, t.Troca.IDJogadorB}
	}
	return nil
}
