package network

import (
	"cartas/configs"
	"cartas/storage"
)

// Peer endpoints of the 2PC mesh. Every node serves all four; the
// coordinator of a transaction calls them on the full peer list,
// itself included.
const (
	EndpointPreparePacote = "/transacao/abrir_pacote/prepare"
	EndpointDecidePacote  = "/transacao/abrir_pacote/commit_abort"
	EndpointPrepareTroca  = "/inventario/troca/prepare"
	EndpointDecideTroca   = "/inventario/troca/commit_abort"
)

// PrepareEndpoint maps a transaction kind to its prepare path.
func PrepareEndpoint(tipoOperacao string) string {
	if tipoOperacao == configs.OpTrocaCartas {
		return EndpointPrepareTroca
	}
	return EndpointPreparePacote
}

// DecideEndpoint maps a transaction kind to its commit_abort path.
func DecideEndpoint(tipoOperacao string) string {
	if tipoOperacao == configs.OpTrocaCartas {
		return EndpointDecideTroca
	}
	return EndpointDecidePacote
}

// Voto2PC is a participant's answer to a prepare request.
type Voto2PC struct {
	IDTransacao string `json:"id_transacao"`
	ServidorURL string `json:"servidor_url"`
	Voto        string `json:"voto"`
	Mensagem    string `json:"mensagem,omitempty"`
}

// Resultado2PC carries the coordinator's decision to the participants.
type Resultado2PC struct {
	IDTransacao string `json:"id_transacao"`
	ServidorURL string `json:"servidor_url"`
	Decisao     string `json:"decisao"`
}

// Commit reports whether the vote says yes. Anything that is not an
// explicit VOTE_COMMIT counts as no, including a garbled vote.
func (v *Voto2PC) Commit() bool {
	return v != nil && v.Voto == configs.VoteCommit
}

func NewVotoCommit(idTransacao, servidorURL string) *Voto2PC {
	return &Voto2PC{
		IDTransacao: idTransacao,
		ServidorURL: servidorURL,
		Voto:        configs.VoteCommit,
	}
}

func NewVotoAbort(idTransacao, servidorURL, motivo string) *Voto2PC {
	return &Voto2PC{
		IDTransacao: idTransacao,
		ServidorURL: servidorURL,
		Voto:        configs.VoteAbort,
		Mensagem:    motivo,
	}
}

func NewResultado(tx *storage.Transacao2PC, servidorURL string, commit bool) *Resultado2PC {
	decisao := configs.GlobalAbort
	if commit {
		decisao = configs.GlobalCommit
	}
	return &Resultado2PC{
		IDTransacao: tx.IDTransacao,
		ServidorURL: servidorURL,
		Decisao:     decisao,
	}
}
