// Package eventbus publishes game events over the coordination store's
// pub/sub so clients anywhere on the mesh can follow them. Publishing is
// best effort: a transaction never fails because an event did not go out.
package eventbus

import (
	"context"

	"cartas/configs"
	"cartas/storage"

	"github.com/goccy/go-json"
)

// Event kinds.
const (
	TipoNovoJogador      = "novo_jogador"
	TipoPacoteAberto     = "pacote_aberto"
	TipoTrocaCartas      = "troca_cartas"
	TipoPareamentoAceito = "pareamento_aceito"
	TipoJogada           = "jogada"

	StatusSucesso = "sucesso"
	StatusFalha   = "falha"
)

type EventoNovoJogador struct {
	Tipo      string `json:"tipo"`
	IDJogador string `json:"id_jogador"`
	Servidor  string `json:"servidor"`
}

type EventoPacoteAberto struct {
	Tipo          string          `json:"tipo"`
	Status        string          `json:"status"`
	CartasObtidas []storage.Carta `json:"cartas_obtidas,omitempty"`
	Motivo        string          `json:"motivo,omitempty"`
}

type EventoTrocaCartas struct {
	Tipo          string `json:"tipo"`
	Status        string `json:"status"`
	Parceiro      string `json:"parceiro,omitempty"`
	CartaRecebida string `json:"carta_recebida,omitempty"`
	Motivo        string `json:"motivo,omitempty"`
}

type EventoPareamentoAceito struct {
	Tipo      string `json:"tipo"`
	IDPartida string `json:"id_partida"`
	Jogador1  string `json:"jogador1"`
	Servidor1 string `json:"servidor1"`
	Servidor2 string `json:"servidor2"`
}

type EventoJogada struct {
	Tipo      string `json:"tipo"`
	IDJogador string `json:"id_jogador"`
	Jogada    string `json:"jogada"`
}

// Bus wraps the store's pub/sub with typed events and channel naming.
type Bus struct {
	store storage.Store
}

func New(store storage.Store) *Bus {
	return &Bus{store: store}
}

// Publicar serializes the event onto the channel. Failures are logged and
// swallowed.
func (b *Bus) Publicar(ctx context.Context, canal string, evento interface{}) {
	raw, err := json.Marshal(evento)
	if err != nil {
		configs.Warn(false, "evento nao serializavel: "+err.Error())
		return
	}
	if err := b.store.Publish(ctx, canal, raw); err != nil {
		configs.Warn(false, "falha publicando em "+canal+": "+err.Error())
	}
}

// Ouvir subscribes to a channel, delivering decoded events until cancel.
func (b *Bus) Ouvir(ctx context.Context, canal string, handler func(canal string, evento map[string]interface{})) (func(), error) {
	return b.store.Subscribe(ctx, canal, func(canal string, payload []byte) {
		var evento map[string]interface{}
		if err := json.Unmarshal(payload, &evento); err != nil {
			configs.Warn(false, "evento ilegivel em "+canal)
			return
		}
		handler(canal, evento)
	})
}

// NotificarJogador publishes on the player's private channel.
func (b *Bus) NotificarJogador(ctx context.Context, idJogador string, evento interface{}) {
	b.Publicar(ctx, configs.CanalNotificacoes(idJogador), evento)
}
