package eventbus

import (
	"context"
	"testing"
	"time"

	"cartas/configs"
	"cartas/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicarEOuvir(t *testing.T) {
	bus := New(storage.NewMemoryStore())
	ctx := context.Background()

	got := make(chan map[string]interface{}, 1)
	cancel, err := bus.Ouvir(ctx, configs.CanalEventosGerais, func(canal string, evento map[string]interface{}) {
		got <- evento
	})
	require.NoError(t, err)
	defer cancel()

	bus.Publicar(ctx, configs.CanalEventosGerais, &EventoNovoJogador{
		Tipo: TipoNovoJogador, IDJogador: "j-1", Servidor: "servidor_1",
	})

	select {
	case evento := <-got:
		assert.Equal(t, TipoNovoJogador, evento["tipo"])
		assert.Equal(t, "j-1", evento["id_jogador"])
	case <-time.After(time.Second):
		t.Fatal("evento nao entregue")
	}
}

func TestNotificarJogadorUsesPrivateChannel(t *testing.T) {
	bus := New(storage.NewMemoryStore())
	ctx := context.Background()

	got := make(chan map[string]interface{}, 1)
	cancel, err := bus.Ouvir(ctx, configs.CanalNotificacoes("j-7"), func(canal string, evento map[string]interface{}) {
		got <- evento
	})
	require.NoError(t, err)
	defer cancel()

	bus.NotificarJogador(ctx, "j-7", &EventoPacoteAberto{
		Tipo: TipoPacoteAberto, Status: StatusFalha, Motivo: "Transação 2PC abortada.",
	})

	select {
	case evento := <-got:
		assert.Equal(t, StatusFalha, evento["status"])
	case <-time.After(time.Second):
		t.Fatal("evento nao entregue")
	}
}
