// Package cards mints the collectible cards handed out when a pack opens.
//
// Generation is a pure function of (transaction id, player id, index): the
// decide phase runs on every node of the mesh, so each node must mint the
// exact same cards for the same committed transaction. Randomness comes
// from a PRNG seeded with a hash of those inputs, never from the clock.
package cards

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"

	"cartas/configs"
	"cartas/storage"
)

var tipos = []string{"pedra", "papel", "tesoura"}

var skins = map[string][]string{
	"pedra":   {"Rocha Vulcânica", "Mármore Polido", "Seixo de Rio"},
	"papel":   {"Papiro Antigo", "Jornal Velho", "Nota de Dólar"},
	"tesoura": {"Lâmina Afiada", "Tesoura de Jardim", "Navalha de Barbeiro"},
}

// Weighted draw table: three Comum for each Lendária.
var raridades = []string{"Comum", "Comum", "Comum", "Rara", "Rara", "Épica", "Lendária"}

// GerarCarta mints the idx-th card of a transaction for a player. The card
// id embeds the seed hash and the index, which makes it unique across the
// whole mesh: transaction ids are UUIDs and no two transactions share one.
func GerarCarta(idTransacao, idJogador string, idx int) storage.Carta {
	rng := rand.New(rand.NewSource(seed(idTransacao, idJogador, idx)))
	tipo := tipos[rng.Intn(len(tipos))]
	skin := skins[tipo][rng.Intn(len(skins[tipo]))]
	raridade := raridades[rng.Intn(len(raridades))]
	return storage.Carta{
		IDCarta:  fmt.Sprintf("CARTA-%08x-%d", seed(idTransacao, idJogador, idx)&0xffffffff, idx),
		Nome:     fmt.Sprintf("%s (%s)", strings.ToUpper(tipo[:1])+tipo[1:], skin),
		Tipo:     tipo,
		Skin:     skin,
		Raridade: raridade,
	}
}

// AbrirPacotes mints the full card set of a committed abrir_pacote
// transaction: CartasPorPacote cards per pack.
func AbrirPacotes(idTransacao, idJogador string, quantidade int) []storage.Carta {
	out := make([]storage.Carta, 0, quantidade*configs.CartasPorPacote)
	for i := 0; i < quantidade*configs.CartasPorPacote; i++ {
		out = append(out, GerarCarta(idTransacao, idJogador, i))
	}
	return out
}

func seed(idTransacao, idJogador string, idx int) int64 {
	h := fnv.New64a()
	h.Write([]byte(idTransacao))
	h.Write([]byte{'|'})
	h.Write([]byte(idJogador))
	h.Write([]byte{'|', byte(idx)})
	return int64(h.Sum64())
}
