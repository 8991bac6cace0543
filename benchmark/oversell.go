// Package benchmark drives synthetic client load against an in-process
// mesh to observe the global stock under contention.
package benchmark

import (
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cartas/network/mesh"
	"cartas/storage"

	"github.com/goccy/go-json"
	"github.com/pingcap/go-ycsb/pkg/generator"
	"github.com/pkg/errors"
)

// Resultado classifies the replies of one run.
type Resultado struct {
	Sucessos  int64
	Esgotados int64
	Outros    int64
}

// CorridaPacotes floods the mesh with players opening one pack each.
// Node choice is zipfian, so a few nodes coordinate most of the load
// while the rest mostly witness.
type CorridaPacotes struct {
	Cluster *mesh.Cluster
	res     Resultado
	stat    *Stat
}

type clienteCorrida struct {
	md   int
	from *CorridaPacotes
	r    *rand.Rand
	zip  *generator.Zipfian
}

func (c *clienteCorrida) no() string {
	return c.from.Cluster.Nodes[int(c.zip.Next(c.r))].URL
}

func (c *clienteCorrida) run() error {
	id, err := entrar(c.no(), fmt.Sprintf("cliente_%d", c.md))
	if err != nil {
		return err
	}
	inicio := time.Now()
	status, detail, err := abrirPacote(c.no(), id)
	if err != nil {
		return err
	}
	info := &Info{Latency: time.Since(inicio)}
	switch {
	case status == http.StatusOK:
		info.IsCommit = true
		atomic.AddInt64(&c.from.res.Sucessos, 1)
	case status == http.StatusBadRequest && strings.Contains(detail, "esgotado"):
		info.Esgotado = true
		atomic.AddInt64(&c.from.res.Esgotados, 1)
	default:
		atomic.AddInt64(&c.from.res.Outros, 1)
	}
	c.from.stat.Append(info)
	return nil
}

// Run races clientes players, one pack opening each, and returns the
// aggregated outcome.
func (b *CorridaPacotes) Run(clientes int) (*Resultado, error) {
	b.stat = NewStat()
	var wg sync.WaitGroup
	erros := make(chan error, clientes)
	for i := 0; i < clientes; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := &clienteCorrida{
				md:   i,
				from: b,
				r:    rand.New(rand.NewSource(int64(i)*11 + 31)),
				zip: generator.NewZipfianWithRange(0,
					int64(len(b.Cluster.Nodes)-1), generator.ZipfianConstant),
			}
			if err := c.run(); err != nil {
				erros <- err
			}
		}(i)
	}
	wg.Wait()
	close(erros)
	for err := range erros {
		return nil, err
	}
	b.stat.Log()
	return &b.res, nil
}

func entrar(baseURL, nome string) (string, error) {
	resp, err := http.Post(baseURL+"/jogador/entrar?nome_jogador="+nome, "application/json", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("entrar respondeu %d", resp.StatusCode)
	}
	var body struct {
		Jogador storage.Jogador `json:"jogador"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.Jogador.IDJogador, nil
}

func abrirPacote(baseURL, idJogador string) (int, string, error) {
	resp, err := http.Post(baseURL+"/pacote/abrir/"+idJogador, "application/json", nil)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, "", err
	}
	return resp.StatusCode, body.Detail, nil
}
