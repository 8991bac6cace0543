package coordinator

import (
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/tidwall/wal"
)

// Journal is a write-ahead intent log for the pack debits the coordinator
// applies before running 2PC. A debit entry goes in before the player's
// pacotes_disponiveis is decremented and a resolution entry after the
// transaction settles either way; debits still unresolved at boot belong
// to a crashed run and are compensated.
//
// A nil *Journal is valid and does nothing, for tests and for nodes
// running with the journal disabled.
type Journal struct {
	latch     sync.Mutex
	log       *wal.Log
	lsn       uint64
	pendentes map[string]*DebitoPendente
}

type DebitoPendente struct {
	IDDebito   string
	IDJogador  string
	Quantidade int
}

type registroJournal struct {
	Tipo       string `json:"tipo"`
	IDDebito   string `json:"id_debito"`
	IDJogador  string `json:"id_jogador,omitempty"`
	Quantidade int    `json:"quantidade,omitempty"`
}

const (
	registroDebito    = "debito"
	registroResolucao = "resolucao"
)

// OpenJournal opens (or creates) the journal at dir and replays it to
// find the debits a previous run left unresolved.
func OpenJournal(dir string) (*Journal, error) {
	log, err := wal.Open(dir, nil)
	if err != nil {
		return nil, errors.Wrap(err, "abrindo journal")
	}
	j := &Journal{log: log, pendentes: make(map[string]*DebitoPendente)}
	first, err := log.FirstIndex()
	if err != nil {
		return nil, err
	}
	last, err := log.LastIndex()
	if err != nil {
		return nil, err
	}
	for i := first; first > 0 && i <= last; i++ {
		raw, err := log.Read(i)
		if err != nil {
			return nil, errors.Wrapf(err, "lendo entrada %d", i)
		}
		var reg registroJournal
		if err := json.Unmarshal(raw, &reg); err != nil {
			return nil, errors.Wrapf(err, "entrada %d ilegivel", i)
		}
		switch reg.Tipo {
		case registroDebito:
			j.pendentes[reg.IDDebito] = &DebitoPendente{
				IDDebito:   reg.IDDebito,
				IDJogador:  reg.IDJogador,
				Quantidade: reg.Quantidade,
			}
		case registroResolucao:
			delete(j.pendentes, reg.IDDebito)
		}
	}
	j.lsn = last
	return j, nil
}

func (j *Journal) append(reg *registroJournal) error {
	raw, err := json.Marshal(reg)
	if err != nil {
		return err
	}
	j.lsn++
	return j.log.Write(j.lsn, raw)
}

// RegistrarDebito journals a pack debit and returns its id.
func (j *Journal) RegistrarDebito(idJogador string, quantidade int) (string, error) {
	if j == nil {
		return "", nil
	}
	j.latch.Lock()
	defer j.latch.Unlock()
	id := uuid.NewString()
	if err := j.append(&registroJournal{
		Tipo:       registroDebito,
		IDDebito:   id,
		IDJogador:  idJogador,
		Quantidade: quantidade,
	}); err != nil {
		return "", err
	}
	j.pendentes[id] = &DebitoPendente{IDDebito: id, IDJogador: idJogador, Quantidade: quantidade}
	return id, nil
}

// RegistrarResolucao marks a debit settled.
func (j *Journal) RegistrarResolucao(idDebito string) error {
	if j == nil || idDebito == "" {
		return nil
	}
	j.latch.Lock()
	defer j.latch.Unlock()
	if err := j.append(&registroJournal{Tipo: registroResolucao, IDDebito: idDebito}); err != nil {
		return err
	}
	delete(j.pendentes, idDebito)
	return nil
}

// Pendentes lists the debits with no resolution entry.
func (j *Journal) Pendentes() []*DebitoPendente {
	if j == nil {
		return nil
	}
	j.latch.Lock()
	defer j.latch.Unlock()
	out := make([]*DebitoPendente, 0, len(j.pendentes))
	for _, d := range j.pendentes {
		out = append(out, d)
	}
	return out
}

func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.latch.Lock()
	defer j.latch.Unlock()
	return j.log.Close()
}
