package participant

import (
	"sort"
	"sync"

	"cartas/storage"

	lock "github.com/viney-shih/go-lock"
)

// TXNBranch is the local half of a transaction this node has prepared and
// not yet decided. Everything durable lives in the coordination store; the
// branch only pins the record and the applied flag between phases.
type TXNBranch struct {
	Tx      *storage.Transacao2PC
	latch   sync.Mutex
	applied bool
}

func newBranch(tx *storage.Transacao2PC) *TXNBranch {
	return &TXNBranch{Tx: tx}
}

// markApplied flips the applied flag, reporting whether this call won.
func (b *TXNBranch) markApplied() bool {
	b.latch.Lock()
	defer b.latch.Unlock()
	if b.applied {
		return false
	}
	b.applied = true
	return true
}

func (b *TXNBranch) Applied() bool {
	b.latch.Lock()
	defer b.latch.Unlock()
	return b.applied
}

// playerLocks hands out one CASMutex per player, created on first use.
// They serialize same-node inventory access; cross-node serialization is
// the store's lock tokens.
type playerLocks struct {
	latch sync.Mutex
	locks map[string]*lock.CASMutex
}

func newPlayerLocks() *playerLocks {
	return &playerLocks{locks: make(map[string]*lock.CASMutex)}
}

func (p *playerLocks) of(idJogador string) *lock.CASMutex {
	p.latch.Lock()
	defer p.latch.Unlock()
	if _, ok := p.locks[idJogador]; !ok {
		p.locks[idJogador] = lock.NewCASMutex()
	}
	return p.locks[idJogador]
}

// lockAll takes the locks of every listed player in sorted order, so two
// transactions touching the same pair never deadlock on this node. The
// returned release undoes exactly what was taken.
func (p *playerLocks) lockAll(jogadores []string) func() {
	ordenados := append([]string(nil), jogadores...)
	sort.Strings(ordenados)
	taken := make([]*lock.CASMutex, 0, len(ordenados))
	for _, j := range ordenados {
		m := p.of(j)
		m.Lock()
		taken = append(taken, m)
	}
	return func() {
		for i := len(taken) - 1; i >= 0; i-- {
			taken[i].Unlock()
		}
	}
}
