package coordinator

import (
	"sync"
	"time"

	"cartas/network"

	mapset "github.com/deckarep/golang-set"
)

// txnHandler tallies the votes of one transaction. Votes arrive from the
// prepare goroutines; the first abort or the last yes settles the
// outcome. Duplicate votes from the same peer are dropped, and a peer
// that failed to answer counts as an abort.
type txnHandler struct {
	latch  sync.Mutex
	voters int
	yes    int
	closed bool
	motivo string
	voted  mapset.Set
	finish chan bool
}

func newTxnHandler(voters int) *txnHandler {
	return &txnHandler{
		voters: voters,
		voted:  mapset.NewSet(),
		finish: make(chan bool, 1),
	}
}

// HandleVote records one peer's vote. A nil vote means the peer did not
// answer in time.
func (h *txnHandler) HandleVote(peer string, voto *network.Voto2PC) {
	h.latch.Lock()
	defer h.latch.Unlock()
	if !h.voted.Add(peer) || h.closed {
		return
	}
	if !voto.Commit() {
		h.closed = true
		if voto != nil && voto.Mensagem != "" {
			h.motivo = voto.Mensagem
		} else {
			h.motivo = "participante sem resposta"
		}
		h.finish <- false
		return
	}
	h.yes++
	if h.yes == h.voters {
		h.closed = true
		h.finish <- true
	}
}

// Wait blocks until the outcome settles or the deadline passes. Timing
// out is an abort.
func (h *txnHandler) Wait(timeout time.Duration) bool {
	select {
	case ok := <-h.finish:
		return ok
	case <-time.After(timeout):
		h.latch.Lock()
		defer h.latch.Unlock()
		if h.closed {
			select {
			case ok := <-h.finish:
				return ok
			default:
				return false
			}
		}
		h.closed = true
		h.motivo = "tempo esgotado na fase de voto"
		return false
	}
}

func (h *txnHandler) Motivo() string {
	h.latch.Lock()
	defer h.latch.Unlock()
	return h.motivo
}
