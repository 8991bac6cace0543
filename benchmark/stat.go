package benchmark

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"cartas/configs"
)

// Info is the outcome of one client request.
type Info struct {
	IsCommit bool
	Esgotado bool
	Latency  time.Duration
}

// Stat aggregates request outcomes across the racing clients.
type Stat struct {
	mu    sync.Mutex
	infos []*Info
}

func NewStat() *Stat {
	return &Stat{}
}

func (st *Stat) Append(info *Info) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.infos = append(st.infos, info)
}

// Log prints one line of counters and latency percentiles.
func (st *Stat) Log() {
	st.mu.Lock()
	defer st.mu.Unlock()
	success, esgotado, fail := 0, 0, 0
	latencySum := time.Duration(0)
	latencies := make([]int, 0, len(st.infos))
	for _, info := range st.infos {
		switch {
		case info.IsCommit:
			success++
		case info.Esgotado:
			esgotado++
		default:
			fail++
		}
		latencySum += info.Latency
		latencies = append(latencies, int(info.Latency))
	}
	msg := "txn_cnt:" + strconv.Itoa(len(st.infos)) + ";"
	msg += "success_txn:" + strconv.Itoa(success) + ";"
	msg += "stock_out:" + strconv.Itoa(esgotado) + ";"
	msg += "abort:" + strconv.Itoa(fail) + ";"
	sort.Ints(latencies)
	if len(latencies) > 0 {
		i := min((len(latencies)*99+99)/100, len(latencies)-1)
		msg += "p99_latency:" + time.Duration(latencies[i]).String() + ";"
		i = min((len(latencies)*9+9)/10, len(latencies)-1)
		msg += "p90_latency:" + time.Duration(latencies[i]).String() + ";"
		i = min((len(latencies)+1)/2, len(latencies)-1)
		msg += "p50_latency:" + time.Duration(latencies[i]).String() + ";"
		msg += "ave_latency:" + (latencySum / time.Duration(len(latencies))).String() + ";"
	} else {
		msg += "p99_latency:nil;p90_latency:nil;p50_latency:nil;ave_latency:nil;"
	}
	configs.LPrintf("%s", msg)
}
