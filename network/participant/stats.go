package participant

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are shared by every Manager in the process; the servidor label
// keeps multi-node test clusters apart.
var (
	votosTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cartas",
		Subsystem: "participante",
		Name:      "votos_total",
		Help:      "Votes cast in the prepare phase, by operation and vote.",
	}, []string{"servidor", "operacao", "voto"})

	decisoesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cartas",
		Subsystem: "participante",
		Name:      "decisoes_total",
		Help:      "Decisions applied, by operation and outcome.",
	}, []string{"servidor", "operacao", "decisao"})

	prepareSegundos = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cartas",
		Subsystem: "participante",
		Name:      "prepare_segundos",
		Help:      "Prepare phase latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"servidor", "operacao"})

	varredurasTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cartas",
		Subsystem: "participante",
		Name:      "varreduras_total",
		Help:      "Recovery sweeper passes.",
	}, []string{"servidor"})
)

type Stats struct {
	servidor string
}

func newStats(servidor string) *Stats {
	return &Stats{servidor: servidor}
}

func (s *Stats) vote(operacao, voto string) {
	votosTotal.WithLabelValues(s.servidor, operacao, voto).Inc()
}

func (s *Stats) decision(operacao, decisao string) {
	decisoesTotal.WithLabelValues(s.servidor, operacao, decisao).Inc()
}

func (s *Stats) observePrepare(operacao string, inicio time.Time) {
	prepareSegundos.WithLabelValues(s.servidor, operacao).Observe(time.Since(inicio).Seconds())
}

func (s *Stats) sweep() {
	varredurasTotal.WithLabelValues(s.servidor).Inc()
}
