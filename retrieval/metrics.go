package retrieval

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcomes recorded by ObserveRetrieve.
const (
	OutcomeFound      = "found"
	OutcomeNoNodes    = "no_nodes"
	OutcomeNoArticles = "no_articles"
	OutcomeNoSelected = "no_selection"
	OutcomeError      = "error"
)

var (
	retrieveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "policygraph_retrieve_total",
		Help: "Total retrievals by outcome",
	}, []string{"outcome"})

	retrieveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "policygraph_retrieve_duration_seconds",
		Help:    "End-to-end retrieval latency",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})
)

// ObserveRetrieve records one finished retrieval.
func ObserveRetrieve(outcome string, elapsed time.Duration) {
	retrieveTotal.WithLabelValues(outcome).Inc()
	retrieveDuration.Observe(elapsed.Seconds())
}
