package policygraph

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/brunobiangulo/policygraph/clause"
)

var (
	ingestNodes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "policygraph_ingest_nodes_total",
		Help: "Graph node writes during ingest, by node kind and result.",
	}, []string{"kind", "result"})

	ingestRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "policygraph_ingest_runs_total",
		Help: "Completed version ingests, by final status.",
	}, []string{"status"})
)

func observeNodeWrite(kind clause.Kind, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	ingestNodes.WithLabelValues(kind.String(), result).Inc()
}
