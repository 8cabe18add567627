package reasoning

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrNoCandidates is returned by Select when there is nothing to choose.
var ErrNoCandidates = errors.New("reasoning: no candidates")

// Fallback reasons.
const (
	FallbackTransport   = "transport"
	FallbackUnparseable = "unparseable"
	FallbackOutOfRange  = "out_of_range"
)

var (
	selectorFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "policygraph_selector_fallbacks_total",
		Help: "Selections that fell back to the first candidate, by reason",
	}, []string{"reason"})

	classifierOverrides = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "policygraph_classifier_results_total",
		Help: "Clause classifications by result",
	}, []string{"result"})
)
