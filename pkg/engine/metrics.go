package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

// Registry holds the engine metrics.
var Registry = prometheus.NewRegistry()

var tracer = otel.Tracer("dexplain.engine")

var (
	factory = promauto.With(Registry)

	epochsTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "dexplain",
		Name:      "epochs_total",
		Help:      "Total number of processed epochs",
	})

	stepErrors = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dexplain",
		Name:      "step_errors_total",
		Help:      "Total number of rejected epochs by reason",
	}, []string{"reason"})

	edgeDeltas = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dexplain",
		Name:      "edge_deltas_total",
		Help:      "Total number of derivation edge changes by operation",
	}, []string{"op"})

	malformedEdges = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "dexplain",
		Name:      "malformed_edges_total",
		Help:      "Total number of derivation edges rejected by schema validation",
	})

	activeQueries = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "dexplain",
		Name:      "active_queries",
		Help:      "Number of active queries",
	})

	closureSize = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: "dexplain",
		Name:      "closure_nodes",
		Help:      "Number of closure nodes per query after each epoch",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
	})

	stepDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dexplain",
		Name:      "step_duration_seconds",
		Help:      "Duration of the phases of an epoch",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"phase"})
)
