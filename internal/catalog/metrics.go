package catalog

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"

	"github.com/systemshift/cattree/internal/tree"
)

var tracer = otel.Tracer("cattree.catalog")

var (
	// mutationsTotal counts forest mutations.
	// Labels: index (closure, nested), op, result (ok, not_found, invalid, exists, store_failure, error)
	mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cattree",
		Name:      "mutations_total",
		Help:      "Total forest mutations by outcome",
	}, []string{"index", "op", "result"})

	// mutationDuration measures a mutation from lock acquisition to commit.
	mutationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cattree",
		Name:      "mutation_duration_seconds",
		Help:      "Forest mutation latency in seconds, lock wait excluded",
		Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"index", "op"})

	// lockWait measures time spent waiting for the forest lock.
	lockWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cattree",
		Name:      "lock_wait_seconds",
		Help:      "Time spent acquiring the forest lock",
		Buckets:   []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"index"})
)

// result maps an operation error onto the result label.
func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, tree.ErrNotFound):
		return "not_found"
	case errors.Is(err, tree.ErrInvalidRelocation), errors.Is(err, ErrInvalidName):
		return "invalid"
	case errors.Is(err, tree.ErrExists):
		return "exists"
	case errors.Is(err, tree.ErrStoreFailure):
		return "store_failure"
	default:
		return "error"
	}
}
