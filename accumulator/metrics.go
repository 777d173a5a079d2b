package accumulator

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	prometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "accumulator"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of transactions currently buffered.
	BufferedTxs metrics.Gauge
	// Number of batches flushed into the pipeline.
	FlushedBatches metrics.Counter
	// Number of flushes deferred because the pipeline was saturated.
	DeferredFlushes metrics.Counter
	// Number of transactions requeued after a quorum timeout.
	RequeuedTxs metrics.Counter
	// Number of transactions resolved TimedOut at the requeue limit.
	ExpiredTxs metrics.Counter
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		BufferedTxs: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "buffered_txs",
			Help:      "Number of transactions currently buffered.",
		}, labels).With(labelsAndValues...),
		FlushedBatches: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "flushed_batches",
			Help:      "Number of batches flushed into the pipeline.",
		}, labels).With(labelsAndValues...),
		DeferredFlushes: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "deferred_flushes",
			Help:      "Number of flushes deferred by pipeline backpressure.",
		}, labels).With(labelsAndValues...),
		RequeuedTxs: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "requeued_txs",
			Help:      "Number of transactions requeued after a quorum timeout.",
		}, labels).With(labelsAndValues...),
		ExpiredTxs: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "expired_txs",
			Help:      "Number of transactions timed out at the requeue limit.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		BufferedTxs:     discard.NewGauge(),
		FlushedBatches:  discard.NewCounter(),
		DeferredFlushes: discard.NewCounter(),
		RequeuedTxs:     discard.NewCounter(),
		ExpiredTxs:      discard.NewCounter(),
	}
}
