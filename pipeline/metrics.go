package pipeline

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	prometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "pipeline"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of slots currently in flight.
	InFlight metrics.Gauge
	// Number of admissions refused because every slot was taken.
	SaturatedAdmits metrics.Counter
	// Number of batches that completed the validation stage.
	ValidatedBatches metrics.Counter
	// Number of transactions rejected by validation.
	RejectedTxs metrics.Counter
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
		InFlight: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "in_flight",
			Help:      "Number of slots currently in flight.",
		}, labels).With(labelsAndValues...),
		SaturatedAdmits: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "saturated_admits",
			Help:      "Number of admissions refused due to a full pipeline.",
		}, labels).With(labelsAndValues...),
		ValidatedBatches: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "validated_batches",
			Help:      "Number of batches that completed the validation stage.",
		}, labels).With(labelsAndValues...),
		RejectedTxs: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "rejected_txs",
			Help:      "Number of transactions rejected by validation.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		InFlight:         discard.NewGauge(),
		SaturatedAdmits:  discard.NewCounter(),
		ValidatedBatches: discard.NewCounter(),
		RejectedTxs:      discard.NewCounter(),
	}
}
