package consensus

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	prometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "consensus"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of batches decided committed.
	CommittedBatches metrics.Counter
	// Number of batches decided rejected.
	RejectedBatches metrics.Counter
	// Number of batches whose quorum timed out.
	TimedOutBatches metrics.Counter
	// Number of votes tallied, own votes included.
	Votes metrics.Counter
	// Number of term changes.
	TermChanges metrics.Counter
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
		CommittedBatches: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "committed_batches",
			Help:      "Number of batches decided committed.",
		}, labels).With(labelsAndValues...),
		RejectedBatches: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "rejected_batches",
			Help:      "Number of batches decided rejected.",
		}, labels).With(labelsAndValues...),
		TimedOutBatches: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "timed_out_batches",
			Help:      "Number of batches whose quorum timed out.",
		}, labels).With(labelsAndValues...),
		Votes: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "votes",
			Help:      "Number of votes tallied, own votes included.",
		}, labels).With(labelsAndValues...),
		TermChanges: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "term_changes",
			Help:      "Number of term changes.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		CommittedBatches: discard.NewCounter(),
		RejectedBatches:  discard.NewCounter(),
		TimedOutBatches:  discard.NewCounter(),
		Votes:            discard.NewCounter(),
		TermChanges:      discard.NewCounter(),
	}
}
