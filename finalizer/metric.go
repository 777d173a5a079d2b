package finalizer

import (
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
)

func newFinMetric(f *Finalizer) *finMetric {
	return &finMetric{fin: f}
}

type finMetric struct {
	fin *Finalizer
}

type finMetricView struct {
	CommittedTxs   int64   `json:"committed_txs"`
	RejectedTxs    int64   `json:"rejected_txs"`
	TimedOutTxs    int64   `json:"timed_out_txs"`
	RequeuedTxs    int64   `json:"requeued_txs"`
	CommitFailures int64   `json:"commit_failures"`
	LatencyP50Ms   float64 `json:"latency_p50_ms"`
	LatencyP99Ms   float64 `json:"latency_p99_ms"`
	TxsPerSec1m    float64 `json:"txs_per_sec_1m"`
}

func (fm *finMetric) JSONString() string {
	view := finMetricView{
		CommittedTxs:   atomic.LoadInt64(&fm.fin.committedTxs),
		RejectedTxs:    atomic.LoadInt64(&fm.fin.rejectedTxs),
		TimedOutTxs:    atomic.LoadInt64(&fm.fin.timedOutTxs),
		RequeuedTxs:    atomic.LoadInt64(&fm.fin.requeuedTxs),
		CommitFailures: atomic.LoadInt64(&fm.fin.commitFailures),
		LatencyP50Ms:   fm.fin.latency.Percentile(0.50) / float64(time.Millisecond),
		LatencyP99Ms:   fm.fin.latency.Percentile(0.99) / float64(time.Millisecond),
		TxsPerSec1m:    fm.fin.throughput.Rate1(),
	}

	s, _ := jsoniter.MarshalToString(view)
	return s
}
