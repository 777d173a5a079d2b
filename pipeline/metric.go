package pipeline

import (
	"sync"

	jsoniter "github.com/json-iterator/go"
)

func newPipeMetric(p *Pipeline) *pipeMetric {
	return &pipeMetric{pipe: p}
}

type pipeMetric struct {
	pipe *Pipeline

	mtx         sync.RWMutex
	Admitted    int64 `json:"admitted"`
	Validated   int64 `json:"validated"`
	RejectedTxs int64 `json:"rejected_txs"`
}

type pipeMetricView struct {
	InFlight    int     `json:"in_flight"`
	Depth       int     `json:"depth"`
	Utilization float64 `json:"utilization"`
	Admitted    int64   `json:"admitted"`
	Validated   int64   `json:"validated"`
	RejectedTxs int64   `json:"rejected_txs"`
}

func (pm *pipeMetric) MarkAdmitted() {
	pm.mtx.Lock()
	defer pm.mtx.Unlock()
	pm.Admitted++
}

func (pm *pipeMetric) MarkValidated() {
	pm.mtx.Lock()
	defer pm.mtx.Unlock()
	pm.Validated++
}

func (pm *pipeMetric) MarkRejected(n int) {
	pm.mtx.Lock()
	defer pm.mtx.Unlock()
	pm.RejectedTxs += int64(n)
}

func (pm *pipeMetric) JSONString() string {
	pm.mtx.RLock()
	view := pipeMetricView{
		InFlight:    pm.pipe.limiter.InFlight(),
		Depth:       pm.pipe.limiter.Depth(),
		Utilization: pm.pipe.limiter.Utilization(),
		Admitted:    pm.Admitted,
		Validated:   pm.Validated,
		RejectedTxs: pm.RejectedTxs,
	}
	pm.mtx.RUnlock()

	s, _ := jsoniter.MarshalToString(view)
	return s
}
