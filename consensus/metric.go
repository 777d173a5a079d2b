package consensus

import (
	"sync"

	jsoniter "github.com/json-iterator/go"

	"txpipe/types"
)

func newConsMetric(s *State) *consMetric {
	return &consMetric{state: s}
}

type consMetric struct {
	state *State

	mtx       sync.RWMutex
	Committed int64 `json:"committed"`
	Rejected  int64 `json:"rejected"`
	TimedOut  int64 `json:"timed_out"`
	Votes     int64 `json:"votes"`
	LastSeq   int64 `json:"last_seq"`
}

type consMetricView struct {
	Term      int64 `json:"term"`
	Committed int64 `json:"committed"`
	Rejected  int64 `json:"rejected"`
	TimedOut  int64 `json:"timed_out"`
	Votes     int64 `json:"votes"`
	LastSeq   int64 `json:"last_seq"`
}

func (cm *consMetric) MarkVote() {
	cm.mtx.Lock()
	defer cm.mtx.Unlock()
	cm.Votes++
}

func (cm *consMetric) MarkDecision(d *types.ConsensusDecision) {
	cm.mtx.Lock()
	defer cm.mtx.Unlock()
	switch d.Verdict {
	case types.VerdictCommitted:
		cm.Committed++
	case types.VerdictRejected:
		cm.Rejected++
	case types.VerdictTimedOut:
		cm.TimedOut++
	}
	cm.LastSeq = d.Seq
}

func (cm *consMetric) JSONString() string {
	cm.mtx.RLock()
	view := consMetricView{
		Term:      cm.state.Term().Int64(),
		Committed: cm.Committed,
		Rejected:  cm.Rejected,
		TimedOut:  cm.TimedOut,
		Votes:     cm.Votes,
		LastSeq:   cm.LastSeq,
	}
	cm.mtx.RUnlock()

	s, _ := jsoniter.MarshalToString(view)
	return s
}
