package types

import (
	"fmt"
	"time"
)

type Verdict uint8

const (
	VerdictCommitted = Verdict(1)
	VerdictRejected  = Verdict(2)
	VerdictTimedOut  = Verdict(3)
)

func (v Verdict) String() string {
	switch v {
	case VerdictCommitted:
		return "COMMITTED"
	case VerdictRejected:
		return "REJECTED"
	case VerdictTimedOut:
		return "TIMED_OUT"
	default:
		return "UNKNOWN"
	}
}

// ConsensusDecision is the immutable outcome of one batch's consensus round.
// Seq is the decision sequence number; callers needing strict global ordering
// must order by Seq, not by submission time, because pipelining lets a
// later-submitted batch reach quorum first.
type ConsensusDecision struct {
	BatchID   int64     `json:"batch_id"`
	Term      Term      `json:"term"`
	Seq       int64     `json:"seq"`
	Support   int       `json:"support"`
	Against   int       `json:"against"`
	Threshold int       `json:"threshold"`
	Verdict   Verdict   `json:"verdict"`
	Reason    string    `json:"reason,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}

// ValidateBasic enforces the commit invariant: a decision may carry
// VerdictCommitted only with support at or above the threshold. A violation
// here is a defect, never a recoverable condition.
func (d *ConsensusDecision) ValidateBasic() error {
	if d == nil {
		return fmt.Errorf("nil decision")
	}
	if d.Verdict == VerdictCommitted && d.Support < d.Threshold {
		return fmt.Errorf("decision for batch %d committed with %d/%d support",
			d.BatchID, d.Support, d.Threshold)
	}
	if d.Seq < 0 {
		return fmt.Errorf("negative decision seq %d", d.Seq)
	}
	return nil
}

func (d *ConsensusDecision) String() string {
	return fmt.Sprintf("Decision{batch=%d term=%d seq=%d %v %d/%d}",
		d.BatchID, d.Term, d.Seq, d.Verdict, d.Support, d.Threshold)
}
