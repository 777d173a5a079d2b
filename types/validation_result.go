package types

// TxVerdict is the per-transaction outcome of the validation stage.
type TxVerdict struct {
	Index    int    `json:"index"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// ValidationResult carries the per-transaction verdicts for one batch, in
// the batch's original transaction order, plus the aggregate validity flag.
// Read-only once produced.
type ValidationResult struct {
	BatchID  int64       `json:"batch_id"`
	Verdicts []TxVerdict `json:"verdicts"`
	Valid    bool        `json:"valid"`
}

// AcceptedIdxs returns the accepted transaction indices in original order.
func (r *ValidationResult) AcceptedIdxs() []int {
	idxs := make([]int, 0, len(r.Verdicts))
	for _, v := range r.Verdicts {
		if v.Accepted {
			idxs = append(idxs, v.Index)
		}
	}
	return idxs
}

// RejectedIdxs returns the rejected transaction indices in original order.
func (r *ValidationResult) RejectedIdxs() []int {
	idxs := make([]int, 0)
	for _, v := range r.Verdicts {
		if !v.Accepted {
			idxs = append(idxs, v.Index)
		}
	}
	return idxs
}

func (r *ValidationResult) AcceptedCount() int {
	n := 0
	for _, v := range r.Verdicts {
		if v.Accepted {
			n++
		}
	}
	return n
}
