package pipeline

import (
	"sync"

	"txpipe/accumulator"
	"txpipe/pool"
	"txpipe/types"
)

// Slot carries one batch through the stages. The accumulator's pending
// entries ride along so the finalizer can resolve futures or requeue; the
// pooled contexts ride along so they return to their pools exactly once, at
// release.
type Slot struct {
	Batch   *types.Batch
	Pending []*accumulator.PendingTx
	TxCtxs  []*pool.TxContext

	// filled by the validation stage
	Result        *types.ValidationResult
	Proposal      *types.Batch
	Accepted      []*accumulator.PendingTx
	InvalidReason string

	releaseOnce sync.Once
	release     func(*Slot)
}

// Release returns the slot's permit and pooled contexts. Safe to call more
// than once; only the first call takes effect.
func (s *Slot) Release() {
	s.releaseOnce.Do(func() {
		if s.release != nil {
			s.release(s)
		}
	})
}
