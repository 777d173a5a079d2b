package accumulator

import (
	"txpipe/types"
)

// Accumulator collects submitted transactions into bounded batches and hands
// them to the pipeline on flush.
type Accumulator interface {
	// Submit buffers a transaction and returns its pending handle. The
	// handle resolves exactly once with the transaction's terminal state.
	Submit(tx *types.Tx) (*types.TxFuture, error)

	// Requeue puts a timed-out batch's transactions back into the buffer
	// for a later round, bounded by the configured requeue limit.
	Requeue(pending []*PendingTx)

	// SetTargetSize updates the flush target; written by the adaptive
	// controller, read on every flush.
	SetTargetSize(size int)
	TargetSize() int

	// Size returns the number of buffered transactions.
	Size() int

	// TxsBytes returns the total byte size of buffered transactions.
	TxsBytes() int64
}

// PendingTx couples a buffered transaction with its unresolved future and
// its requeue count.
type PendingTx struct {
	Tx       *types.Tx
	Future   *types.TxFuture
	Requeues int
}

// BatchSink admits a flushed batch into the pipeline. ErrPipelineSaturated
// style errors defer the flush; the accumulator keeps the transactions and
// retries on the next tick.
type BatchSink interface {
	Admit(batch *types.Batch, pending []*PendingTx) error
}

// SampleObserver receives one (batch size, throughput) sample per flush;
// the adaptive controller implements it.
type SampleObserver interface {
	Observe(batchSize int, throughput float64)
}
