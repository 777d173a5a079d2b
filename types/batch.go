package types

import (
	"fmt"
	"time"

	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

// Batch is a bounded, ordered group of transactions processed as a single
// consensus round's proposal. The accumulator creates it on flush; the
// pipeline owns it exclusively afterwards and never mutates it. Deriving the
// accepted subset goes through Select, which produces a new value.
type Batch struct {
	ID         int64     `json:"id"`
	Txs        Txs       `json:"txs"`
	TargetSize int       `json:"target_size"` // accumulator target at creation time
	CreatedAt  time.Time `json:"created_at"`
	Deadline   time.Time `json:"deadline"`
}

func NewBatch(id int64, txs Txs, targetSize int, deadline time.Time) *Batch {
	return &Batch{
		ID:         id,
		Txs:        txs,
		TargetSize: targetSize,
		CreatedAt:  time.Now(),
		Deadline:   deadline,
	}
}

func (b *Batch) Size() int {
	return len(b.Txs)
}

func (b *Batch) TotalBytes() int64 {
	return b.Txs.TotalBytes()
}

// Hash returns the merkle root over the batch's transactions.
func (b *Batch) Hash() tmbytes.HexBytes {
	return b.Txs.Hash()
}

// Select derives a batch carrying only the transactions at the given indices,
// preserving the batch identity and the original transaction order. The
// indices must be sorted ascending.
func (b *Batch) Select(idxs []int) *Batch {
	txs := make(Txs, 0, len(idxs))
	for _, i := range idxs {
		txs = append(txs, b.Txs[i])
	}
	return &Batch{
		ID:         b.ID,
		Txs:        txs,
		TargetSize: b.TargetSize,
		CreatedAt:  b.CreatedAt,
		Deadline:   b.Deadline,
	}
}

func (b *Batch) ValidateBasic() error {
	if b == nil {
		return fmt.Errorf("nil batch")
	}
	if len(b.Txs) == 0 {
		return fmt.Errorf("batch %d is empty", b.ID)
	}
	if b.ID < 0 {
		return fmt.Errorf("negative batch id %d", b.ID)
	}
	return nil
}

func (b *Batch) String() string {
	return fmt.Sprintf("Batch{id=%d txs=%d target=%d}", b.ID, len(b.Txs), b.TargetSize)
}
