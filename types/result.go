package types

import (
	"context"
	"sync"
)

type TerminalStatus uint8

const (
	TxCommitted = TerminalStatus(1)
	TxRejected  = TerminalStatus(2)
	TxTimedOut  = TerminalStatus(3)
)

func (s TerminalStatus) String() string {
	switch s {
	case TxCommitted:
		return "committed"
	case TxRejected:
		return "rejected"
	case TxTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// TerminalResult is the single terminal outcome of a submitted transaction.
type TerminalResult struct {
	Status      TerminalStatus `json:"status"`
	DecisionSeq int64          `json:"decision_seq,omitempty"`
	Reason      string         `json:"reason,omitempty"`
}

// TxFuture is the pending handle returned by submit. It resolves exactly
// once; later resolutions are ignored so a transaction can never reach two
// terminal states.
type TxFuture struct {
	tx *Tx

	once   sync.Once
	done   chan struct{}
	result TerminalResult
}

func NewTxFuture(tx *Tx) *TxFuture {
	return &TxFuture{
		tx:   tx,
		done: make(chan struct{}),
	}
}

func (f *TxFuture) Tx() *Tx {
	return f.tx
}

// Resolve sets the terminal result. It reports whether this call won; a
// false return means the future was already resolved.
func (f *TxFuture) Resolve(result TerminalResult) bool {
	won := false
	f.once.Do(func() {
		f.result = result
		close(f.done)
		won = true
	})
	return won
}

// Done is closed once the future is resolved.
func (f *TxFuture) Done() <-chan struct{} {
	return f.done
}

// Result returns the terminal result and whether the future has resolved.
func (f *TxFuture) Result() (TerminalResult, bool) {
	select {
	case <-f.done:
		return f.result, true
	default:
		return TerminalResult{}, false
	}
}

// Wait blocks until the future resolves or the context is cancelled.
func (f *TxFuture) Wait(ctx context.Context) (TerminalResult, error) {
	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		return TerminalResult{}, ctx.Err()
	}
}
