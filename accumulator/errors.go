package accumulator

import "errors"

var (
	// ErrTxInBuffer is returned to the client if we saw the tx earlier.
	ErrTxInBuffer = errors.New("tx already exists in buffer")

	ErrNotRunning = errors.New("accumulator is not running")
)
