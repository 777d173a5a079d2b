package pipeline

import "errors"

var (
	// ErrSaturated is returned to the accumulator when every slot is taken;
	// the caller keeps its transactions buffered and retries later.
	ErrSaturated = errors.New("pipeline saturated")

	ErrNotRunning = errors.New("pipeline is not running")
)
