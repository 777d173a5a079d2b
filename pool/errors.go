package pool

import "errors"

var (
	// ErrResetViolation marks residual state detected after Reset. It is a
	// defect signal: callers escalate it, never swallow it.
	ErrResetViolation = errors.New("pooled context kept residual state after reset")

	ErrNilContext = errors.New("release of nil pooled context")
)
