package netbatch

import "errors"

var (
	// ErrSendFailed wraps a transport failure that survived every retry.
	ErrSendFailed = errors.New("send failed after retries")

	// ErrTruncatedFrame marks a message batch cut short mid-frame.
	ErrTruncatedFrame = errors.New("truncated frame")

	// ErrUnknownFlag marks a message batch with an unrecognized leading
	// compression flag.
	ErrUnknownFlag = errors.New("unknown compression flag")

	// ErrQueueFull refuses an enqueue when the destination's backlog is at
	// the configured cap.
	ErrQueueFull = errors.New("destination queue full")

	ErrNotRunning = errors.New("network batcher is not running")
)
