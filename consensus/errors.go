package consensus

import "errors"

var (
	// ErrDuplicateVote marks a second vote by the same replica on the same
	// batch.
	ErrDuplicateVote = errors.New("duplicate vote")

	// ErrConflictingHash marks a vote whose batch hash disagrees with the
	// proposal it claims to vote on.
	ErrConflictingHash = errors.New("vote hash conflicts with proposal")

	// ErrUnknownReplica marks a vote from an address outside the replica set.
	ErrUnknownReplica = errors.New("vote from unknown replica")

	// ErrStaleVote marks a vote for a batch that already reached a decision.
	ErrStaleVote = errors.New("vote for a decided batch")

	ErrNotRunning = errors.New("consensus is not running")
)
