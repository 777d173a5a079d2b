package types

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

type VoteType uint8

const (
	SupportVote = VoteType(1)
	AgainstVote = VoteType(2)
)

func (t VoteType) String() string {
	switch t {
	case SupportVote:
		return "SupportVote"
	case AgainstVote:
		return "AgainstVote"
	default:
		return "UnknownVote"
	}
}

// Vote is a single replica's verdict on a batch proposal. A replica casts at
// most one vote per batch. The signature is opaque here; verification is the
// injected capability's job.
type Vote struct {
	Term           Term             `json:"term"`
	BatchID        int64            `json:"batch_id"`
	BatchHash      tmbytes.HexBytes `json:"batch_hash"`
	Type           VoteType         `json:"vote_type"`
	Timestamp      time.Time        `json:"timestamp"`
	ReplicaAddress Address          `json:"replica_address"`
	ReplicaIndex   int32            `json:"replica_index"`
	Signature      tmbytes.HexBytes `json:"signature"`
}

func (v *Vote) ValidateBasic() error {
	if v == nil {
		return errors.New("nil vote")
	}
	if v.Type != SupportVote && v.Type != AgainstVote {
		return fmt.Errorf("unknown vote type %d", v.Type)
	}
	if v.BatchID < 0 {
		return fmt.Errorf("negative batch id %d", v.BatchID)
	}
	if len(v.ReplicaAddress) == 0 {
		return errors.New("vote has empty replica address")
	}
	if v.ReplicaIndex < 0 {
		return fmt.Errorf("vote has negative replica index %d", v.ReplicaIndex)
	}
	return nil
}

// Equal reports whether two votes are cast by the same replica on the same
// batch with the same verdict.
func (v *Vote) Equal(other *Vote) bool {
	if v == nil || other == nil {
		return v == other
	}
	return v.BatchID == other.BatchID &&
		v.Type == other.Type &&
		v.Term.Equal(other.Term) &&
		bytes.Equal(v.ReplicaAddress, other.ReplicaAddress)
}

func (v *Vote) String() string {
	return fmt.Sprintf("Vote{batch=%d term=%d %v by %v}",
		v.BatchID, v.Term, v.Type, v.ReplicaAddress)
}
