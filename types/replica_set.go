// adapted from the validator set handling in
// github.com/tendermint/tendermint/types/validator_set.go
package types

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// ReplicaSet is the fixed set of consensus participants for this deployment.
//
// Replicas can be fetched by address or index. Leadership rotates round-robin
// over the set by term.
//
// NOTE: Not goroutine-safe.
// NOTE: All get to replicas copy the value for safety.
type ReplicaSet struct {
	Replicas []*Replica `json:"replicas"`
}

// NewReplicaSet initializes a ReplicaSet by copying over the values from
// `replicas`. If replicas is nil or empty, the new ReplicaSet will have an
// empty list.
func NewReplicaSet(replicas []*Replica) *ReplicaSet {
	rs := &ReplicaSet{}
	rs.Replicas = make([]*Replica, 0, len(replicas))

	for _, r := range replicas {
		rs.Replicas = append(rs.Replicas, r.Copy())
	}

	return rs
}

func (rs *ReplicaSet) ValidateBasic() error {
	if rs.IsNilOrEmpty() {
		return errors.New("replica set is nil or empty")
	}

	for idx, r := range rs.Replicas {
		if err := r.ValidateBasic(); err != nil {
			return fmt.Errorf("invalid replica #%d: %w", idx, err)
		}
	}

	return nil
}

// IsNilOrEmpty returns true if the replica set is nil or empty.
func (rs *ReplicaSet) IsNilOrEmpty() bool {
	return rs == nil || len(rs.Replicas) == 0
}

// Copy each replica into a new ReplicaSet.
func (rs *ReplicaSet) Copy() *ReplicaSet {
	return NewReplicaSet(rs.Replicas)
}

// HasAddress returns true if address given is in the replica set, false -
// otherwise.
func (rs *ReplicaSet) HasAddress(address []byte) bool {
	for _, r := range rs.Replicas {
		if bytes.Equal(r.Address, address) {
			return true
		}
	}
	return false
}

// GetByAddress returns an index of the replica with address and the replica
// itself (copy) if found. Otherwise, -1 and nil are returned.
func (rs *ReplicaSet) GetByAddress(address []byte) (index int32, replica *Replica) {
	for idx, r := range rs.Replicas {
		if bytes.Equal(r.Address, address) {
			return int32(idx), r.Copy()
		}
	}
	return -1, nil
}

// GetByIndex returns the replica's address and the replica itself (copy) by
// index. It returns nil values if index is out of range.
func (rs *ReplicaSet) GetByIndex(index int32) (address []byte, replica *Replica) {
	if index < 0 || int(index) >= len(rs.Replicas) {
		return nil, nil
	}
	r := rs.Replicas[index]
	return r.Address, r.Copy()
}

// Size returns the length of the replica set.
func (rs *ReplicaSet) Size() int {
	return len(rs.Replicas)
}

// Majority returns the smallest count strictly greater than half the set.
func (rs *ReplicaSet) Majority() int {
	return rs.Size()/2 + 1
}

// Leader returns the leader for the given term. If the replica set is empty,
// nil is returned.
func (rs *ReplicaSet) Leader(term Term) (leader *Replica) {
	if len(rs.Replicas) == 0 {
		return nil
	}
	idx := term.Mod(len(rs.Replicas))

	return rs.Replicas[idx].Copy()
}

// Iterate will run the given function over the set.
func (rs *ReplicaSet) Iterate(fn func(index int, replica *Replica) bool) {
	for i, r := range rs.Replicas {
		stop := fn(i, r.Copy())
		if stop {
			break
		}
	}
}

// String returns a string representation of ReplicaSet.
func (rs *ReplicaSet) String() string {
	if rs == nil {
		return "nil-ReplicaSet"
	}
	var strs []string
	rs.Iterate(func(index int, r *Replica) bool {
		strs = append(strs, r.String())
		return false
	})
	return fmt.Sprintf("ReplicaSet{%s}", strings.Join(strs, ", "))
}

// GenReplicaSet returns a replica set of the requested size with generated
// addresses.
//
// EXPOSED FOR TESTING.
func GenReplicaSet(num int) *ReplicaSet {
	replicas := make([]*Replica, num)
	for i := 0; i < num; i++ {
		replicas[i] = &Replica{
			Address: []byte(fmt.Sprintf("replica-%02d", i)),
			Index:   int32(i),
		}
	}
	return NewReplicaSet(replicas)
}
