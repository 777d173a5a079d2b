package consensus

import (
	"bytes"
	"fmt"
	"sync"

	"txpipe/types"
)

// VoteSet tallies one batch's votes. At most one vote per replica counts;
// the tally is evaluated against the threshold after every addition.
type VoteSet struct {
	term      types.Term
	batchID   int64
	batchHash []byte
	threshold int
	replicas  *types.ReplicaSet

	mtx         sync.Mutex
	votesByAddr map[string]*types.Vote
	support     int
	against     int
}

func NewVoteSet(term types.Term, batchID int64, batchHash []byte, threshold int, replicas *types.ReplicaSet) *VoteSet {
	return &VoteSet{
		term:        term,
		batchID:     batchID,
		batchHash:   batchHash,
		threshold:   threshold,
		replicas:    replicas,
		votesByAddr: make(map[string]*types.Vote, replicas.Size()),
	}
}

// AddVote records the vote and returns the tally's quorum state afterwards.
func (vs *VoteSet) AddVote(vote *types.Vote) (types.Quorum, error) {
	if err := vote.ValidateBasic(); err != nil {
		return types.Quorum{}, err
	}
	if !vs.replicas.HasAddress(vote.ReplicaAddress) {
		return types.Quorum{}, ErrUnknownReplica
	}
	if vote.BatchID != vs.batchID {
		return types.Quorum{}, fmt.Errorf("vote for batch %d added to tally of batch %d",
			vote.BatchID, vs.batchID)
	}
	if !bytes.Equal(vote.BatchHash, vs.batchHash) {
		return types.Quorum{}, ErrConflictingHash
	}

	vs.mtx.Lock()
	defer vs.mtx.Unlock()

	addr := string(vote.ReplicaAddress)
	if _, ok := vs.votesByAddr[addr]; ok {
		return vs.quorum(), ErrDuplicateVote
	}
	vs.votesByAddr[addr] = vote

	switch vote.Type {
	case types.SupportVote:
		vs.support++
	case types.AgainstVote:
		vs.against++
	}

	return vs.quorum(), nil
}

// Quorum returns the current quorum state of the tally.
func (vs *VoteSet) Quorum() types.Quorum {
	vs.mtx.Lock()
	defer vs.mtx.Unlock()
	return vs.quorum()
}

func (vs *VoteSet) quorum() types.Quorum {
	return types.EvalQuorum(vs.support, vs.against, vs.threshold, vs.replicas.Size())
}

func (vs *VoteSet) Size() int {
	vs.mtx.Lock()
	defer vs.mtx.Unlock()
	return len(vs.votesByAddr)
}

func (vs *VoteSet) BatchID() int64 {
	return vs.batchID
}

func (vs *VoteSet) BatchHash() []byte {
	return vs.batchHash
}

func (vs *VoteSet) Term() types.Term {
	return vs.term
}

func (vs *VoteSet) String() string {
	vs.mtx.Lock()
	defer vs.mtx.Unlock()
	return fmt.Sprintf("VoteSet{batch=%d term=%d %d/%d support=%d against=%d}",
		vs.batchID, vs.term, len(vs.votesByAddr), vs.replicas.Size(), vs.support, vs.against)
}
