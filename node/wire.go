package node

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"txpipe/netbatch"
	"txpipe/types"
)

// Wire envelope kinds.
const (
	kindProposal = "proposal"
	kindVote     = "vote"
)

// envelope is the one message shape on the replica wire; Kind picks which
// field is set.
type envelope struct {
	Kind  string       `json:"kind"`
	Term  types.Term   `json:"term,omitempty"`
	Batch *types.Batch `json:"batch,omitempty"`
	Vote  *types.Vote  `json:"vote,omitempty"`
}

// broadcaster fans consensus messages out through the network batcher.
type broadcaster struct {
	batcher *netbatch.Batcher
	dest    string
}

func newBroadcaster(batcher *netbatch.Batcher, dest string) *broadcaster {
	return &broadcaster{batcher: batcher, dest: dest}
}

func (b *broadcaster) BroadcastProposal(batch *types.Batch, term types.Term) error {
	return b.enqueue(envelope{Kind: kindProposal, Term: term, Batch: batch})
}

func (b *broadcaster) BroadcastVote(vote *types.Vote) error {
	return b.enqueue(envelope{Kind: kindVote, Vote: vote})
}

func (b *broadcaster) enqueue(env envelope) error {
	payload, err := jsoniter.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "encoding envelope")
	}
	return b.batcher.Enqueue(b.dest, payload)
}

// Receive feeds one inbound wire frame through the node: votes go to the
// tally, proposals from the current leader get voted on. Malformed messages
// inside an intact frame only log; the frame keeps processing.
func (n *Node) Receive(frame []byte) error {
	payloads, err := netbatch.Decode(frame)
	if err != nil {
		return errors.Wrap(err, "decoding inbound frame")
	}

	for _, payload := range payloads {
		var env envelope
		if err := jsoniter.Unmarshal(payload, &env); err != nil {
			n.Logger.Error("dropped malformed inbound message", "err", err)
			continue
		}

		switch env.Kind {
		case kindVote:
			if err := n.cons.AddVote(env.Vote); err != nil {
				n.Logger.Debug("inbound vote refused", "err", err)
			}
		case kindProposal:
			n.respondToProposal(env.Batch, env.Term)
		default:
			n.Logger.Debug("dropped inbound message of unknown kind", "kind", env.Kind)
		}
	}
	return nil
}

// respondToProposal casts this replica's vote on a remote leader's batch:
// support when the batch validates, against otherwise.
func (n *Node) respondToProposal(batch *types.Batch, term types.Term) {
	if batch == nil {
		n.Logger.Debug("dropped proposal without batch")
		return
	}

	voteType := types.SupportVote
	if err := batch.ValidateBasic(); err != nil {
		voteType = types.AgainstVote
	} else if res, err := n.validator.Validate(context.TODO(), batch); err != nil || !res.Valid {
		voteType = types.AgainstVote
	}

	vote := &types.Vote{
		Term:           term,
		BatchID:        batch.ID,
		BatchHash:      batch.Hash(),
		Type:           voteType,
		Timestamp:      time.Now(),
		ReplicaAddress: n.self.Address,
		ReplicaIndex:   n.self.Index,
	}
	if err := n.bcast.BroadcastVote(vote); err != nil {
		n.Logger.Error("vote broadcast failed", "batch", batch.ID, "err", err)
	}
}
