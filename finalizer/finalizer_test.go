package finalizer

import (
	"fmt"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/libs/log"

	"txpipe/accumulator"
	"txpipe/config"
	"txpipe/pipeline"
	"txpipe/types"
)

type mockCommitter struct {
	err       error
	committed []types.Txs
	decisions []*types.ConsensusDecision
}

func (m *mockCommitter) Commit(txs types.Txs, d *types.ConsensusDecision) error {
	if m.err != nil {
		return m.err
	}
	m.committed = append(m.committed, txs)
	m.decisions = append(m.decisions, d)
	return nil
}

type mockRequeuer struct {
	requeued [][]*accumulator.PendingTx
}

func (m *mockRequeuer) Requeue(pending []*accumulator.PendingTx) {
	m.requeued = append(m.requeued, pending)
}

type mockAnnouncer struct {
	dests    []string
	payloads [][]byte
}

func (m *mockAnnouncer) Enqueue(dest string, payload []byte) error {
	m.dests = append(m.dests, dest)
	m.payloads = append(m.payloads, payload)
	return nil
}

func newFinalizer(committer Committer, requeuer Requeuer, options ...FinalizerOption) *Finalizer {
	f := NewFinalizer(config.TestConfig().Network, committer, requeuer, options...)
	f.SetLogger(log.TestingLogger())
	return f
}

func makeSlot(batchID int64, size int) *pipeline.Slot {
	txs := make(types.Txs, size)
	pending := make([]*accumulator.PendingTx, size)
	for i := 0; i < size; i++ {
		tx := types.NewTx([]byte(fmt.Sprintf("batch%d-tx%03d", batchID, i)))
		txs[i] = tx
		pending[i] = &accumulator.PendingTx{Tx: tx, Future: types.NewTxFuture(tx)}
	}
	batch := types.NewBatch(batchID, txs, size, time.Now().Add(time.Second))
	return &pipeline.Slot{
		Batch:    batch,
		Pending:  pending,
		Proposal: batch,
		Accepted: pending,
	}
}

func makeDecision(batchID, seq int64, verdict types.Verdict, reason string) *types.ConsensusDecision {
	return &types.ConsensusDecision{
		BatchID:   batchID,
		Seq:       seq,
		Support:   1,
		Threshold: 1,
		Verdict:   verdict,
		Reason:    reason,
		DecidedAt: time.Now(),
	}
}

func TestCommitResolvesFuturesInOrder(t *testing.T) {
	committer := &mockCommitter{}
	f := newFinalizer(committer, &mockRequeuer{})

	slot := makeSlot(3, 5)
	require.NoError(t, f.Finalize(makeDecision(3, 7, types.VerdictCommitted, ""), slot))

	require.Len(t, committer.committed, 1)
	require.Len(t, committer.committed[0], 5)
	for i, tx := range committer.committed[0] {
		assert.Equal(t, slot.Proposal.Txs[i].Payload, tx.Payload, "commit order must match the proposal")
	}

	for _, ptx := range slot.Pending {
		res, resolved := ptx.Future.Result()
		require.True(t, resolved)
		assert.Equal(t, types.TxCommitted, res.Status)
		assert.Equal(t, int64(7), res.DecisionSeq)
	}
	assert.Equal(t, int64(5), f.CommittedTxs())
}

func TestCommitFailureRejectsFutures(t *testing.T) {
	committer := &mockCommitter{err: errors.New("disk full")}
	f := newFinalizer(committer, &mockRequeuer{})

	slot := makeSlot(0, 3)
	err := f.Finalize(makeDecision(0, 0, types.VerdictCommitted, ""), slot)
	require.Error(t, err)

	for _, ptx := range slot.Pending {
		res, resolved := ptx.Future.Result()
		require.True(t, resolved)
		assert.Equal(t, types.TxRejected, res.Status)
		assert.Contains(t, res.Reason, "disk full")
	}
}

func TestRejectionCarriesReason(t *testing.T) {
	f := newFinalizer(&mockCommitter{}, &mockRequeuer{})

	slot := makeSlot(0, 2)
	require.NoError(t, f.Finalize(makeDecision(0, 0, types.VerdictRejected, "against quorum"), slot))

	for _, ptx := range slot.Pending {
		res, resolved := ptx.Future.Result()
		require.True(t, resolved)
		assert.Equal(t, types.TxRejected, res.Status)
		assert.Equal(t, "against quorum", res.Reason)
	}
}

func TestTimeoutRequeuesWithoutResolving(t *testing.T) {
	requeuer := &mockRequeuer{}
	f := newFinalizer(&mockCommitter{}, requeuer)

	slot := makeSlot(0, 4)
	require.NoError(t, f.Finalize(makeDecision(0, 0, types.VerdictTimedOut, "quorum timeout"), slot))

	require.Len(t, requeuer.requeued, 1)
	assert.Len(t, requeuer.requeued[0], 4)
	for _, ptx := range slot.Pending {
		_, resolved := ptx.Future.Result()
		assert.False(t, resolved, "requeued txs get another round, not a terminal state")
	}
}

func TestOnlyAcceptedSubsetSettles(t *testing.T) {
	committer := &mockCommitter{}
	f := newFinalizer(committer, &mockRequeuer{})

	slot := makeSlot(0, 4)
	// validation already settled the last tx; the proposal carries the rest
	rejected := slot.Pending[3]
	rejected.Future.Resolve(types.TerminalResult{Status: types.TxRejected, Reason: "malformed"})
	slot.Accepted = slot.Pending[:3]
	slot.Proposal = slot.Batch.Select([]int{0, 1, 2})

	require.NoError(t, f.Finalize(makeDecision(0, 1, types.VerdictCommitted, ""), slot))

	res, _ := rejected.Future.Result()
	assert.Equal(t, types.TxRejected, res.Status, "a settled rejection must not flip to committed")

	for _, ptx := range slot.Accepted {
		res, resolved := ptx.Future.Result()
		require.True(t, resolved)
		assert.Equal(t, types.TxCommitted, res.Status)
	}
	require.Len(t, committer.committed, 1)
	assert.Len(t, committer.committed[0], 3)
}

func TestCommitNoticesAnnouncePerTx(t *testing.T) {
	announcer := &mockAnnouncer{}
	f := newFinalizer(&mockCommitter{}, &mockRequeuer{}, SetAnnouncer(announcer))

	slot := makeSlot(9, 3)
	require.NoError(t, f.Finalize(makeDecision(9, 2, types.VerdictCommitted, ""), slot))

	cfg := config.TestConfig().Network
	require.Len(t, announcer.payloads, 3)
	for i, payload := range announcer.payloads {
		assert.Equal(t, cfg.BroadcastDest, announcer.dests[i])
		var notice commitNotice
		require.NoError(t, jsoniter.Unmarshal(payload, &notice))
		assert.Equal(t, int64(9), notice.BatchID)
		assert.Equal(t, int64(2), notice.Seq)
		assert.Equal(t, []byte(slot.Proposal.Txs[i].Hash()), notice.TxHash)
	}
}
