package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/libs/log"

	"txpipe/accumulator"
	"txpipe/config"
	"txpipe/pool"
	"txpipe/types"
)

// stubValidator accepts everything except payloads listed in reject.
type stubValidator struct {
	reject map[string]string
}

func (v *stubValidator) Validate(_ context.Context, batch *types.Batch) (*types.ValidationResult, error) {
	verdicts := make([]types.TxVerdict, batch.Size())
	accepted := 0
	for i, tx := range batch.Txs {
		reason, rejected := v.reject[string(tx.Payload)]
		verdicts[i] = types.TxVerdict{Index: i, Accepted: !rejected, Reason: reason}
		if !rejected {
			accepted++
		}
	}
	return &types.ValidationResult{
		BatchID:  batch.ID,
		Verdicts: verdicts,
		Valid:    accepted > 0,
	}, nil
}

type mockProposer struct {
	slots chan *Slot
	err   error
}

func (m *mockProposer) Propose(slot *Slot) error {
	if m.err != nil {
		return m.err
	}
	m.slots <- slot
	return nil
}

func newPipeline(t *testing.T, cfg *config.Config, validator BatchValidator, proposer ProposalStage) (*Pipeline, func()) {
	pools := pool.NewManager(cfg.Pool, cfg.Features.Pooling)
	pools.SetLogger(log.TestingLogger())
	p := NewPipeline(cfg.Pipeline, cfg.Validation, cfg.Features, validator, proposer, pools)
	p.SetLogger(log.TestingLogger())
	require.NoError(t, p.Start())
	return p, func() { _ = p.Stop() }
}

func makeSlotInput(count int) (*types.Batch, []*accumulator.PendingTx) {
	txs := make(types.Txs, count)
	pending := make([]*accumulator.PendingTx, count)
	for i := 0; i < count; i++ {
		tx := types.NewTx([]byte(fmt.Sprintf("payload-%03d", i)))
		txs[i] = tx
		pending[i] = &accumulator.PendingTx{Tx: tx, Future: types.NewTxFuture(tx)}
	}
	batch := types.NewBatch(int64(count), txs, count, time.Now().Add(time.Second))
	return batch, pending
}

func TestAdmitBoundedByDepth(t *testing.T) {
	cfg := config.TestConfig()
	cfg.Validation.StageWorkers = 0 // no workers, slots stay queued

	proposer := &mockProposer{slots: make(chan *Slot, 16)}
	p, cleanup := newPipeline(t, cfg, &stubValidator{}, proposer)
	defer cleanup()

	depth := p.Depth()
	slots := make([]*Slot, 0, depth)
	for i := 0; i < depth; i++ {
		batch, pending := makeSlotInput(2)
		require.NoError(t, p.Admit(batch, pending))
	}

	batch, pending := makeSlotInput(2)
	err := p.Admit(batch, pending)
	assert.Equal(t, ErrSaturated, err)

	// draining one slot frees one permit
	for i := 0; i < depth; i++ {
		slots = append(slots, <-p.validateCh)
	}
	slots[0].Release()
	assert.NoError(t, p.Admit(batch, pending))

	for _, s := range slots[1:] {
		s.Release()
	}
}

func TestRejectedTxsResolveAtValidation(t *testing.T) {
	cfg := config.TestConfig()
	validator := &stubValidator{reject: map[string]string{
		"payload-001": "malformed",
		"payload-003": "too old",
	}}
	proposer := &mockProposer{slots: make(chan *Slot, 4)}
	p, cleanup := newPipeline(t, cfg, validator, proposer)
	defer cleanup()

	batch, pending := makeSlotInput(5)
	require.NoError(t, p.Admit(batch, pending))

	var slot *Slot
	select {
	case slot = <-proposer.slots:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("validated slot never reached the proposer")
	}

	require.NotNil(t, slot.Proposal)
	assert.Equal(t, 3, slot.Proposal.Size())
	assert.Equal(t, batch.ID, slot.Proposal.ID, "the accepted subset keeps the batch identity")
	require.Len(t, slot.Accepted, 3)

	res, resolved := pending[1].Future.Result()
	require.True(t, resolved)
	assert.Equal(t, types.TxRejected, res.Status)
	assert.Equal(t, "malformed", res.Reason)

	_, resolved = pending[0].Future.Result()
	assert.False(t, resolved, "accepted txs resolve downstream")

	slot.Release()
}

func TestInvalidBatchForwardsWithReason(t *testing.T) {
	cfg := config.TestConfig()
	validator := &stubValidator{reject: map[string]string{
		"payload-000": "no",
		"payload-001": "no",
	}}
	proposer := &mockProposer{slots: make(chan *Slot, 4)}
	p, cleanup := newPipeline(t, cfg, validator, proposer)
	defer cleanup()

	batch, pending := makeSlotInput(2)
	require.NoError(t, p.Admit(batch, pending))

	select {
	case slot := <-proposer.slots:
		assert.Nil(t, slot.Proposal)
		assert.NotEmpty(t, slot.InvalidReason)
		slot.Release()
	case <-time.After(500 * time.Millisecond):
		t.Fatal("invalid slot never reached the proposer")
	}

	for _, ptx := range pending {
		res, resolved := ptx.Future.Result()
		require.True(t, resolved)
		assert.Equal(t, types.TxRejected, res.Status)
	}
}

func TestSlotReleaseIsIdempotent(t *testing.T) {
	cfg := config.TestConfig()
	proposer := &mockProposer{slots: make(chan *Slot, 4)}
	p, cleanup := newPipeline(t, cfg, &stubValidator{}, proposer)
	defer cleanup()

	batch, pending := makeSlotInput(1)
	require.NoError(t, p.Admit(batch, pending))

	slot := <-proposer.slots
	slot.Release()
	slot.Release()
	assert.Equal(t, 0, p.InFlight(), "double release must not underflow the limiter")
}

func TestPipeliningDisabledSerializes(t *testing.T) {
	cfg := config.TestConfig()
	cfg.Features.Pipelining = false
	cfg.Validation.StageWorkers = 0

	proposer := &mockProposer{slots: make(chan *Slot, 4)}
	p, cleanup := newPipeline(t, cfg, &stubValidator{}, proposer)
	defer cleanup()

	require.Equal(t, 1, p.Depth())

	batch, pending := makeSlotInput(1)
	require.NoError(t, p.Admit(batch, pending))

	batch2, pending2 := makeSlotInput(1)
	assert.Equal(t, ErrSaturated, p.Admit(batch2, pending2))

	(<-p.validateCh).Release()
}

func TestProposerFailureResolvesFutures(t *testing.T) {
	cfg := config.TestConfig()
	proposer := &mockProposer{err: errors.New("agreement stage stopped")}
	p, cleanup := newPipeline(t, cfg, &stubValidator{}, proposer)
	defer cleanup()

	batch, pending := makeSlotInput(3)
	require.NoError(t, p.Admit(batch, pending))

	for _, ptx := range pending {
		res := waitResolved(t, ptx.Future)
		assert.Equal(t, types.TxTimedOut, res.Status)
	}
	require.Eventually(t, func() bool { return p.InFlight() == 0 },
		500*time.Millisecond, 5*time.Millisecond, "aborted slot must release its permit")
}

func TestAdmitAfterStopFails(t *testing.T) {
	cfg := config.TestConfig()
	proposer := &mockProposer{slots: make(chan *Slot, 4)}
	p, cleanup := newPipeline(t, cfg, &stubValidator{}, proposer)
	cleanup()

	batch, pending := makeSlotInput(1)
	assert.Equal(t, ErrNotRunning, p.Admit(batch, pending))
}

func waitResolved(t *testing.T, fut *types.TxFuture) types.TerminalResult {
	t.Helper()
	select {
	case <-fut.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatal("future never resolved")
	}
	res, _ := fut.Result()
	return res
}
