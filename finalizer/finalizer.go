package finalizer

import (
	"fmt"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/tendermint/tendermint/libs/log"

	"txpipe/accumulator"
	"txpipe/config"
	"txpipe/pipeline"
	"txpipe/types"
)

// Committer applies a committed batch's transactions in decision order.
// Implementations are the durable side of the flow; a commit error fails
// the whole batch.
type Committer interface {
	Commit(txs types.Txs, decision *types.ConsensusDecision) error
}

// Requeuer takes a timed-out batch's transactions back for another round.
// Implemented by the accumulator.
type Requeuer interface {
	Requeue(pending []*accumulator.PendingTx)
}

// Announcer pushes commit notices toward the other replicas. Implemented by
// the network batcher; nil disables announcements.
type Announcer interface {
	Enqueue(dest string, payload []byte) error
}

// commitNotice is the per-transaction payload announced after a commit.
type commitNotice struct {
	BatchID int64  `json:"batch_id"`
	Seq     int64  `json:"seq"`
	TxHash  []byte `json:"tx_hash"`
}

// Finalizer settles decided slots: committed batches reach the committer
// and their futures resolve with the decision sequence, rejected batches
// resolve with the rejection reason, timed-out batches go back to the
// accumulator. The slot is always released, exactly once, whatever the
// verdict.
type Finalizer struct {
	cfg       *config.NetworkConfig
	committer Committer
	requeuer  Requeuer
	announcer Announcer
	logger    log.Logger

	// Atomic counters
	committedTxs   int64
	rejectedTxs    int64
	timedOutTxs    int64
	requeuedTxs    int64
	commitFailures int64

	latency    gometrics.Histogram
	throughput gometrics.Meter

	metric *finMetric
}

type FinalizerOption func(*Finalizer)

// SetAnnouncer wires commit notices into the network batcher.
func SetAnnouncer(a Announcer) FinalizerOption {
	return func(f *Finalizer) {
		f.announcer = a
	}
}

func NewFinalizer(
	cfg *config.NetworkConfig,
	committer Committer,
	requeuer Requeuer,
	options ...FinalizerOption,
) *Finalizer {
	f := &Finalizer{
		cfg:        cfg,
		committer:  committer,
		requeuer:   requeuer,
		logger:     log.NewNopLogger(),
		latency:    gometrics.NewHistogram(gometrics.NewExpDecaySample(1028, 0.015)),
		throughput: gometrics.NewMeter(),
	}
	f.metric = newFinMetric(f)

	for _, option := range options {
		option(f)
	}

	return f
}

func (f *Finalizer) SetLogger(l log.Logger) {
	f.logger = l
}

// Finalize settles one decided slot. Implements the decision sink of the
// agreement stage.
func (f *Finalizer) Finalize(decision *types.ConsensusDecision, slot *pipeline.Slot) error {
	defer slot.Release()

	switch decision.Verdict {
	case types.VerdictCommitted:
		return f.commit(decision, slot)
	case types.VerdictRejected:
		f.reject(decision, slot)
		return nil
	case types.VerdictTimedOut:
		f.requeue(decision, slot)
		return nil
	default:
		return fmt.Errorf("decision for batch %d carries unknown verdict %d",
			decision.BatchID, decision.Verdict)
	}
}

// Metric exposes the snapshot item for registration.
func (f *Finalizer) Metric() *finMetric {
	return f.metric
}

func (f *Finalizer) CommittedTxs() int64 {
	return atomic.LoadInt64(&f.committedTxs)
}

func (f *Finalizer) commit(decision *types.ConsensusDecision, slot *pipeline.Slot) error {
	pending := settleable(slot)
	txs := slot.Proposal.Txs

	if err := f.committer.Commit(txs, decision); err != nil {
		atomic.AddInt64(&f.commitFailures, 1)
		reason := fmt.Sprintf("commit failed: %v", err)
		for _, ptx := range pending {
			ptx.Future.Resolve(types.TerminalResult{
				Status:      types.TxRejected,
				DecisionSeq: decision.Seq,
				Reason:      reason,
			})
		}
		f.logger.Error("commit failed", "batch", decision.BatchID, "err", err)
		return errors.Wrapf(err, "committing batch %d", decision.BatchID)
	}

	now := time.Now()
	for _, ptx := range pending {
		ptx.Future.Resolve(types.TerminalResult{
			Status:      types.TxCommitted,
			DecisionSeq: decision.Seq,
		})
		f.latency.Update(now.Sub(ptx.Tx.SubmitTime).Nanoseconds())
	}
	atomic.AddInt64(&f.committedTxs, int64(len(txs)))
	f.throughput.Mark(int64(len(txs)))

	f.announce(decision, txs)

	f.logger.Info("finalized batch",
		"batch", decision.BatchID, "seq", decision.Seq, "txs", len(txs))
	return nil
}

func (f *Finalizer) reject(decision *types.ConsensusDecision, slot *pipeline.Slot) {
	pending := settleable(slot)
	reason := decision.Reason
	if reason == "" {
		reason = "batch rejected"
	}
	for _, ptx := range pending {
		ptx.Future.Resolve(types.TerminalResult{
			Status:      types.TxRejected,
			DecisionSeq: decision.Seq,
			Reason:      reason,
		})
	}
	atomic.AddInt64(&f.rejectedTxs, int64(len(pending)))
	f.logger.Info("rejected batch",
		"batch", decision.BatchID, "seq", decision.Seq, "reason", reason)
}

func (f *Finalizer) requeue(decision *types.ConsensusDecision, slot *pipeline.Slot) {
	pending := settleable(slot)
	atomic.AddInt64(&f.timedOutTxs, int64(len(pending)))
	atomic.AddInt64(&f.requeuedTxs, int64(len(pending)))
	f.requeuer.Requeue(pending)
	f.logger.Info("requeued timed-out batch",
		"batch", decision.BatchID, "seq", decision.Seq, "txs", len(pending))
}

// announce queues one commit notice per transaction; failures only log, the
// commit already happened.
func (f *Finalizer) announce(decision *types.ConsensusDecision, txs types.Txs) {
	if f.announcer == nil {
		return
	}
	for _, tx := range txs {
		payload, err := jsoniter.Marshal(commitNotice{
			BatchID: decision.BatchID,
			Seq:     decision.Seq,
			TxHash:  tx.Hash(),
		})
		if err != nil {
			f.logger.Error("commit notice encoding failed", "err", err)
			continue
		}
		if err := f.announcer.Enqueue(f.cfg.BroadcastDest, payload); err != nil {
			f.logger.Error("commit notice enqueue failed", "err", err)
		}
	}
}

// settleable picks the entries whose futures are still this stage's to
// resolve: the accepted subset when validation narrowed the batch, the full
// pending list otherwise.
func settleable(slot *pipeline.Slot) []*accumulator.PendingTx {
	if slot.Accepted != nil {
		return slot.Accepted
	}
	return slot.Pending
}
