package accumulator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tendermint/tendermint/libs/clist"
	"github.com/tendermint/tendermint/libs/service"

	"txpipe/config"
	"txpipe/libs/utils"
	"txpipe/types"
)

type flushReason uint8

const (
	flushReasonSize = flushReason(iota)
	flushReasonTimer
	flushReasonShutdown
)

var _ Accumulator = (*ListAccumulator)(nil)

// ListAccumulator buffers transactions in a concurrent linked list and
// flushes bounded batches into the pipeline, triggered by size or by the
// periodic timer. Flush swaps buffered entries out atomically with respect
// to other flushes; submission never blocks on a flush.
type ListAccumulator struct {
	service.BaseService

	cfg      *config.AccumulatorConfig
	features *config.FeatureFlags

	// target is the adaptive flush target, written by the controller and
	// read atomically on every flush.
	target int64

	txs    *clist.CList // of *PendingTx
	txsMap sync.Map     // types.TxKey -> *clist.CElement

	// Atomic integers
	txsBytes    int64 // total size of buffered txs, in bytes
	nextBatchID int64
	intervalTxs int64 // submissions since the last successful flush

	lastFlush time.Time
	flushMtx  sync.Mutex

	flushNowCh chan struct{}

	sink     BatchSink
	observer SampleObserver

	metrics *Metrics
	metric  *accMetric
}

type ListAccumulatorOption func(*ListAccumulator)

// SetObserver wires the adaptive controller's sample feed.
func SetObserver(observer SampleObserver) ListAccumulatorOption {
	return func(acc *ListAccumulator) {
		acc.observer = observer
	}
}

// SetMetrics overrides the default Nop go-kit metrics.
func SetMetrics(metrics *Metrics) ListAccumulatorOption {
	return func(acc *ListAccumulator) {
		acc.metrics = metrics
	}
}

func NewListAccumulator(
	cfg *config.AccumulatorConfig,
	features *config.FeatureFlags,
	sink BatchSink,
	options ...ListAccumulatorOption,
) *ListAccumulator {
	acc := &ListAccumulator{
		cfg:        cfg,
		features:   features,
		target:     int64(cfg.DefaultBatchSize),
		txs:        clist.New(),
		flushNowCh: make(chan struct{}, 1),
		sink:       sink,
		metrics:    NopMetrics(),
	}
	acc.metric = newAccMetric(acc)

	acc.BaseService = *service.NewBaseService(nil, "ACCUMULATOR", acc)

	for _, option := range options {
		option(acc)
	}

	return acc
}

func (acc *ListAccumulator) OnStart() error {
	acc.lastFlush = time.Now()
	go acc.flushRoutine()
	return nil
}

func (acc *ListAccumulator) OnStop() {
	// terminal partial flush; whatever the pipeline cannot take resolves
	// TimedOut so no transaction is silently dropped
	acc.flushMtx.Lock()
	defer acc.flushMtx.Unlock()
	for acc.txs.Len() > 0 {
		if !acc.emit(flushReasonShutdown) {
			break
		}
	}
	acc.drainUnresolved()
}

// Submit buffers tx and returns its future. Duplicate submissions are
// refused while the first copy is still buffered.
func (acc *ListAccumulator) Submit(tx *types.Tx) (*types.TxFuture, error) {
	if !acc.IsRunning() {
		return nil, ErrNotRunning
	}

	key := tx.Key()
	if _, ok := acc.txsMap.Load(key); ok {
		return nil, ErrTxInBuffer
	}

	ptx := &PendingTx{
		Tx:     tx,
		Future: types.NewTxFuture(tx),
	}
	acc.addTx(key, ptx)
	atomic.AddInt64(&acc.intervalTxs, 1)

	if !acc.features.Batching || acc.Size() >= acc.TargetSize() {
		acc.notifyFlush()
	}

	return ptx.Future, nil
}

// Requeue re-buffers a timed-out batch's transactions. Transactions past the
// requeue limit resolve TimedOut instead, as does the whole batch when the
// accumulator is no longer running; a decision landing in the shutdown window
// must still reach a terminal state.
func (acc *ListAccumulator) Requeue(pending []*PendingTx) {
	acc.flushMtx.Lock()
	defer acc.flushMtx.Unlock()

	if !acc.IsRunning() {
		for _, ptx := range pending {
			ptx.Future.Resolve(types.TerminalResult{
				Status: types.TxTimedOut,
				Reason: "accumulator shut down",
			})
		}
		return
	}

	for _, ptx := range pending {
		if ptx.Requeues >= acc.cfg.MaxRequeues {
			ptx.Future.Resolve(types.TerminalResult{
				Status: types.TxTimedOut,
				Reason: "requeue limit reached",
			})
			acc.metrics.ExpiredTxs.Add(1)
			continue
		}
		ptx.Requeues++
		acc.addTx(ptx.Tx.Key(), ptx)
		acc.metrics.RequeuedTxs.Add(1)
	}
	acc.Logger.Debug("requeued timed-out txs", "count", len(pending))
}

func (acc *ListAccumulator) SetTargetSize(size int) {
	clamped := utils.ClampInt(size, acc.cfg.MinBatchSize, acc.cfg.MaxBatchSize)
	atomic.StoreInt64(&acc.target, int64(clamped))
}

func (acc *ListAccumulator) TargetSize() int {
	return int(atomic.LoadInt64(&acc.target))
}

func (acc *ListAccumulator) Size() int {
	return acc.txs.Len()
}

func (acc *ListAccumulator) TxsBytes() int64 {
	return atomic.LoadInt64(&acc.txsBytes)
}

// Metric exposes the snapshot item for registration.
func (acc *ListAccumulator) Metric() *accMetric {
	return acc.metric
}

// addTx pushes ptx onto the list and updates the lookup map and the byte
// counter.
func (acc *ListAccumulator) addTx(key types.TxKey, ptx *PendingTx) {
	e := acc.txs.PushBack(ptx)
	acc.txsMap.Store(key, e)
	atomic.AddInt64(&acc.txsBytes, ptx.Tx.Size())
	acc.metrics.BufferedTxs.Set(float64(acc.txs.Len()))
}

func (acc *ListAccumulator) notifyFlush() {
	select {
	case acc.flushNowCh <- struct{}{}:
	default:
	}
}

func (acc *ListAccumulator) flushRoutine() {
	ticker := time.NewTicker(acc.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-acc.Quit():
			return
		case <-ticker.C:
			acc.flush(flushReasonTimer)
		case <-acc.flushNowCh:
			acc.flush(flushReasonSize)
		}
	}
}

func (acc *ListAccumulator) flush(reason flushReason) {
	acc.flushMtx.Lock()
	defer acc.flushMtx.Unlock()

	emitted := acc.emit(reason)

	// with batching disabled every buffered tx leaves as its own batch,
	// so keep the flush loop running until the buffer drains
	if emitted && !acc.features.Batching && acc.txs.Len() > 0 {
		acc.notifyFlush()
	}
}

// emit reaps up to one batch and admits it into the pipeline. The caller
// holds flushMtx. Returns false when nothing was admitted (empty buffer,
// stale size signal or saturated pipeline).
func (acc *ListAccumulator) emit(reason flushReason) bool {
	n := acc.txs.Len()
	if n == 0 {
		return false
	}

	target := acc.TargetSize()
	if reason == flushReasonSize && n < target {
		// stale trigger, the timer will pick the remainder up
		return false
	}

	take := utils.MinInt(n, target)
	if !acc.features.Batching {
		take = 1
	}
	if reason == flushReasonShutdown {
		take = utils.MinInt(n, acc.cfg.MaxBatchSize)
	}

	elems := make([]*clist.CElement, 0, take)
	pending := make([]*PendingTx, 0, take)
	txs := make(types.Txs, 0, take)
	for e := acc.txs.Front(); e != nil && len(elems) < take; e = e.Next() {
		ptx := e.Value.(*PendingTx)
		elems = append(elems, e)
		pending = append(pending, ptx)
		txs = append(txs, ptx.Tx)
	}

	batch := types.NewBatch(
		atomic.AddInt64(&acc.nextBatchID, 1)-1,
		txs,
		target,
		time.Now().Add(acc.cfg.BatchDeadline),
	)

	if err := acc.sink.Admit(batch, pending); err != nil {
		// pipeline saturated: keep the txs buffered, retry next tick
		atomic.AddInt64(&acc.nextBatchID, -1)
		acc.metrics.DeferredFlushes.Add(1)
		acc.metric.MarkDeferred()
		acc.Logger.Debug("flush deferred", "reason", err, "buffered", n)
		return false
	}

	for i, e := range elems {
		acc.txs.Remove(e)
		e.DetachPrev()
		acc.txsMap.Delete(pending[i].Tx.Key())
		atomic.AddInt64(&acc.txsBytes, -pending[i].Tx.Size())
	}

	acc.metrics.FlushedBatches.Add(1)
	acc.metrics.BufferedTxs.Set(float64(acc.txs.Len()))
	acc.metric.MarkFlushed(len(txs))

	// per-interval throughput sample for the adaptive controller; the
	// counter resets on every successful flush
	now := time.Now()
	elapsed := now.Sub(acc.lastFlush).Seconds()
	flushed := atomic.SwapInt64(&acc.intervalTxs, 0)
	acc.lastFlush = now
	if acc.observer != nil && elapsed > 0 {
		acc.observer.Observe(len(txs), float64(flushed)/elapsed)
	}

	acc.Logger.Debug("flushed batch", "batch", batch.ID, "size", len(txs), "target", target)
	return true
}

// drainUnresolved resolves every transaction still buffered at shutdown.
func (acc *ListAccumulator) drainUnresolved() {
	for e := acc.txs.Front(); e != nil; e = e.Next() {
		ptx := e.Value.(*PendingTx)
		ptx.Future.Resolve(types.TerminalResult{
			Status: types.TxTimedOut,
			Reason: "accumulator shut down",
		})
	}
}
