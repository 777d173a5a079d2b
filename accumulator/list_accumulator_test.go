package accumulator

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/libs/log"

	"txpipe/config"
	"txpipe/types"
)

type mockSink struct {
	mtx      sync.Mutex
	err      error
	batches  []*types.Batch
	pendings [][]*PendingTx
	admitted chan *types.Batch
}

func newMockSink() *mockSink {
	return &mockSink{admitted: make(chan *types.Batch, 64)}
}

func (s *mockSink) Admit(batch *types.Batch, pending []*PendingTx) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, batch)
	s.pendings = append(s.pendings, pending)
	select {
	case s.admitted <- batch:
	default:
	}
	return nil
}

func (s *mockSink) setErr(err error) {
	s.mtx.Lock()
	s.err = err
	s.mtx.Unlock()
}

func (s *mockSink) batchCount() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return len(s.batches)
}

// ----- utility func -----

func newAccumulator(t *testing.T, sink BatchSink, options ...ListAccumulatorOption) (*ListAccumulator, func()) {
	cfg := config.TestConfig()
	acc := NewListAccumulator(cfg.Accumulator, cfg.Features, sink, options...)
	acc.SetLogger(log.TestingLogger())
	require.NoError(t, acc.Start())
	return acc, func() { _ = acc.Stop() }
}

// submitTxs generates and submits random transactions.
func submitTxs(t *testing.T, acc Accumulator, count int) []*types.TxFuture {
	futures := make([]*types.TxFuture, count)
	for i := 0; i < count; i++ {
		payload := make([]byte, 20)
		_, err := rand.Read(payload)
		require.NoError(t, err)
		fut, err := acc.Submit(types.NewTx(payload))
		require.NoError(t, err, "submit failed while submitting #%d tx", i)
		futures[i] = fut
	}
	return futures
}

// ----- tests -----

func TestSubmitRejectsDuplicates(t *testing.T) {
	sink := newMockSink()
	acc, cleanup := newAccumulator(t, sink)
	defer cleanup()

	tx := types.NewTx([]byte("same payload"))
	_, err := acc.Submit(tx)
	require.NoError(t, err)

	_, err = acc.Submit(types.NewTx([]byte("same payload")))
	assert.Equal(t, ErrTxInBuffer, err)
}

func TestSizeTriggeredFlushHonorsBounds(t *testing.T) {
	sink := newMockSink()
	acc, cleanup := newAccumulator(t, sink)
	defer cleanup()

	// target 10 (TestConfig default), submit 25: two size-triggered batches
	// of 10 and a timer partial of 5
	submitTxs(t, acc, 25)

	deadline := time.After(500 * time.Millisecond)
	total := 0
	for total < 25 {
		select {
		case b := <-sink.admitted:
			assert.LessOrEqual(t, b.Size(), acc.cfg.MaxBatchSize)
			assert.GreaterOrEqual(t, b.Size(), 1)
			total += b.Size()
		case <-deadline:
			t.Fatalf("only %d of 25 txs flushed before deadline", total)
		}
	}
	assert.Equal(t, 25, total, "no tx may be lost or duplicated across flushes")
	assert.Equal(t, 0, acc.Size())
}

func TestBatchIDsAreMonotonic(t *testing.T) {
	sink := newMockSink()
	acc, cleanup := newAccumulator(t, sink)
	defer cleanup()

	submitTxs(t, acc, 30)

	var last int64 = -1
	total := 0
	deadline := time.After(500 * time.Millisecond)
	for total < 30 {
		select {
		case b := <-sink.admitted:
			assert.Greater(t, b.ID, last)
			last = b.ID
			total += b.Size()
		case <-deadline:
			t.Fatal("timed out waiting for flushes")
		}
	}
}

func TestSaturatedSinkDefersFlush(t *testing.T) {
	sink := newMockSink()
	sink.setErr(errors.New("pipeline saturated"))
	acc, cleanup := newAccumulator(t, sink)
	defer cleanup()

	futures := submitTxs(t, acc, 12)

	// give a few flush ticks a chance to fail
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, sink.batchCount())
	assert.Equal(t, 12, acc.Size(), "deferred txs must stay buffered")

	sink.setErr(nil)

	total := 0
	deadline := time.After(500 * time.Millisecond)
	for total < 12 {
		select {
		case b := <-sink.admitted:
			total += b.Size()
		case <-deadline:
			t.Fatalf("only %d of 12 deferred txs flushed after recovery", total)
		}
	}
	assert.Equal(t, 0, acc.Size())
	for _, fut := range futures {
		_, resolved := fut.Result()
		assert.False(t, resolved, "futures resolve downstream, not at flush")
	}
}

func TestRequeueBoundResolvesTimedOut(t *testing.T) {
	sink := newMockSink()
	acc, cleanup := newAccumulator(t, sink)
	defer cleanup()

	tx := types.NewTx([]byte("will time out"))
	fut := types.NewTxFuture(tx)
	ptx := &PendingTx{Tx: tx, Future: fut, Requeues: acc.cfg.MaxRequeues}

	acc.Requeue([]*PendingTx{ptx})

	res, resolved := fut.Result()
	require.True(t, resolved, "tx at the requeue limit must resolve")
	assert.Equal(t, types.TxTimedOut, res.Status)
	assert.Equal(t, 0, acc.Size())
}

func TestRequeueBelowBoundRebuffers(t *testing.T) {
	sink := newMockSink()
	acc, cleanup := newAccumulator(t, sink)
	defer cleanup()

	tx := types.NewTx([]byte("retry me"))
	ptx := &PendingTx{Tx: tx, Future: types.NewTxFuture(tx)}

	acc.Requeue([]*PendingTx{ptx})
	assert.Equal(t, 1, ptx.Requeues)

	select {
	case b := <-sink.admitted:
		assert.Equal(t, 1, b.Size())
	case <-time.After(500 * time.Millisecond):
		t.Fatal("requeued tx never flushed again")
	}
}

func TestRequeueAfterStopResolvesTimedOut(t *testing.T) {
	sink := newMockSink()
	acc, cleanup := newAccumulator(t, sink)
	cleanup()

	// a quorum timeout decided during shutdown lands here after the buffer
	// was already drained; the txs must not re-buffer unresolved
	tx := types.NewTx([]byte("late timeout"))
	fut := types.NewTxFuture(tx)
	acc.Requeue([]*PendingTx{{Tx: tx, Future: fut}})

	res, resolved := fut.Result()
	require.True(t, resolved, "requeue into a stopped accumulator must resolve the future")
	assert.Equal(t, types.TxTimedOut, res.Status)
	assert.Equal(t, 0, acc.Size(), "nothing may re-buffer after shutdown")
}

func TestShutdownResolvesEverything(t *testing.T) {
	defer leaktest.CheckTimeout(t, time.Second)()

	sink := newMockSink()
	sink.setErr(errors.New("pipeline saturated"))

	cfg := config.TestConfig()
	acc := NewListAccumulator(cfg.Accumulator, cfg.Features, sink)
	acc.SetLogger(log.TestingLogger())
	require.NoError(t, acc.Start())

	futures := submitTxs(t, acc, 5)
	require.NoError(t, acc.Stop())

	for i, fut := range futures {
		res, resolved := fut.Result()
		require.True(t, resolved, "tx #%d must reach a terminal state on shutdown", i)
		assert.Equal(t, types.TxTimedOut, res.Status)
	}
}

func TestBatchingDisabledFlushesSingletons(t *testing.T) {
	sink := newMockSink()
	cfg := config.TestConfig()
	features := *cfg.Features
	features.Batching = false

	acc := NewListAccumulator(cfg.Accumulator, &features, sink)
	acc.SetLogger(log.TestingLogger())
	require.NoError(t, acc.Start())
	defer func() { _ = acc.Stop() }()

	submitTxs(t, acc, 5)

	seen := 0
	deadline := time.After(500 * time.Millisecond)
	for seen < 5 {
		select {
		case b := <-sink.admitted:
			assert.Equal(t, 1, b.Size(), "disabled batching means singleton batches")
			seen++
		case <-deadline:
			t.Fatalf("saw %d of 5 singleton batches", seen)
		}
	}
}

func TestTargetSizeClamped(t *testing.T) {
	sink := newMockSink()
	acc, cleanup := newAccumulator(t, sink)
	defer cleanup()

	acc.SetTargetSize(acc.cfg.MaxBatchSize * 10)
	assert.Equal(t, acc.cfg.MaxBatchSize, acc.TargetSize())

	acc.SetTargetSize(0)
	assert.Equal(t, acc.cfg.MinBatchSize, acc.TargetSize())
}

func TestThroughputSampleFeedsObserver(t *testing.T) {
	type sample struct {
		size int
		tput float64
	}
	samples := make(chan sample, 8)
	observer := observerFunc(func(batchSize int, throughput float64) {
		samples <- sample{batchSize, throughput}
	})

	sink := newMockSink()
	acc, cleanup := newAccumulator(t, sink, SetObserver(observer))
	defer cleanup()

	submitTxs(t, acc, 10)

	select {
	case s := <-samples:
		assert.Equal(t, 10, s.size)
		assert.Greater(t, s.tput, 0.0)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("observer never received a sample")
	}
}

type observerFunc func(batchSize int, throughput float64)

func (f observerFunc) Observe(batchSize int, throughput float64) { f(batchSize, throughput) }

func TestSubmitAfterStopFails(t *testing.T) {
	sink := newMockSink()
	acc, cleanup := newAccumulator(t, sink)
	cleanup()

	_, err := acc.Submit(types.NewTx([]byte(fmt.Sprintf("late-%d", time.Now().UnixNano()))))
	assert.Equal(t, ErrNotRunning, err)
}
