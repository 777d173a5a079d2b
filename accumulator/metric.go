package accumulator

import (
	"sync"

	jsoniter "github.com/json-iterator/go"
)

func newAccMetric(acc *ListAccumulator) *accMetric {
	return &accMetric{acc: acc}
}

type accMetric struct {
	acc *ListAccumulator

	mtx             sync.RWMutex
	FlushedBatches  int64 `json:"flushed_batches"`
	FlushedTxs      int64 `json:"flushed_txs"`
	DeferredFlushes int64 `json:"deferred_flushes"`
	LastBatchSize   int   `json:"last_batch_size"`
}

type accMetricView struct {
	BufferedTxs     int   `json:"buffered_txs"`
	BufferedBytes   int64 `json:"buffered_bytes"`
	TargetSize      int   `json:"target_size"`
	FlushedBatches  int64 `json:"flushed_batches"`
	FlushedTxs      int64 `json:"flushed_txs"`
	DeferredFlushes int64 `json:"deferred_flushes"`
	LastBatchSize   int   `json:"last_batch_size"`
}

func (am *accMetric) MarkFlushed(batchSize int) {
	am.mtx.Lock()
	defer am.mtx.Unlock()
	am.FlushedBatches++
	am.FlushedTxs += int64(batchSize)
	am.LastBatchSize = batchSize
}

func (am *accMetric) MarkDeferred() {
	am.mtx.Lock()
	defer am.mtx.Unlock()
	am.DeferredFlushes++
}

func (am *accMetric) JSONString() string {
	am.mtx.RLock()
	view := accMetricView{
		BufferedTxs:     am.acc.Size(),
		BufferedBytes:   am.acc.TxsBytes(),
		TargetSize:      am.acc.TargetSize(),
		FlushedBatches:  am.FlushedBatches,
		FlushedTxs:      am.FlushedTxs,
		DeferredFlushes: am.DeferredFlushes,
		LastBatchSize:   am.LastBatchSize,
	}
	am.mtx.RUnlock()

	s, _ := jsoniter.MarshalToString(view)
	return s
}
