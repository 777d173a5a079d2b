package netbatch

import (
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
)

func newNetMetric(b *Batcher) *netMetric {
	return &netMetric{batcher: b}
}

type netMetric struct {
	batcher *Batcher
}

type netMetricView struct {
	QueuedMsgs       int64   `json:"queued_msgs"`
	DroppedMsgs      int64   `json:"dropped_msgs"`
	SentMsgs         int64   `json:"sent_msgs"`
	SentBatches      int64   `json:"sent_batches"`
	SendFailures     int64   `json:"send_failures"`
	AvgBatchSize     float64 `json:"avg_batch_size"`
	CompressionRatio float64 `json:"compression_ratio"`
}

func (nm *netMetric) JSONString() string {
	in := atomic.LoadInt64(&nm.batcher.bytesIn)
	out := atomic.LoadInt64(&nm.batcher.bytesOut)
	ratio := 1.0
	if in > 0 {
		ratio = float64(out) / float64(in)
	}

	sentMsgs := atomic.LoadInt64(&nm.batcher.sentMsgs)
	sentBatches := atomic.LoadInt64(&nm.batcher.sentBatches)
	avg := 0.0
	if sentBatches > 0 {
		avg = float64(sentMsgs) / float64(sentBatches)
	}

	view := netMetricView{
		QueuedMsgs:       atomic.LoadInt64(&nm.batcher.queuedMsgs),
		DroppedMsgs:      atomic.LoadInt64(&nm.batcher.droppedMsgs),
		SentMsgs:         sentMsgs,
		SentBatches:      sentBatches,
		SendFailures:     atomic.LoadInt64(&nm.batcher.sendFailures),
		AvgBatchSize:     avg,
		CompressionRatio: ratio,
	}

	s, _ := jsoniter.MarshalToString(view)
	return s
}
