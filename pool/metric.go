package pool

import (
	jsoniter "github.com/json-iterator/go"
)

func newPoolMetric(m *Manager) *poolMetric {
	return &poolMetric{manager: m}
}

type poolMetric struct {
	manager *Manager
}

type poolMetricView struct {
	TxCtxHits       int64   `json:"tx_ctx_hits"`
	TxCtxMisses     int64   `json:"tx_ctx_misses"`
	TxCtxHitRate    float64 `json:"tx_ctx_hit_rate"`
	ValCtxHits      int64   `json:"val_ctx_hits"`
	ValCtxMisses    int64   `json:"val_ctx_misses"`
	ValCtxHitRate   float64 `json:"val_ctx_hit_rate"`
	MsgBufHits      int64   `json:"msg_buf_hits"`
	MsgBufMisses    int64   `json:"msg_buf_misses"`
	MsgBufHitRate   float64 `json:"msg_buf_hit_rate"`
	ResetViolations int64   `json:"reset_violations"`
	PoolingEnabled  bool    `json:"pooling_enabled"`
}

func (pm *poolMetric) view() poolMetricView {
	m := pm.manager
	return poolMetricView{
		TxCtxHits:       m.txCtx.Hits(),
		TxCtxMisses:     m.txCtx.Misses(),
		TxCtxHitRate:    m.txCtx.HitRate(),
		ValCtxHits:      m.valCtx.Hits(),
		ValCtxMisses:    m.valCtx.Misses(),
		ValCtxHitRate:   m.valCtx.HitRate(),
		MsgBufHits:      m.msgBuf.Hits(),
		MsgBufMisses:    m.msgBuf.Misses(),
		MsgBufHitRate:   m.msgBuf.HitRate(),
		ResetViolations: m.txCtx.Violations() + m.valCtx.Violations() + m.msgBuf.Violations(),
		PoolingEnabled:  m.enabled,
	}
}

func (pm *poolMetric) JSONString() string {
	s, _ := jsoniter.MarshalToString(pm.view())
	return s
}
