package tuner

import (
	"sync"

	jsoniter "github.com/json-iterator/go"
)

func newTunerMetric(t *Tuner) *tunerMetric {
	return &tunerMetric{tuner: t}
}

type tunerMetric struct {
	tuner *Tuner

	mtx         sync.RWMutex
	Adjustments int64   `json:"adjustments"`
	LastTarget  int     `json:"last_target"`
	LastR2      float64 `json:"last_r2"`
}

type tunerMetricView struct {
	Adjustments int64   `json:"adjustments"`
	LastTarget  int     `json:"last_target"`
	LastR2      float64 `json:"last_r2"`
	Samples     int     `json:"samples"`
}

func (tm *tunerMetric) MarkAdjustment(target int, r2 float64) {
	tm.mtx.Lock()
	defer tm.mtx.Unlock()
	tm.Adjustments++
	tm.LastTarget = target
	tm.LastR2 = r2
}

func (tm *tunerMetric) JSONString() string {
	tm.tuner.mtx.Lock()
	samples := len(tm.tuner.samples)
	tm.tuner.mtx.Unlock()

	tm.mtx.RLock()
	view := tunerMetricView{
		Adjustments: tm.Adjustments,
		LastTarget:  tm.LastTarget,
		LastR2:      tm.LastR2,
		Samples:     samples,
	}
	tm.mtx.RUnlock()

	s, _ := jsoniter.MarshalToString(view)
	return s
}
