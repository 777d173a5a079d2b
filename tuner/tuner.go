package tuner

import (
	"math"
	"sync"
	"time"

	"github.com/tendermint/tendermint/libs/service"
	"gonum.org/v1/gonum/stat"

	"txpipe/config"
	"txpipe/libs/utils"
)

// TargetSetter is the accumulator-side surface the controller drives. The
// shared target is an atomic on the accumulator side, so the controller
// never blocks submission.
type TargetSetter interface {
	SetTargetSize(size int)
	TargetSize() int
}

type sample struct {
	batchSize  float64
	throughput float64
}

// Tuner retunes the accumulator's target batch size on a fixed period. It
// blends three signals: a regression-predicted optimum (weight raised once
// the fit is trustworthy), a throughput-to-moving-average ratio, and a
// gradient-direction nudge. Until warmup completes it holds the configured
// default and does not act on the model.
type Tuner struct {
	service.BaseService

	cfg    *config.TunerConfig
	bounds *config.AccumulatorConfig
	target TargetSetter

	mtx     sync.Mutex
	samples []sample

	adjustments int
	lastSize    float64
	lastTput    float64

	metric *tunerMetric
}

func NewTuner(
	cfg *config.TunerConfig,
	bounds *config.AccumulatorConfig,
	target TargetSetter,
) *Tuner {
	t := &Tuner{
		cfg:     cfg,
		bounds:  bounds,
		target:  target,
		samples: make([]sample, 0, cfg.SampleWindow),
	}
	t.metric = newTunerMetric(t)

	t.BaseService = *service.NewBaseService(nil, "TUNER", t)
	return t
}

func (t *Tuner) OnStart() error {
	go t.adjustRoutine()
	return nil
}

func (t *Tuner) OnStop() {}

// Observe records one (batch size, throughput) sample; called by the
// accumulator on every flush.
func (t *Tuner) Observe(batchSize int, throughput float64) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	t.samples = append(t.samples, sample{
		batchSize:  float64(batchSize),
		throughput: throughput,
	})
	if len(t.samples) > t.cfg.SampleWindow {
		t.samples = t.samples[1:]
	}
}

// Metric exposes the snapshot item for registration.
func (t *Tuner) Metric() *tunerMetric {
	return t.metric
}

func (t *Tuner) Adjustments() int {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return t.adjustments
}

func (t *Tuner) adjustRoutine() {
	ticker := time.NewTicker(t.cfg.Period)
	defer ticker.Stop()

	for {
		select {
		case <-t.Quit():
			return
		case <-ticker.C:
			t.adjust()
		}
	}
}

// adjust computes and applies one bounded retune step.
func (t *Tuner) adjust() {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	if len(t.samples) < t.cfg.WarmupSamples {
		// cold start: hold the configured default until the model has
		// enough samples to be trusted
		return
	}

	cur := float64(t.target.TargetSize())

	xs := make([]float64, len(t.samples))
	ys := make([]float64, len(t.samples))
	for i, s := range t.samples {
		xs[i] = s.batchSize
		ys[i] = s.throughput
	}

	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	r2 := stat.RSquared(xs, ys, nil, alpha, beta)

	// signal 1: regression-predicted optimum. Under a monotone linear fit
	// the optimum sits at the bound in the slope's direction.
	regTarget := float64(t.bounds.MinBatchSize)
	if beta > 0 {
		regTarget = float64(t.bounds.MaxBatchSize)
	}
	regWeight := 0.3
	if !math.IsNaN(r2) && r2 > t.cfg.ConfidenceR2 {
		regWeight = 0.5
	}

	// signal 2: current throughput against the window's moving average
	latest := t.samples[len(t.samples)-1].throughput
	avg := utils.Avg(ys...)
	ratio := 1.0
	if avg > 0 {
		ratio = utils.ClampFloat(latest/avg, 0.5, 2.0)
	}
	ratioTarget := cur * ratio
	ratioWeight := 0.4

	// signal 3: gradient-direction nudge from the last applied step
	nudgeTarget := cur * (1 + 0.1*t.gradientDir(latest))
	nudgeWeight := 1 - regWeight - ratioWeight

	candidate := regWeight*regTarget + ratioWeight*ratioTarget + nudgeWeight*nudgeTarget

	// clamp the per-adjustment step; a larger step is allowed during
	// ramp-up, a tighter one afterwards to prevent oscillation
	step := t.cfg.SteadyStepPct
	if t.adjustments < t.cfg.RampUpAdjustments {
		step = t.cfg.RampStepPct
	}
	candidate = utils.ClampFloat(candidate, cur*(1-step), cur*(1+step))

	next := utils.ClampInt(int(math.Round(candidate)), t.bounds.MinBatchSize, t.bounds.MaxBatchSize)

	t.lastSize = cur
	t.lastTput = latest
	t.adjustments++
	t.metric.MarkAdjustment(next, r2)

	if next != int(cur) {
		t.target.SetTargetSize(next)
		t.Logger.Debug("retuned target batch size",
			"old", int(cur), "new", next, "r2", r2, "step_pct", step)
	}
}

// gradientDir infers whether growing the batch helped: +1 when throughput
// and size moved together since the last adjustment, -1 when they diverged.
func (t *Tuner) gradientDir(latestTput float64) float64 {
	if t.adjustments == 0 || t.lastSize == 0 {
		return 0
	}
	sizeDelta := float64(t.target.TargetSize()) - t.lastSize
	tputDelta := latestTput - t.lastTput
	if sizeDelta == 0 || tputDelta == 0 {
		return 0
	}
	if (sizeDelta > 0) == (tputDelta > 0) {
		return 1
	}
	return -1
}
