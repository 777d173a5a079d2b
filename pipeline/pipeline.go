package pipeline

import (
	"context"

	"github.com/tendermint/tendermint/libs/service"

	"txpipe/accumulator"
	"txpipe/config"
	"txpipe/pool"
	"txpipe/types"
)

// BatchValidator checks every transaction in a batch and reports per-index
// verdicts.
type BatchValidator interface {
	Validate(ctx context.Context, batch *types.Batch) (*types.ValidationResult, error)
}

// ProposalStage receives validated slots for agreement. Implemented by the
// consensus state machine.
type ProposalStage interface {
	Propose(slot *Slot) error
}

var _ accumulator.BatchSink = (*Pipeline)(nil)

// Pipeline admits batches from the accumulator into depth-limited slots,
// runs the validation stage over them and hands the surviving proposals to
// the agreement stage. Slots stay acquired until the finalizer releases
// them, so admission backpressure reflects the whole in-flight window.
type Pipeline struct {
	service.BaseService

	cfg      *config.PipelineConfig
	vcfg     *config.ValidationConfig
	features *config.FeatureFlags

	limiter   *DepthLimiter
	validator BatchValidator
	proposer  ProposalStage
	pools     *pool.Manager

	validateCh chan *Slot

	metrics *Metrics
	metric  *pipeMetric
}

type PipelineOption func(*Pipeline)

// SetMetrics overrides the default Nop go-kit metrics.
func SetMetrics(metrics *Metrics) PipelineOption {
	return func(p *Pipeline) {
		p.metrics = metrics
	}
}

func NewPipeline(
	cfg *config.PipelineConfig,
	vcfg *config.ValidationConfig,
	features *config.FeatureFlags,
	validator BatchValidator,
	proposer ProposalStage,
	pools *pool.Manager,
	options ...PipelineOption,
) *Pipeline {
	depth := cfg.Depth
	if !features.Pipelining {
		// a single slot serializes the stages end to end
		depth = 1
	}

	p := &Pipeline{
		cfg:        cfg,
		vcfg:       vcfg,
		features:   features,
		limiter:    NewDepthLimiter(depth),
		validator:  validator,
		proposer:   proposer,
		pools:      pools,
		validateCh: make(chan *Slot, depth),
		metrics:    NopMetrics(),
	}
	p.metric = newPipeMetric(p)

	p.BaseService = *service.NewBaseService(nil, "PIPELINE", p)

	for _, option := range options {
		option(p)
	}

	return p
}

func (p *Pipeline) OnStart() error {
	for i := 0; i < p.vcfg.StageWorkers; i++ {
		go p.validateRoutine()
	}
	return nil
}

func (p *Pipeline) OnStop() {
	// slots still queued for validation never reached agreement; their
	// futures resolve here so submitters are not left waiting
	for {
		select {
		case slot := <-p.validateCh:
			p.abortSlot(slot, "pipeline shut down")
		default:
			return
		}
	}
}

// Admit implements accumulator.BatchSink. It fails fast with ErrSaturated
// when no slot is free; the batch stays in the accumulator's buffer.
func (p *Pipeline) Admit(batch *types.Batch, pending []*accumulator.PendingTx) error {
	if !p.IsRunning() {
		return ErrNotRunning
	}
	if !p.limiter.TryAcquire() {
		p.metrics.SaturatedAdmits.Add(1)
		return ErrSaturated
	}

	ctxs := make([]*pool.TxContext, len(pending))
	for i, ptx := range pending {
		c := p.pools.AcquireTxContext()
		c.Key = ptx.Tx.Hash()
		c.Size = ptx.Tx.Size()
		c.Stage = "validate"
		ctxs[i] = c
	}

	slot := &Slot{
		Batch:   batch,
		Pending: pending,
		TxCtxs:  ctxs,
		release: p.releaseSlot,
	}

	p.metrics.InFlight.Set(float64(p.limiter.InFlight()))
	p.metric.MarkAdmitted()

	// the channel capacity equals the limiter depth, so a held permit
	// guarantees room
	p.validateCh <- slot
	return nil
}

func (p *Pipeline) InFlight() int {
	return p.limiter.InFlight()
}

func (p *Pipeline) Depth() int {
	return p.limiter.Depth()
}

// Metric exposes the snapshot item for registration.
func (p *Pipeline) Metric() *pipeMetric {
	return p.metric
}

func (p *Pipeline) validateRoutine() {
	for {
		select {
		case <-p.Quit():
			return
		case slot := <-p.validateCh:
			p.validateSlot(slot)
		}
	}
}

func (p *Pipeline) validateSlot(slot *Slot) {
	res, err := p.validator.Validate(context.TODO(), slot.Batch)
	if err != nil {
		p.Logger.Error("validation stage failed", "batch", slot.Batch.ID, "err", err)
		p.abortSlot(slot, "validation aborted")
		return
	}

	slot.Result = res
	for i := range slot.TxCtxs {
		slot.TxCtxs[i].Stage = "agree"
	}

	// rejected transactions leave the flow here; only the accepted subset
	// moves on to agreement
	rejected := res.RejectedIdxs()
	for _, idx := range rejected {
		slot.Pending[idx].Future.Resolve(types.TerminalResult{
			Status: types.TxRejected,
			Reason: res.Verdicts[idx].Reason,
		})
	}
	if len(rejected) > 0 {
		p.metrics.RejectedTxs.Add(float64(len(rejected)))
		p.metric.MarkRejected(len(rejected))
	}

	if !res.Valid {
		slot.InvalidReason = "batch failed validation"
		slot.Proposal = nil
	} else {
		acceptedIdxs := res.AcceptedIdxs()
		slot.Proposal = slot.Batch.Select(acceptedIdxs)
		slot.Accepted = make([]*accumulator.PendingTx, len(acceptedIdxs))
		for i, idx := range acceptedIdxs {
			slot.Accepted[i] = slot.Pending[idx]
		}
	}

	p.metrics.ValidatedBatches.Add(1)
	p.metric.MarkValidated()

	if err := p.proposer.Propose(slot); err != nil {
		p.Logger.Error("proposal stage refused slot", "batch", slot.Batch.ID, "err", err)
		p.abortSlot(slot, "proposal stage unavailable")
	}
}

// abortSlot resolves every unresolved future and releases the slot.
func (p *Pipeline) abortSlot(slot *Slot, reason string) {
	for _, ptx := range slot.Pending {
		ptx.Future.Resolve(types.TerminalResult{
			Status: types.TxTimedOut,
			Reason: reason,
		})
	}
	slot.Release()
}

// releaseSlot is installed as every slot's release hook; it runs once.
func (p *Pipeline) releaseSlot(slot *Slot) {
	for _, c := range slot.TxCtxs {
		if err := p.pools.ReleaseTxContext(c); err != nil {
			p.Logger.Error("tx context release failed", "err", err)
		}
	}
	slot.TxCtxs = nil
	p.limiter.Release()
	p.metrics.InFlight.Set(float64(p.limiter.InFlight()))
}
