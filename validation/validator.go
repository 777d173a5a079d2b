package validation

import (
	"context"
	"runtime"

	"github.com/tendermint/tendermint/libs/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"txpipe/config"
	"txpipe/libs/utils"
	"txpipe/pool"
	"txpipe/types"
)

const maxWorkers = 64

// TxVerifier is the application-supplied rule set. A nil error accepts the
// transaction; any error rejects it with the error text as the reason.
type TxVerifier interface {
	Verify(tx *types.Tx) error
}

// VerifierFunc adapts a plain function to the TxVerifier interface.
type VerifierFunc func(tx *types.Tx) error

func (f VerifierFunc) Verify(tx *types.Tx) error { return f(tx) }

// Parallel validates batches by recursive span splitting: spans above the
// configured threshold split in half and run concurrently, bounded by a
// weighted semaphore. Verdicts come back in transaction order regardless of
// completion order.
type Parallel struct {
	cfg      *config.ValidationConfig
	verifier TxVerifier
	pools    *pool.Manager
	sem      *semaphore.Weighted
	logger   log.Logger
}

func NewParallel(cfg *config.ValidationConfig, verifier TxVerifier, pools *pool.Manager) *Parallel {
	workers := cfg.Workers
	if workers <= 0 {
		workers = utils.MinInt(4*runtime.NumCPU(), maxWorkers)
	}
	return &Parallel{
		cfg:      cfg,
		verifier: verifier,
		pools:    pools,
		sem:      semaphore.NewWeighted(int64(workers)),
		logger:   log.NewNopLogger(),
	}
}

func (p *Parallel) SetLogger(l log.Logger) {
	p.logger = l
}

// Validate runs the verifier over every transaction in the batch and returns
// one verdict per transaction, indexed in batch order. The batch is marked
// invalid when all transactions are rejected, or when any is rejected under
// the unanimous policy.
func (p *Parallel) Validate(ctx context.Context, batch *types.Batch) (*types.ValidationResult, error) {
	verdicts := make([]types.TxVerdict, batch.Size())

	if err := p.validateSpan(ctx, batch.Txs, verdicts, 0); err != nil {
		return nil, err
	}

	accepted := 0
	for _, v := range verdicts {
		if v.Accepted {
			accepted++
		}
	}

	valid := accepted > 0
	if p.cfg.RequireUnanimous && accepted < batch.Size() {
		valid = false
	}
	if !valid {
		p.logger.Info("batch failed validation",
			"batch", batch.ID, "accepted", accepted, "total", batch.Size())
	}

	return &types.ValidationResult{
		BatchID:  batch.ID,
		Verdicts: verdicts,
		Valid:    valid,
	}, nil
}

// validateSpan splits txs in half until spans fit under the threshold, then
// verifies the leaf sequentially. offset tracks the leaf's position in the
// original batch so verdict indexes stay stable.
func (p *Parallel) validateSpan(ctx context.Context, txs types.Txs, verdicts []types.TxVerdict, offset int) error {
	if len(txs) <= p.cfg.SplitThreshold {
		return p.validateLeaf(ctx, txs, verdicts, offset)
	}

	mid := len(txs) / 2
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.validateSpan(gctx, txs[:mid], verdicts[:mid], offset)
	})
	g.Go(func() error {
		return p.validateSpan(gctx, txs[mid:], verdicts[mid:], offset+mid)
	})
	return g.Wait()
}

func (p *Parallel) validateLeaf(ctx context.Context, txs types.Txs, verdicts []types.TxVerdict, offset int) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)

	for i, tx := range txs {
		if err := ctx.Err(); err != nil {
			return err
		}

		vctx := p.pools.AcquireValidationContext()

		err := p.verifier.Verify(tx)
		vctx.Accepted = err == nil
		if err != nil {
			vctx.Reason = err.Error()
		}

		verdicts[i] = types.TxVerdict{
			Index:    offset + i,
			Accepted: vctx.Accepted,
			Reason:   vctx.Reason,
		}

		if rerr := p.pools.ReleaseValidationContext(vctx); rerr != nil {
			p.logger.Error("validation context release failed", "err", rerr)
		}
	}
	return nil
}
