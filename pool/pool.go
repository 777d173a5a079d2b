package pool

import (
	"sync/atomic"
	"time"

	"github.com/tendermint/tendermint/libs/log"

	"txpipe/config"
)

// Pool keeps a bounded free list of one context type. Acquire waits for a
// returned instance only when one is due back and the wait has not already
// failed; otherwise it degrades to a fresh allocation immediately. The miss
// is counted as the capacity-planning signal.
type Pool struct {
	name    string
	newFn   func() Poolable
	free    chan Poolable
	timeout time.Duration

	// outstanding counts borrows not yet returned; an empty free list with
	// nothing outstanding can never refill, so Acquire must not wait on it.
	outstanding int64
	// drained is set when a timed wait expires and cleared when a release
	// refills the free list. While set, acquires skip the wait.
	drained int32

	hits       int64
	misses     int64
	violations int64

	logger log.Logger
}

func NewPool(name string, cfg *config.PoolConfig, newFn func() Poolable) *Pool {
	p := &Pool{
		name:    name,
		newFn:   newFn,
		free:    make(chan Poolable, cfg.MaxSize),
		timeout: cfg.AcquireTimeout,
		logger:  log.NewNopLogger(),
	}

	for i := 0; i < cfg.InitialSize; i++ {
		p.free <- newFn()
	}

	return p
}

func (p *Pool) SetLogger(logger log.Logger) {
	p.logger = logger
}

// Acquire returns a clean context. It blocks up to the pool's timeout only
// when a return is plausibly imminent; a drained pool allocates right away so
// hot loops borrowing one context per item never stall per acquire.
func (p *Pool) Acquire() Poolable {
	select {
	case obj := <-p.free:
		atomic.AddInt64(&p.hits, 1)
		atomic.AddInt64(&p.outstanding, 1)
		return obj
	default:
	}

	if atomic.LoadInt64(&p.outstanding) <= 0 || atomic.LoadInt32(&p.drained) == 1 {
		return p.allocate()
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case obj := <-p.free:
		atomic.AddInt64(&p.hits, 1)
		atomic.AddInt64(&p.outstanding, 1)
		return obj
	case <-timer.C:
		atomic.StoreInt32(&p.drained, 1)
		return p.allocate()
	}
}

func (p *Pool) allocate() Poolable {
	atomic.AddInt64(&p.misses, 1)
	atomic.AddInt64(&p.outstanding, 1)
	p.logger.Debug("pool exhausted, allocating fresh instance", "pool", p.name)
	return p.newFn()
}

// Release resets the context, verifies the reset actually cleared it and
// returns it to the free list. A failed reset check surfaces as
// ErrResetViolation; the object is discarded either way.
func (p *Pool) Release(obj Poolable) error {
	if obj == nil {
		return ErrNilContext
	}

	atomic.AddInt64(&p.outstanding, -1)

	obj.Reset()
	if !obj.Clean() {
		atomic.AddInt64(&p.violations, 1)
		p.logger.Error("reset violation detected", "pool", p.name)
		return ErrResetViolation
	}

	select {
	case p.free <- obj:
		atomic.StoreInt32(&p.drained, 0)
	default:
		// free list is at max size, let the object be collected
	}
	return nil
}

func (p *Pool) Hits() int64       { return atomic.LoadInt64(&p.hits) }
func (p *Pool) Misses() int64     { return atomic.LoadInt64(&p.misses) }
func (p *Pool) Violations() int64 { return atomic.LoadInt64(&p.violations) }
func (p *Pool) FreeLen() int      { return len(p.free) }

// HitRate is hits / (hits + misses); 1.0 before any acquire.
func (p *Pool) HitRate() float64 {
	hits, misses := p.Hits(), p.Misses()
	if hits+misses == 0 {
		return 1.0
	}
	return float64(hits) / float64(hits+misses)
}
