package pipeline

// DepthLimiter bounds the number of batches in flight between admission and
// finalization. Permits are acquired on Admit and returned on slot release.
type DepthLimiter struct {
	permits chan struct{}
}

func NewDepthLimiter(depth int) *DepthLimiter {
	return &DepthLimiter{permits: make(chan struct{}, depth)}
}

// TryAcquire takes a permit without blocking; false means the pipeline is
// full.
func (l *DepthLimiter) TryAcquire() bool {
	select {
	case l.permits <- struct{}{}:
		return true
	default:
		return false
	}
}

func (l *DepthLimiter) Release() {
	select {
	case <-l.permits:
	default:
	}
}

func (l *DepthLimiter) InFlight() int {
	return len(l.permits)
}

func (l *DepthLimiter) Depth() int {
	return cap(l.permits)
}

func (l *DepthLimiter) Utilization() float64 {
	return float64(len(l.permits)) / float64(cap(l.permits))
}
