package pool

import (
	"github.com/tendermint/tendermint/libs/log"

	"txpipe/config"
)

// Manager owns the three independent context pools. With pooling disabled it
// degrades to allocate-per-use but keeps the reset contract, so defects
// still surface.
type Manager struct {
	enabled bool

	txCtx  *Pool
	valCtx *Pool
	msgBuf *Pool

	logger log.Logger
	metric *poolMetric
}

type ManagerOption func(*Manager)

func NewManager(cfg *config.PoolConfig, enabled bool, options ...ManagerOption) *Manager {
	m := &Manager{
		enabled: enabled,
		txCtx:   NewPool("tx_context", cfg, NewTxContext),
		valCtx:  NewPool("validation_context", cfg, NewValidationContext),
		msgBuf:  NewPool("msg_buffer", cfg, NewMsgBuffer),
		logger:  log.NewNopLogger(),
	}
	m.metric = newPoolMetric(m)

	for _, option := range options {
		option(m)
	}

	return m
}

func (m *Manager) SetLogger(logger log.Logger) {
	m.logger = logger
	m.txCtx.SetLogger(logger)
	m.valCtx.SetLogger(logger)
	m.msgBuf.SetLogger(logger)
}

func (m *Manager) Enabled() bool {
	return m.enabled
}

func (m *Manager) AcquireTxContext() *TxContext {
	if !m.enabled {
		return NewTxContext().(*TxContext)
	}
	return m.txCtx.Acquire().(*TxContext)
}

func (m *Manager) AcquireValidationContext() *ValidationContext {
	if !m.enabled {
		return NewValidationContext().(*ValidationContext)
	}
	return m.valCtx.Acquire().(*ValidationContext)
}

func (m *Manager) AcquireMsgBuffer() *MsgBuffer {
	if !m.enabled {
		return NewMsgBuffer().(*MsgBuffer)
	}
	return m.msgBuf.Acquire().(*MsgBuffer)
}

func (m *Manager) ReleaseTxContext(c *TxContext) error {
	return m.release(m.txCtx, c)
}

func (m *Manager) ReleaseValidationContext(c *ValidationContext) error {
	return m.release(m.valCtx, c)
}

func (m *Manager) ReleaseMsgBuffer(b *MsgBuffer) error {
	return m.release(m.msgBuf, b)
}

func (m *Manager) release(p *Pool, obj Poolable) error {
	if !m.enabled {
		// still run the reset contract so residual-state defects surface
		if obj == nil {
			return ErrNilContext
		}
		obj.Reset()
		if !obj.Clean() {
			m.logger.Error("reset violation detected on unpooled context")
			return ErrResetViolation
		}
		return nil
	}
	return p.Release(obj)
}

// Metric exposes the snapshot item for registration.
func (m *Manager) Metric() *poolMetric {
	return m.metric
}
