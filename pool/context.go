package pool

// Poolable is the contract every pooled context honors: Reset clears all
// residual state and is idempotent, Clean reports whether the object is back
// at its default state. An object that fails Clean after Reset is a defect.
type Poolable interface {
	Reset()
	Clean() bool
}

// TxContext is the per-transaction scratch object borrowed by the pipeline
// for the lifetime of one in-flight batch slot.
type TxContext struct {
	Key   []byte
	Size  int64
	Stage string
}

func NewTxContext() Poolable {
	return &TxContext{}
}

func (c *TxContext) Reset() {
	c.Key = c.Key[:0]
	c.Size = 0
	c.Stage = ""
}

func (c *TxContext) Clean() bool {
	return len(c.Key) == 0 && c.Size == 0 && c.Stage == ""
}

// ValidationContext is the per-transaction scratch object borrowed by the
// validation stage for the duration of one verify call.
type ValidationContext struct {
	Accepted bool
	Reason   string
	Scratch  []byte
}

func NewValidationContext() Poolable {
	return &ValidationContext{}
}

func (c *ValidationContext) Reset() {
	c.Accepted = false
	c.Reason = ""
	c.Scratch = c.Scratch[:0]
}

func (c *ValidationContext) Clean() bool {
	return !c.Accepted && c.Reason == "" && len(c.Scratch) == 0
}

// MsgBuffer is a reusable outbound message buffer. Reset keeps the backing
// array so the capacity survives reuse.
type MsgBuffer struct {
	Dest string
	Buf  []byte
}

func NewMsgBuffer() Poolable {
	return &MsgBuffer{Buf: make([]byte, 0, 512)}
}

func (b *MsgBuffer) Reset() {
	b.Dest = ""
	b.Buf = b.Buf[:0]
}

func (b *MsgBuffer) Clean() bool {
	return b.Dest == "" && len(b.Buf) == 0
}
