package types

// Term is the logical consensus term. A single leader is active per term and
// terms only ever move forward.
type Term int64

const (
	TermZero = Term(0)
)

func (t Term) Next() Term {
	return t + 1
}

func (t Term) Int64() int64 {
	return int64(t)
}

func (t Term) Equal(other Term) bool {
	return t == other
}

func (t Term) Greater(other Term) bool {
	return t > other
}

// Mod maps the term onto a replica index for round-robin leadership.
func (t Term) Mod(n int) int {
	if n <= 0 {
		return 0
	}
	return int(int64(t) % int64(n))
}
