package types

type QuorumType uint8

const (
	EmptyQuorum   = QuorumType(0)
	SupportQuorum = QuorumType(1)
	AgainstQuorum = QuorumType(2)
)

func (q QuorumType) String() string {
	switch q {
	case EmptyQuorum:
		return "EmptyQuorum"
	case SupportQuorum:
		return "SupportQuorum"
	case AgainstQuorum:
		return "AgainstQuorum"
	default:
		return "UnknownQuorum"
	}
}

// Quorum is the outcome of evaluating a vote tally against a threshold.
// SupportQuorum means at least threshold replicas voted in favor;
// AgainstQuorum means enough voted against that the threshold can no longer
// be reached.
type Quorum struct {
	Type      QuorumType `json:"type"`
	Support   int        `json:"support"`
	Against   int        `json:"against"`
	Threshold int        `json:"threshold"`
}

func (q Quorum) IsEmpty() bool {
	return q.Type == EmptyQuorum
}

// EvalQuorum decides the quorum state for the given tally. A support quorum
// is reached the instant support hits the threshold; an against quorum is
// reached as soon as the threshold became unreachable given the set size.
func EvalQuorum(support, against, threshold, setSize int) Quorum {
	q := Quorum{Support: support, Against: against, Threshold: threshold}
	switch {
	case support >= threshold:
		q.Type = SupportQuorum
	case against > setSize-threshold:
		q.Type = AgainstQuorum
	default:
		q.Type = EmptyQuorum
	}
	return q
}
