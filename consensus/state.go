package consensus

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tendermint/tendermint/libs/service"

	"txpipe/config"
	"txpipe/pipeline"
	"txpipe/types"
)

// maxFutureRounds bounds the early-vote cache; votes for batches further
// ahead than this are dropped.
const maxFutureRounds = 1024

// DecisionSink receives every decided slot exactly once. Implemented by the
// finalizer.
type DecisionSink interface {
	Finalize(decision *types.ConsensusDecision, slot *pipeline.Slot) error
}

// Broadcaster pushes proposals and votes to the other replicas. A nil
// broadcaster runs the replica standalone.
type Broadcaster interface {
	BroadcastProposal(batch *types.Batch, term types.Term) error
	BroadcastVote(vote *types.Vote) error
}

// round is one batch's live tally plus the channel its quorum is signalled
// on. The signal fires at most once.
type round struct {
	slot  *pipeline.Slot
	term  types.Term
	votes *VoteSet

	quorumCh chan types.Quorum
	once     sync.Once
}

func (r *round) signal(q types.Quorum) {
	r.once.Do(func() { r.quorumCh <- q })
}

// decided carries a settled proposal from the agreement phases into the
// decide phase.
type decided struct {
	slot    *pipeline.Slot
	term    types.Term
	quorum  types.Quorum
	verdict types.Verdict
	reason  string
}

var _ pipeline.ProposalStage = (*State)(nil)

// State runs agreement over proposals in three phases, each served by its
// own worker pool: a structural validate phase, a vote aggregation phase
// that waits out the quorum, and a decide phase that stamps the sequence
// number and hands the outcome to the finalizer. Pipelining means several
// rounds aggregate concurrently; ordering is restored by Seq, not by
// completion time.
type State struct {
	service.BaseService

	cfg      *config.ConsensusConfig
	replicas *types.ReplicaSet
	self     *types.Replica

	sink        DecisionSink
	broadcaster Broadcaster

	// Atomic integers
	term        int64
	seq         int64
	lastDecided int64

	mtx            sync.Mutex
	rounds         map[int64]*round
	futureVotes    map[int64][]*types.Vote
	lastProposedID int64

	validateCh  chan *pipeline.Slot
	aggregateCh chan *round
	decideCh    chan *decided

	metrics *Metrics
	metric  *consMetric
}

type StateOption func(*State)

// SetBroadcaster wires the replica into the network fan-out.
func SetBroadcaster(b Broadcaster) StateOption {
	return func(s *State) {
		s.broadcaster = b
	}
}

// SetMetrics overrides the default Nop go-kit metrics.
func SetMetrics(metrics *Metrics) StateOption {
	return func(s *State) {
		s.metrics = metrics
	}
}

// NewState builds the agreement state machine. depth sizes the phase
// channels and must cover the pipeline's slot window so phase handoffs never
// block admission.
func NewState(
	cfg *config.ConsensusConfig,
	depth int,
	replicas *types.ReplicaSet,
	self *types.Replica,
	sink DecisionSink,
	options ...StateOption,
) *State {
	s := &State{
		cfg:            cfg,
		replicas:       replicas,
		self:           self,
		sink:           sink,
		lastDecided:    -1,
		lastProposedID: -1,
		rounds:         make(map[int64]*round),
		futureVotes:    make(map[int64][]*types.Vote),
		validateCh:     make(chan *pipeline.Slot, depth),
		aggregateCh:    make(chan *round, depth),
		decideCh:       make(chan *decided, depth),
		metrics:        NopMetrics(),
	}
	s.metric = newConsMetric(s)

	s.BaseService = *service.NewBaseService(nil, "CONSENSUS", s)

	for _, option := range options {
		option(s)
	}

	return s
}

func (s *State) OnStart() error {
	for i := 0; i < s.cfg.ValidateWorkers; i++ {
		go s.validateRoutine()
	}
	for i := 0; i < s.cfg.AggregateWorkers; i++ {
		go s.aggregateRoutine()
	}
	for i := 0; i < s.cfg.DecideWorkers; i++ {
		go s.decideRoutine()
	}
	return nil
}

func (s *State) OnStop() {
	// live rounds never reach a verdict; their futures resolve so no
	// submitter is left waiting
	s.mtx.Lock()
	rounds := make([]*round, 0, len(s.rounds))
	for _, r := range s.rounds {
		rounds = append(rounds, r)
	}
	s.rounds = make(map[int64]*round)
	s.mtx.Unlock()

	for _, r := range rounds {
		s.abortSlot(r.slot, "consensus shut down")
	}
	for {
		select {
		case slot := <-s.validateCh:
			s.abortSlot(slot, "consensus shut down")
		case d := <-s.decideCh:
			s.abortSlot(d.slot, "consensus shut down")
		default:
			return
		}
	}
}

// Propose implements pipeline.ProposalStage.
func (s *State) Propose(slot *pipeline.Slot) error {
	if !s.IsRunning() {
		return ErrNotRunning
	}
	select {
	case s.validateCh <- slot:
		return nil
	case <-s.Quit():
		return ErrNotRunning
	}
}

// AddVote tallies a remote replica's vote. Votes arriving before their
// proposal are cached and replayed once the round opens.
func (s *State) AddVote(vote *types.Vote) error {
	if !s.IsRunning() {
		return ErrNotRunning
	}
	if err := vote.ValidateBasic(); err != nil {
		return err
	}
	if !s.replicas.HasAddress(vote.ReplicaAddress) {
		return ErrUnknownReplica
	}
	if vote.BatchID <= atomic.LoadInt64(&s.lastDecided) {
		return ErrStaleVote
	}

	s.mtx.Lock()
	r, ok := s.rounds[vote.BatchID]
	if !ok {
		if len(s.futureVotes) < maxFutureRounds {
			s.futureVotes[vote.BatchID] = append(s.futureVotes[vote.BatchID], vote)
		}
		s.mtx.Unlock()
		s.Logger.Debug("cached early vote", "batch", vote.BatchID, "from", vote.ReplicaAddress)
		return nil
	}
	s.mtx.Unlock()

	return s.addVoteToRound(r, vote)
}

// Term returns the current term.
func (s *State) Term() types.Term {
	return types.Term(atomic.LoadInt64(&s.term))
}

// Leader returns the current term's leader.
func (s *State) Leader() *types.Replica {
	return s.replicas.Leader(s.Term())
}

// Seq returns the next decision sequence number to be assigned.
func (s *State) Seq() int64 {
	return atomic.LoadInt64(&s.seq)
}

// Metric exposes the snapshot item for registration.
func (s *State) Metric() *consMetric {
	return s.metric
}

// ----- validate phase -----

func (s *State) validateRoutine() {
	for {
		select {
		case <-s.Quit():
			return
		case slot := <-s.validateCh:
			s.validateProposal(slot)
		}
	}
}

// validateProposal runs the structural checks and opens the round. Failing
// proposals skip aggregation and go straight to a rejecting decision.
func (s *State) validateProposal(slot *pipeline.Slot) {
	term := s.Term()

	if reason, ok := s.checkProposal(slot); !ok {
		s.decideCh <- &decided{
			slot:    slot,
			term:    term,
			verdict: types.VerdictRejected,
			reason:  reason,
		}
		return
	}

	r := &round{
		slot: slot,
		term: term,
		votes: NewVoteSet(
			term,
			slot.Proposal.ID,
			slot.Proposal.Hash(),
			s.cfg.QuorumThreshold,
			s.replicas,
		),
		quorumCh: make(chan types.Quorum, 1),
	}

	s.mtx.Lock()
	s.rounds[slot.Proposal.ID] = r
	early := s.futureVotes[slot.Proposal.ID]
	delete(s.futureVotes, slot.Proposal.ID)
	s.mtx.Unlock()

	for _, vote := range early {
		if err := s.addVoteToRound(r, vote); err != nil {
			s.Logger.Debug("dropped cached vote", "batch", vote.BatchID, "err", err)
		}
	}

	s.aggregateCh <- r
}

// checkProposal returns ok=false with a reason when the slot cannot go to a
// vote.
func (s *State) checkProposal(slot *pipeline.Slot) (string, bool) {
	if slot.InvalidReason != "" {
		return slot.InvalidReason, false
	}
	if slot.Proposal == nil || slot.Proposal.Size() == 0 {
		return "empty proposal", false
	}
	if err := slot.Proposal.ValidateBasic(); err != nil {
		return err.Error(), false
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()
	if slot.Proposal.ID <= s.lastProposedID {
		return fmt.Sprintf("batch id %d not above last proposed %d",
			slot.Proposal.ID, s.lastProposedID), false
	}
	s.lastProposedID = slot.Proposal.ID
	return "", true
}

// ----- aggregate phase -----

func (s *State) aggregateRoutine() {
	for {
		select {
		case <-s.Quit():
			return
		case r := <-s.aggregateCh:
			s.aggregate(r)
		}
	}
}

// aggregate casts the replica's own vote, fans the proposal out and waits
// for a quorum or the batch deadline.
func (s *State) aggregate(r *round) {
	self := &types.Vote{
		Term:           r.term,
		BatchID:        r.votes.BatchID(),
		BatchHash:      r.votes.BatchHash(),
		Type:           types.SupportVote,
		Timestamp:      time.Now(),
		ReplicaAddress: s.self.Address,
		ReplicaIndex:   s.self.Index,
	}
	if err := s.addVoteToRound(r, self); err != nil {
		s.Logger.Error("self vote refused", "batch", self.BatchID, "err", err)
	}

	if s.broadcaster != nil {
		if err := s.broadcaster.BroadcastProposal(r.slot.Proposal, r.term); err != nil {
			s.Logger.Error("proposal broadcast failed", "batch", self.BatchID, "err", err)
		}
		if err := s.broadcaster.BroadcastVote(self); err != nil {
			s.Logger.Error("vote broadcast failed", "batch", self.BatchID, "err", err)
		}
	}

	wait := time.Until(r.slot.Batch.Deadline)
	if wait <= 0 {
		wait = s.cfg.QuorumTimeout
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	d := &decided{slot: r.slot, term: r.term}
	select {
	case q := <-r.quorumCh:
		d.quorum = q
		if q.Type == types.SupportQuorum {
			d.verdict = types.VerdictCommitted
		} else {
			d.verdict = types.VerdictRejected
			d.reason = "against quorum"
		}
	case <-timer.C:
		// the deadline beat the quorum; a last look at the tally avoids
		// timing out a round whose signal is in flight
		d.quorum = r.votes.Quorum()
		if d.quorum.Type == types.SupportQuorum {
			d.verdict = types.VerdictCommitted
		} else {
			d.verdict = types.VerdictTimedOut
			d.reason = "quorum timeout"
		}
	case <-s.Quit():
		s.closeRound(r.votes.BatchID())
		s.abortSlot(r.slot, "consensus shut down")
		return
	}

	s.closeRound(r.votes.BatchID())
	s.decideCh <- d
}

func (s *State) closeRound(batchID int64) {
	s.mtx.Lock()
	delete(s.rounds, batchID)
	s.mtx.Unlock()
}

func (s *State) addVoteToRound(r *round, vote *types.Vote) error {
	q, err := r.votes.AddVote(vote)
	if err != nil {
		return err
	}
	s.metrics.Votes.Add(1)
	s.metric.MarkVote()
	if !q.IsEmpty() {
		r.signal(q)
	}
	return nil
}

// ----- decide phase -----

func (s *State) decideRoutine() {
	for {
		select {
		case <-s.Quit():
			return
		case d := <-s.decideCh:
			s.decide(d)
		}
	}
}

// decide stamps the sequence number and hands the outcome over. Terms
// advance on timeout so a stalled leader loses the proposer role.
func (s *State) decide(d *decided) {
	seq := atomic.AddInt64(&s.seq, 1) - 1

	decision := &types.ConsensusDecision{
		BatchID:   d.slot.Batch.ID,
		Term:      d.term,
		Seq:       seq,
		Support:   d.quorum.Support,
		Against:   d.quorum.Against,
		Threshold: s.cfg.QuorumThreshold,
		Verdict:   d.verdict,
		Reason:    d.reason,
		DecidedAt: time.Now(),
	}
	if err := decision.ValidateBasic(); err != nil {
		panic(fmt.Sprintf("consensus produced an unsound decision: %v", err))
	}

	for {
		last := atomic.LoadInt64(&s.lastDecided)
		if decision.BatchID <= last || atomic.CompareAndSwapInt64(&s.lastDecided, last, decision.BatchID) {
			break
		}
	}

	if d.verdict == types.VerdictTimedOut {
		s.advanceTerm()
	}

	s.markDecision(decision)
	s.Logger.Info("decided batch", "decision", decision)

	if err := s.sink.Finalize(decision, d.slot); err != nil {
		s.Logger.Error("finalize failed", "batch", decision.BatchID, "err", err)
		s.abortSlot(d.slot, "finalization failed")
	}
}

func (s *State) advanceTerm() {
	next := atomic.AddInt64(&s.term, 1)
	leader := s.replicas.Leader(types.Term(next))
	s.metrics.TermChanges.Add(1)
	s.Logger.Info("term advanced", "term", next, "leader", leader.Address)
}

func (s *State) markDecision(decision *types.ConsensusDecision) {
	switch decision.Verdict {
	case types.VerdictCommitted:
		s.metrics.CommittedBatches.Add(1)
	case types.VerdictRejected:
		s.metrics.RejectedBatches.Add(1)
	case types.VerdictTimedOut:
		s.metrics.TimedOutBatches.Add(1)
	}
	s.metric.MarkDecision(decision)
}

// abortSlot resolves every future still unresolved and releases the slot.
func (s *State) abortSlot(slot *pipeline.Slot, reason string) {
	for _, ptx := range slot.Pending {
		ptx.Future.Resolve(types.TerminalResult{
			Status: types.TxTimedOut,
			Reason: reason,
		})
	}
	slot.Release()
}
