package node

import (
	"fmt"

	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/libs/service"

	"txpipe/accumulator"
	"txpipe/config"
	"txpipe/consensus"
	"txpipe/finalizer"
	"txpipe/libs/metric"
	"txpipe/netbatch"
	"txpipe/pipeline"
	"txpipe/pool"
	"txpipe/tuner"
	"txpipe/types"
	"txpipe/validation"
)

// Capabilities are the deployment-supplied integration points. Any left nil
// gets a standalone default: accept-all verification, discard commits and a
// dropped wire.
type Capabilities struct {
	Verifier  validation.TxVerifier
	Committer finalizer.Committer
	Transport netbatch.Transport
}

// MetricsProvider returns the go-kit metrics for each instrumented
// component.
type MetricsProvider func() (*accumulator.Metrics, *pipeline.Metrics, *consensus.Metrics)

// DefaultMetricsProvider returns metrics backed by Prometheus under the
// given namespace.
func DefaultMetricsProvider(namespace string) MetricsProvider {
	return func() (*accumulator.Metrics, *pipeline.Metrics, *consensus.Metrics) {
		return accumulator.PrometheusMetrics(namespace),
			pipeline.PrometheusMetrics(namespace),
			consensus.PrometheusMetrics(namespace)
	}
}

// NopMetricsProvider returns no-op metrics.
func NopMetricsProvider() MetricsProvider {
	return func() (*accumulator.Metrics, *pipeline.Metrics, *consensus.Metrics) {
		return accumulator.NopMetrics(), pipeline.NopMetrics(), consensus.NopMetrics()
	}
}

type requeuerFunc func(pending []*accumulator.PendingTx)

func (f requeuerFunc) Requeue(pending []*accumulator.PendingTx) { f(pending) }

type observerFunc func(batchSize int, throughput float64)

func (f observerFunc) Observe(batchSize int, throughput float64) { f(batchSize, throughput) }

// Node assembles the full flow: accumulator into pipeline, pipeline into
// agreement, agreement into the finalizer, the finalizer back into the
// accumulator for timed-out batches. One Node is one replica.
type Node struct {
	service.BaseService

	cfg      *config.Config
	replicas *types.ReplicaSet
	self     *types.Replica

	pools     *pool.Manager
	net       *netbatch.Batcher
	fin       *finalizer.Finalizer
	cons      *consensus.State
	pipe      *pipeline.Pipeline
	acc       *accumulator.ListAccumulator
	tun       *tuner.Tuner
	validator *validation.Parallel
	bcast     *broadcaster

	metricSet *metric.Set
}

type Option func(*options)

type options struct {
	replicas  *types.ReplicaSet
	selfIndex int32
	provider  MetricsProvider
}

// SetReplicaSet runs the node as the replica at selfIndex of the given set
// instead of standalone.
func SetReplicaSet(replicas *types.ReplicaSet, selfIndex int32) Option {
	return func(o *options) {
		o.replicas = replicas
		o.selfIndex = selfIndex
	}
}

// SetMetricsProvider overrides the default Nop go-kit metrics.
func SetMetricsProvider(provider MetricsProvider) Option {
	return func(o *options) {
		o.provider = provider
	}
}

func New(cfg *config.Config, caps Capabilities, opts ...Option) (*Node, error) {
	if err := cfg.ValidateBasic(); err != nil {
		return nil, err
	}

	o := &options{
		replicas: types.GenReplicaSet(1),
		provider: NopMetricsProvider(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if err := o.replicas.ValidateBasic(); err != nil {
		return nil, err
	}
	_, self := o.replicas.GetByIndex(o.selfIndex)
	if self == nil {
		return nil, fmt.Errorf("self index %d outside replica set of %d", o.selfIndex, o.replicas.Size())
	}

	if caps.Verifier == nil {
		caps.Verifier = validation.VerifierFunc(func(*types.Tx) error { return nil })
	}
	if caps.Committer == nil {
		caps.Committer = discardCommitter{}
	}
	if caps.Transport == nil {
		caps.Transport = netbatch.TransportFunc(func(string, []byte) error { return nil })
	}

	accMetrics, pipeMetrics, consMetrics := o.provider()

	n := &Node{
		cfg:       cfg,
		replicas:  o.replicas,
		self:      self,
		metricSet: metric.NewSet(),
	}

	n.pools = pool.NewManager(cfg.Pool, cfg.Features.Pooling)
	n.net = netbatch.NewBatcher(cfg.Network, cfg.Features, caps.Transport, n.pools)

	n.fin = finalizer.NewFinalizer(
		cfg.Network,
		caps.Committer,
		requeuerFunc(func(pending []*accumulator.PendingTx) { n.acc.Requeue(pending) }),
		finalizer.SetAnnouncer(n.net),
	)

	n.bcast = newBroadcaster(n.net, cfg.Network.BroadcastDest)

	n.cons = consensus.NewState(
		cfg.Consensus,
		cfg.Pipeline.Depth,
		n.replicas,
		n.self,
		n.fin,
		consensus.SetBroadcaster(n.bcast),
		consensus.SetMetrics(consMetrics),
	)

	n.validator = validation.NewParallel(cfg.Validation, caps.Verifier, n.pools)

	n.pipe = pipeline.NewPipeline(
		cfg.Pipeline,
		cfg.Validation,
		cfg.Features,
		n.validator,
		n.cons,
		n.pools,
		pipeline.SetMetrics(pipeMetrics),
	)

	n.acc = accumulator.NewListAccumulator(
		cfg.Accumulator,
		cfg.Features,
		n.pipe,
		accumulator.SetObserver(observerFunc(func(size int, tput float64) { n.tun.Observe(size, tput) })),
		accumulator.SetMetrics(accMetrics),
	)

	n.tun = tuner.NewTuner(cfg.Tuner, cfg.Accumulator, n.acc)

	n.BaseService = *service.NewBaseService(nil, "NODE", n)
	n.registerMetrics()
	return n, nil
}

func (n *Node) SetLogger(l log.Logger) {
	n.BaseService.SetLogger(l)
	n.pools.SetLogger(l.With("module", "pool"))
	n.net.SetLogger(l.With("module", "netbatch"))
	n.fin.SetLogger(l.With("module", "finalizer"))
	n.cons.SetLogger(l.With("module", "consensus"))
	n.pipe.SetLogger(l.With("module", "pipeline"))
	n.validator.SetLogger(l.With("module", "validation"))
	n.acc.SetLogger(l.With("module", "accumulator"))
	n.tun.SetLogger(l.With("module", "tuner"))
}

// OnStart brings the stages up sink-first so no stage ever feeds a stopped
// consumer.
func (n *Node) OnStart() error {
	for _, s := range []service.Service{n.net, n.cons, n.pipe, n.tun, n.acc} {
		if err := s.Start(); err != nil {
			return err
		}
	}
	n.Logger.Info("node started",
		"replicas", n.replicas.Size(),
		"self", n.self.Address,
		"leader", n.replicas.Leader(n.cons.Term()).Address)
	return nil
}

// OnStop drains source-first: the accumulator settles its buffer before the
// downstream stages go away.
func (n *Node) OnStop() {
	for _, s := range []service.Service{n.acc, n.tun, n.pipe, n.cons, n.net} {
		if err := s.Stop(); err != nil {
			n.Logger.Error("stopping service", "service", s, "err", err)
		}
	}
}

// Submit queues one transaction payload and returns the future its
// terminal state arrives on.
func (n *Node) Submit(payload []byte) (*types.TxFuture, error) {
	return n.acc.Submit(types.NewTx(payload))
}

// AddVote tallies a remote replica's vote.
func (n *Node) AddVote(vote *types.Vote) error {
	return n.cons.AddVote(vote)
}

// Term returns the current consensus term.
func (n *Node) Term() types.Term {
	return n.cons.Term()
}

// BufferedTxs returns the number of transactions waiting in the
// accumulator.
func (n *Node) BufferedTxs() int {
	return n.acc.Size()
}

// MetricsSnapshot renders every component's counters, keyed by component.
func (n *Node) MetricsSnapshot() map[string]string {
	return n.metricSet.Snapshot()
}

func (n *Node) registerMetrics() {
	for label, item := range map[string]metric.Item{
		"accumulator": n.acc.Metric(),
		"tuner":       n.tun.Metric(),
		"pipeline":    n.pipe.Metric(),
		"consensus":   n.cons.Metric(),
		"finalizer":   n.fin.Metric(),
		"network":     n.net.Metric(),
		"pool":        n.pools.Metric(),
	} {
		if err := n.metricSet.Register(label, item); err != nil {
			n.Logger.Error("metric registration failed", "label", label, "err", err)
		}
	}
}

type discardCommitter struct{}

func (discardCommitter) Commit(types.Txs, *types.ConsensusDecision) error { return nil }
