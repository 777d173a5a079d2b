package node

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/libs/log"

	"txpipe/config"
	"txpipe/netbatch"
	"txpipe/types"
	"txpipe/validation"
)

type recordingCommitter struct {
	mtx       sync.Mutex
	txs       types.Txs
	decisions []*types.ConsensusDecision
}

func (c *recordingCommitter) Commit(txs types.Txs, d *types.ConsensusDecision) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.txs = append(c.txs, txs...)
	c.decisions = append(c.decisions, d)
	return nil
}

func (c *recordingCommitter) committedTxs() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return len(c.txs)
}

type frameTransport struct {
	mtx    sync.Mutex
	frames [][]byte
	ch     chan []byte
}

func newFrameTransport() *frameTransport {
	return &frameTransport{ch: make(chan []byte, 256)}
}

func (tr *frameTransport) Send(dest string, data []byte) error {
	tr.mtx.Lock()
	tr.frames = append(tr.frames, data)
	tr.mtx.Unlock()
	select {
	case tr.ch <- data:
	default:
	}
	return nil
}

func startNode(t *testing.T, cfg *config.Config, caps Capabilities, opts ...Option) (*Node, func()) {
	n, err := New(cfg, caps, opts...)
	require.NoError(t, err)
	n.SetLogger(log.TestingLogger())
	require.NoError(t, n.Start())
	return n, func() { _ = n.Stop() }
}

func TestSingleLargeBatchCommits(t *testing.T) {
	cfg := config.TestConfig()
	cfg.Accumulator.MinBatchSize = 2000
	cfg.Accumulator.DefaultBatchSize = 15000
	cfg.Accumulator.MaxBatchSize = 15000
	cfg.Accumulator.FlushInterval = 50 * time.Millisecond

	committer := &recordingCommitter{}
	n, cleanup := startNode(t, cfg, Capabilities{Committer: committer})
	defer cleanup()

	const total = 12000
	futures := make([]*types.TxFuture, total)
	for i := 0; i < total; i++ {
		fut, err := n.Submit([]byte(fmt.Sprintf("load-tx-%05d", i)))
		require.NoError(t, err)
		futures[i] = fut
	}

	deadline := time.After(5 * time.Second)
	for i, fut := range futures {
		select {
		case <-fut.Done():
			res, _ := fut.Result()
			require.Equal(t, types.TxCommitted, res.Status, "tx #%d", i)
		case <-deadline:
			t.Fatalf("tx #%d unresolved", i)
		}
	}

	require.Equal(t, total, committer.committedTxs())
	committer.mtx.Lock()
	decisions := len(committer.decisions)
	committer.mtx.Unlock()
	assert.Equal(t, 1, decisions, "everything buffered below target must leave as one batch")
}

func TestEveryTxReachesExactlyOneTerminalState(t *testing.T) {
	cfg := config.TestConfig()

	verifier := validation.VerifierFunc(func(tx *types.Tx) error {
		if tx.Payload[len(tx.Payload)-1]%5 == 0 {
			return errors.New("payload refused")
		}
		return nil
	})

	committer := &recordingCommitter{}
	n, cleanup := startNode(t, cfg, Capabilities{Verifier: verifier, Committer: committer})
	defer cleanup()

	const total = 300
	futures := make([]*types.TxFuture, total)
	for i := 0; i < total; i++ {
		fut, err := n.Submit([]byte(fmt.Sprintf("mix-tx-%04d", i)))
		require.NoError(t, err)
		futures[i] = fut
	}

	committed, rejected := 0, 0
	deadline := time.After(5 * time.Second)
	for i, fut := range futures {
		select {
		case <-fut.Done():
			res, _ := fut.Result()
			switch res.Status {
			case types.TxCommitted:
				committed++
			case types.TxRejected:
				rejected++
			default:
				t.Fatalf("tx #%d resolved %v", i, res.Status)
			}
		case <-deadline:
			t.Fatalf("tx #%d unresolved", i)
		}
	}

	assert.Equal(t, total, committed+rejected, "no tx may be lost or double-counted")
	assert.Equal(t, committed, committer.committedTxs(), "commits must match the committer's view")
	assert.Greater(t, rejected, 0, "the verifier must have refused some payloads")
}

func TestRemoteVoteOverTheWireCommits(t *testing.T) {
	cfg := config.TestConfig()
	cfg.Consensus.QuorumThreshold = 2
	cfg.Accumulator.BatchDeadline = 2 * time.Second
	cfg.Network.FlushInterval = 10 * time.Millisecond

	replicas := types.GenReplicaSet(3)
	transport := newFrameTransport()

	n, cleanup := startNode(t, cfg, Capabilities{Transport: transport},
		SetReplicaSet(replicas, 0))
	defer cleanup()

	fut, err := n.Submit([]byte("wire-tx"))
	require.NoError(t, err)

	// fish the broadcast proposal out of the outbound frames
	var proposal *types.Batch
	var term types.Term
	deadline := time.After(2 * time.Second)
	for proposal == nil {
		select {
		case frame := <-transport.ch:
			payloads, err := netbatch.Decode(frame)
			require.NoError(t, err)
			for _, payload := range payloads {
				var env envelope
				require.NoError(t, jsoniter.Unmarshal(payload, &env))
				if env.Kind == kindProposal {
					proposal = env.Batch
					term = env.Term
				}
			}
		case <-deadline:
			t.Fatal("no proposal broadcast")
		}
	}

	addr, _ := replicas.GetByIndex(1)
	votePayload, err := jsoniter.Marshal(envelope{Kind: kindVote, Vote: &types.Vote{
		Term:           term,
		BatchID:        proposal.ID,
		BatchHash:      proposal.Hash(),
		Type:           types.SupportVote,
		Timestamp:      time.Now(),
		ReplicaAddress: addr,
		ReplicaIndex:   1,
	}})
	require.NoError(t, err)

	require.NoError(t, n.Receive(netbatch.Encode([][]byte{votePayload}, 1<<20)))

	select {
	case <-fut.Done():
		res, _ := fut.Result()
		assert.Equal(t, types.TxCommitted, res.Status)
	case <-time.After(3 * time.Second):
		t.Fatal("remote vote never completed the quorum")
	}
}

func TestMetricsSnapshotCoversEveryComponent(t *testing.T) {
	cfg := config.TestConfig()
	n, cleanup := startNode(t, cfg, Capabilities{})
	defer cleanup()

	_, err := n.Submit([]byte("snapshot-tx"))
	require.NoError(t, err)

	snapshot := n.MetricsSnapshot()
	for _, label := range []string{
		"accumulator", "tuner", "pipeline", "consensus", "finalizer", "network", "pool",
	} {
		payload, ok := snapshot[label]
		require.True(t, ok, "missing snapshot for %q", label)
		var decoded map[string]interface{}
		require.NoError(t, jsoniter.UnmarshalFromString(payload, &decoded), "label %q", label)
	}
}

func TestNodeShutdownLeavesNoGoroutines(t *testing.T) {
	cfg := config.TestConfig()

	// a first lifecycle warms the process-wide metrics plumbing so the leak
	// check below only sees this test's own goroutines
	warm, warmCleanup := startNode(t, cfg, Capabilities{})
	_, _ = warm.Submit([]byte("warmup"))
	warmCleanup()

	defer leaktest.CheckTimeout(t, 3*time.Second)()

	n, cleanup := startNode(t, cfg, Capabilities{})
	for i := 0; i < 50; i++ {
		_, err := n.Submit([]byte(fmt.Sprintf("shutdown-tx-%02d", i)))
		require.NoError(t, err)
	}
	cleanup()
}
