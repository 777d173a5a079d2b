package config

import (
	"fmt"
	"time"
)

// Config is the single explicit configuration surface for the whole core.
// It is constructed once at startup and passed by reference; nothing reads
// ambient key-value state at runtime.
type Config struct {
	Accumulator *AccumulatorConfig `mapstructure:"accumulator"`
	Tuner       *TunerConfig       `mapstructure:"tuner"`
	Validation  *ValidationConfig  `mapstructure:"validation"`
	Consensus   *ConsensusConfig   `mapstructure:"consensus"`
	Pipeline    *PipelineConfig    `mapstructure:"pipeline"`
	Pool        *PoolConfig        `mapstructure:"pool"`
	Network     *NetworkConfig     `mapstructure:"network"`
	Features    *FeatureFlags      `mapstructure:"features"`
}

// FeatureFlags toggles each optimization independently for staged rollout.
// A disabled optimization degrades to the trivial behavior (singleton
// batches, depth-1 pipeline, allocate-per-use, send-per-message); it never
// changes outcomes, only performance.
type FeatureFlags struct {
	Batching        bool `mapstructure:"batching"`
	Pipelining      bool `mapstructure:"pipelining"`
	Pooling         bool `mapstructure:"pooling"`
	NetworkBatching bool `mapstructure:"network_batching"`
}

type AccumulatorConfig struct {
	MinBatchSize     int           `mapstructure:"min_batch_size"`
	MaxBatchSize     int           `mapstructure:"max_batch_size"`
	DefaultBatchSize int           `mapstructure:"default_batch_size"`
	FlushInterval    time.Duration `mapstructure:"flush_interval"`
	// BatchDeadline stamps each flushed batch; it should cover a full quorum
	// round, the aggregation stage times the round out against it.
	BatchDeadline time.Duration `mapstructure:"batch_deadline"`
	// MaxRequeues bounds how often a timed-out batch's transactions go back
	// into the buffer before their futures resolve TimedOut.
	MaxRequeues int `mapstructure:"max_requeues"`
}

type TunerConfig struct {
	Period            time.Duration `mapstructure:"period"`
	WarmupSamples     int           `mapstructure:"warmup_samples"`
	SampleWindow      int           `mapstructure:"sample_window"`
	ConfidenceR2      float64       `mapstructure:"confidence_r2"`
	RampUpAdjustments int           `mapstructure:"ramp_up_adjustments"`
	RampStepPct       float64       `mapstructure:"ramp_step_pct"`
	SteadyStepPct     float64       `mapstructure:"steady_step_pct"`
}

type ValidationConfig struct {
	// Workers caps the validation fan-out; 0 means 4x the core count.
	Workers        int `mapstructure:"workers"`
	SplitThreshold int `mapstructure:"split_threshold"`
	StageWorkers   int `mapstructure:"stage_workers"`
	// RequireUnanimous marks the whole batch invalid on any single
	// rejection instead of excluding the rejected transactions.
	RequireUnanimous bool `mapstructure:"require_unanimous"`
}

type ConsensusConfig struct {
	QuorumThreshold int           `mapstructure:"quorum_threshold"`
	QuorumTimeout   time.Duration `mapstructure:"quorum_timeout"`
	// Phase pool sizes; the 16:8:4 default ratio keeps the cheap structural
	// phase from starving the vote-bound aggregation phase.
	ValidateWorkers  int `mapstructure:"validate_workers"`
	AggregateWorkers int `mapstructure:"aggregate_workers"`
	DecideWorkers    int `mapstructure:"decide_workers"`
}

type PipelineConfig struct {
	Depth int `mapstructure:"depth"`
}

type PoolConfig struct {
	InitialSize    int           `mapstructure:"initial_size"`
	MaxSize        int           `mapstructure:"max_size"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
}

type NetworkConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	// MaxQueued caps the per-destination backlog; enqueues past it are
	// refused so a wedged destination cannot grow the queue without bound.
	MaxQueued               int           `mapstructure:"max_queued"`
	CompressionMinSizeBytes int           `mapstructure:"compression_min_size_bytes"`
	SendRetries             int           `mapstructure:"send_retries"`
	SendBackoff             time.Duration `mapstructure:"send_backoff"`
	BroadcastDest           string        `mapstructure:"broadcast_dest"`
}

// DefaultConfig returns the documented starting defaults.
func DefaultConfig() *Config {
	return &Config{
		Accumulator: &AccumulatorConfig{
			MinBatchSize:     100,
			MaxBatchSize:     20000,
			DefaultBatchSize: 1000,
			FlushInterval:    75 * time.Millisecond,
			BatchDeadline:    time.Second,
			MaxRequeues:      3,
		},
		Tuner: &TunerConfig{
			Period:            3 * time.Second,
			WarmupSamples:     5,
			SampleWindow:      60,
			ConfidenceR2:      0.8,
			RampUpAdjustments: 20,
			RampStepPct:       0.30,
			SteadyStepPct:     0.20,
		},
		Validation: &ValidationConfig{
			Workers:          0,
			SplitThreshold:   100,
			StageWorkers:     4,
			RequireUnanimous: false,
		},
		Consensus: &ConsensusConfig{
			QuorumThreshold:  4,
			QuorumTimeout:    time.Second,
			ValidateWorkers:  16,
			AggregateWorkers: 8,
			DecideWorkers:    4,
		},
		Pipeline: &PipelineConfig{
			Depth: 8,
		},
		Pool: &PoolConfig{
			InitialSize:    256,
			MaxSize:        4096,
			AcquireTimeout: 8 * time.Millisecond,
		},
		Network: &NetworkConfig{
			BatchSize:               1000,
			FlushInterval:           50 * time.Millisecond,
			MaxQueued:               16384,
			CompressionMinSizeBytes: 1024,
			SendRetries:             3,
			SendBackoff:             10 * time.Millisecond,
			BroadcastDest:           "peers",
		},
		Features: &FeatureFlags{
			Batching:        true,
			Pipelining:      true,
			Pooling:         true,
			NetworkBatching: true,
		},
	}
}

// TestConfig returns a config with short intervals suited to unit tests.
func TestConfig() *Config {
	cfg := DefaultConfig()
	cfg.Accumulator.MinBatchSize = 1
	cfg.Accumulator.DefaultBatchSize = 10
	cfg.Accumulator.MaxBatchSize = 100
	cfg.Accumulator.FlushInterval = 10 * time.Millisecond
	cfg.Accumulator.BatchDeadline = 200 * time.Millisecond
	cfg.Tuner.Period = 50 * time.Millisecond
	cfg.Consensus.QuorumThreshold = 1
	cfg.Consensus.QuorumTimeout = 200 * time.Millisecond
	cfg.Consensus.ValidateWorkers = 2
	cfg.Consensus.AggregateWorkers = 2
	cfg.Consensus.DecideWorkers = 1
	cfg.Pipeline.Depth = 4
	cfg.Pool.InitialSize = 8
	cfg.Pool.MaxSize = 64
	cfg.Network.FlushInterval = 20 * time.Millisecond
	cfg.Network.SendBackoff = time.Millisecond
	return cfg
}

func (cfg *Config) ValidateBasic() error {
	if err := cfg.Accumulator.ValidateBasic(); err != nil {
		return fmt.Errorf("accumulator section: %w", err)
	}
	if err := cfg.Tuner.ValidateBasic(); err != nil {
		return fmt.Errorf("tuner section: %w", err)
	}
	if err := cfg.Validation.ValidateBasic(); err != nil {
		return fmt.Errorf("validation section: %w", err)
	}
	if err := cfg.Consensus.ValidateBasic(); err != nil {
		return fmt.Errorf("consensus section: %w", err)
	}
	if err := cfg.Pipeline.ValidateBasic(); err != nil {
		return fmt.Errorf("pipeline section: %w", err)
	}
	if err := cfg.Pool.ValidateBasic(); err != nil {
		return fmt.Errorf("pool section: %w", err)
	}
	if err := cfg.Network.ValidateBasic(); err != nil {
		return fmt.Errorf("network section: %w", err)
	}
	return nil
}

func (cfg *AccumulatorConfig) ValidateBasic() error {
	if cfg.MinBatchSize <= 0 {
		return fmt.Errorf("min_batch_size must be positive, got %d", cfg.MinBatchSize)
	}
	if cfg.MaxBatchSize < cfg.MinBatchSize {
		return fmt.Errorf("max_batch_size %d below min_batch_size %d",
			cfg.MaxBatchSize, cfg.MinBatchSize)
	}
	if cfg.DefaultBatchSize < cfg.MinBatchSize || cfg.DefaultBatchSize > cfg.MaxBatchSize {
		return fmt.Errorf("default_batch_size %d outside [%d, %d]",
			cfg.DefaultBatchSize, cfg.MinBatchSize, cfg.MaxBatchSize)
	}
	if cfg.FlushInterval <= 0 {
		return fmt.Errorf("flush_interval must be positive")
	}
	if cfg.MaxRequeues < 0 {
		return fmt.Errorf("max_requeues must not be negative")
	}
	return nil
}

func (cfg *TunerConfig) ValidateBasic() error {
	if cfg.Period <= 0 {
		return fmt.Errorf("period must be positive")
	}
	if cfg.WarmupSamples <= 0 {
		return fmt.Errorf("warmup_samples must be positive")
	}
	if cfg.SampleWindow < cfg.WarmupSamples {
		return fmt.Errorf("sample_window %d below warmup_samples %d",
			cfg.SampleWindow, cfg.WarmupSamples)
	}
	if cfg.RampStepPct <= 0 || cfg.RampStepPct >= 1 {
		return fmt.Errorf("ramp_step_pct must be in (0, 1), got %v", cfg.RampStepPct)
	}
	if cfg.SteadyStepPct <= 0 || cfg.SteadyStepPct >= 1 {
		return fmt.Errorf("steady_step_pct must be in (0, 1), got %v", cfg.SteadyStepPct)
	}
	if cfg.ConfidenceR2 <= 0 || cfg.ConfidenceR2 > 1 {
		return fmt.Errorf("confidence_r2 must be in (0, 1], got %v", cfg.ConfidenceR2)
	}
	return nil
}

func (cfg *ValidationConfig) ValidateBasic() error {
	if cfg.Workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}
	if cfg.SplitThreshold <= 0 {
		return fmt.Errorf("split_threshold must be positive")
	}
	if cfg.StageWorkers <= 0 {
		return fmt.Errorf("stage_workers must be positive")
	}
	return nil
}

func (cfg *ConsensusConfig) ValidateBasic() error {
	if cfg.QuorumThreshold <= 0 {
		return fmt.Errorf("quorum_threshold must be positive, got %d", cfg.QuorumThreshold)
	}
	if cfg.QuorumTimeout <= 0 {
		return fmt.Errorf("quorum_timeout must be positive")
	}
	if cfg.ValidateWorkers <= 0 || cfg.AggregateWorkers <= 0 || cfg.DecideWorkers <= 0 {
		return fmt.Errorf("phase worker counts must be positive")
	}
	return nil
}

func (cfg *PipelineConfig) ValidateBasic() error {
	if cfg.Depth <= 0 {
		return fmt.Errorf("depth must be positive, got %d", cfg.Depth)
	}
	return nil
}

func (cfg *PoolConfig) ValidateBasic() error {
	if cfg.InitialSize < 0 {
		return fmt.Errorf("initial_size must not be negative")
	}
	if cfg.MaxSize < cfg.InitialSize {
		return fmt.Errorf("max_size %d below initial_size %d", cfg.MaxSize, cfg.InitialSize)
	}
	if cfg.AcquireTimeout <= 0 {
		return fmt.Errorf("acquire_timeout must be positive")
	}
	return nil
}

func (cfg *NetworkConfig) ValidateBasic() error {
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.FlushInterval <= 0 {
		return fmt.Errorf("flush_interval must be positive")
	}
	if cfg.MaxQueued < cfg.BatchSize {
		return fmt.Errorf("max_queued %d below batch_size %d", cfg.MaxQueued, cfg.BatchSize)
	}
	if cfg.CompressionMinSizeBytes < 0 {
		return fmt.Errorf("compression_min_size_bytes must not be negative")
	}
	if cfg.SendRetries < 0 {
		return fmt.Errorf("send_retries must not be negative")
	}
	return nil
}
