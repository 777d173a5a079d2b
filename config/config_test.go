package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().ValidateBasic())
	require.NoError(t, TestConfig().ValidateBasic())
}

func TestValidateBasicCatchesBadSections(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Accumulator.MaxBatchSize = cfg.Accumulator.MinBatchSize - 1
	assert.Error(t, cfg.ValidateBasic())

	cfg = DefaultConfig()
	cfg.Accumulator.DefaultBatchSize = cfg.Accumulator.MaxBatchSize + 1
	assert.Error(t, cfg.ValidateBasic())

	cfg = DefaultConfig()
	cfg.Tuner.RampStepPct = 1.5
	assert.Error(t, cfg.ValidateBasic())

	cfg = DefaultConfig()
	cfg.Consensus.QuorumThreshold = 0
	assert.Error(t, cfg.ValidateBasic())

	cfg = DefaultConfig()
	cfg.Pipeline.Depth = 0
	assert.Error(t, cfg.ValidateBasic())

	cfg = DefaultConfig()
	cfg.Pool.MaxSize = cfg.Pool.InitialSize - 1
	assert.Error(t, cfg.ValidateBasic())

	cfg = DefaultConfig()
	cfg.Network.BatchSize = 0
	assert.Error(t, cfg.ValidateBasic())
}
