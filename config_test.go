package cellpy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigOverlaysDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("stable_voltage_hard: 3.5\n"))
	require.NoError(t, err)
	assert.Equal(t, 3.5, cfg.StableVoltageHard)

	// Absent keys keep their defaults.
	def := DefaultConfig()
	assert.Equal(t, def.CurrentLimitHard, cfg.CurrentLimitHard)
	assert.Equal(t, def.StableChargeSoft, cfg.StableChargeSoft)
}

func TestParseConfigRejectsUnknownKeys(t *testing.T) {
	_, err := ParseConfig([]byte("stable_voltage_hrd: 3.5\n"))
	require.Error(t, err)
}

func TestParseSummaryOptions(t *testing.T) {
	opts, err := ParseSummaryOptions([]byte("find_ocv: true\ncapacity_modifier: reset\n"))
	require.NoError(t, err)
	assert.True(t, opts.FindOCV)
	assert.Equal(t, "reset", opts.CapacityModifier)
	// Defaults survive the overlay.
	assert.True(t, opts.ConvertDate)
	assert.True(t, opts.EnsureStepTable)
}

func TestParseSummaryOptionsRejectsBadModifier(t *testing.T) {
	_, err := ParseSummaryOptions([]byte("capacity_modifier: truncate\n"))
	require.Error(t, err)
}

func TestDefaultThresholds(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 1e-13, cfg.CurrentLimitHard)
	assert.Equal(t, 1e-5, cfg.CurrentLimitSoft)
	assert.Equal(t, 2.0, cfg.StableVoltageHard)
	assert.Equal(t, 5.0, cfg.StableChargeSoft)
	assert.Equal(t, 1e-5, cfg.IRChangeLimit)
}
