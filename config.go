package cellpy

import (
	"fmt"

	"gopkg.in/yaml.v2"
)

// Config holds the classifier threshold limits. All limits have
// documented defaults; absent keys in a config file keep the default
// value, unrecognized keys are rejected.
type Config struct {
	// CurrentLimitHard is the no-current epsilon in A: a step whose
	// |max|+|min| current stays below it carries no current at all.
	CurrentLimitHard float64 `yaml:"current_limit_hard"`

	// CurrentLimitSoft is the near-zero current epsilon in A.
	CurrentLimitSoft float64 `yaml:"current_limit_soft"`

	// Stable*Hard/Soft limits are rate-of-change percentages.
	StableCurrentHard float64 `yaml:"stable_current_hard"`
	StableCurrentSoft float64 `yaml:"stable_current_soft"`
	StableVoltageHard float64 `yaml:"stable_voltage_hard"`
	StableVoltageSoft float64 `yaml:"stable_voltage_soft"`
	StableChargeHard  float64 `yaml:"stable_charge_hard"`
	StableChargeSoft  float64 `yaml:"stable_charge_soft"`

	// IRChangeLimit is the fractional internal-resistance change above
	// which a step counts as an IR measurement candidate.
	IRChangeLimit float64 `yaml:"ir_change_limit"`
}

// DefaultConfig returns the threshold defaults used by the Arbin-era
// step tables.
func DefaultConfig() Config {
	return Config{
		CurrentLimitHard:  1e-13,
		CurrentLimitSoft:  1e-5,
		StableCurrentHard: 2.0,
		StableCurrentSoft: 4.0,
		StableVoltageHard: 2.0,
		StableVoltageSoft: 4.0,
		StableChargeHard:  2.0,
		StableChargeSoft:  5.0,
		IRChangeLimit:     1e-5,
	}
}

// SummaryOptions selects the optional summary derivations.
type SummaryOptions struct {
	// UseInstrumentStatRows selects the instrument's own per-cycle
	// statistics rows instead of the row with the maximum data_point
	// per cycle.
	UseInstrumentStatRows bool `yaml:"use_instrument_stat_rows"`

	FindOCV                bool `yaml:"find_ocv"`
	FindEndVoltage         bool `yaml:"find_end_voltage"`
	FindInternalResistance bool `yaml:"find_internal_resistance"`
	ConvertDate            bool `yaml:"convert_date"`

	// EnsureStepTable builds the step table on demand when an optional
	// derivation needs it and it has not been built yet.
	EnsureStepTable bool `yaml:"ensure_step_table"`

	// CapacityModifier is empty or "reset". Reset rebases the summary
	// capacity columns to per-cycle differences.
	CapacityModifier string `yaml:"capacity_modifier"`
}

// DefaultSummaryOptions returns the options used when the caller does
// not override anything: self-made row selection, all optional
// derivations off, date conversion on.
func DefaultSummaryOptions() SummaryOptions {
	return SummaryOptions{
		ConvertDate:     true,
		EnsureStepTable: true,
	}
}

// Validate rejects option values that would otherwise be silently
// ignored downstream.
func (o SummaryOptions) Validate() error {
	switch o.CapacityModifier {
	case "", "reset":
		return nil
	default:
		return fmt.Errorf("summary options: unknown capacity modifier %q", o.CapacityModifier)
	}
}

// ParseConfig decodes YAML on top of the defaults. Unknown keys are
// an error so threshold typos cannot silently fall back to defaults.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// ParseSummaryOptions decodes YAML on top of the defaults, rejecting
// unknown keys and invalid values.
func ParseSummaryOptions(data []byte) (SummaryOptions, error) {
	opts := DefaultSummaryOptions()
	if err := yaml.UnmarshalStrict(data, &opts); err != nil {
		return SummaryOptions{}, fmt.Errorf("parse summary options: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return SummaryOptions{}, err
	}
	return opts, nil
}
