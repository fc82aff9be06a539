package cellpy

import (
	"fmt"
	"math"
)

// stepWindow is one contiguous (cycle, step) group of raw rows.
type stepWindow struct {
	cycle int
	step  int
	rows  []RawRow
}

// segmentSteps partitions the raw table into contiguous (cycle, step)
// windows, preserving row order. The raw-table contract guarantees a
// (cycle, step) pair never reappears later in the sequence.
func segmentSteps(rows []RawRow) []stepWindow {
	windows := make([]stepWindow, 0, 64)
	start := 0
	for i := 1; i <= len(rows); i++ {
		if i == len(rows) ||
			rows[i].CycleIndex != rows[start].CycleIndex ||
			rows[i].StepIndex != rows[start].StepIndex {
			windows = append(windows, stepWindow{
				cycle: rows[start].CycleIndex,
				step:  rows[start].StepIndex,
				rows:  rows[start:i],
			})
			start = i
		}
	}
	return windows
}

// irPctChange returns the fractional row-over-row change of the
// internal-resistance signal, aligned with rows. The first row and
// rows following a zero baseline get 0.
func irPctChange(rows []RawRow) []float64 {
	out := make([]float64, len(rows))
	for i := 1; i < len(rows); i++ {
		prev := rows[i-1].InternalResistance
		if prev == 0 {
			continue
		}
		out[i] = (rows[i].InternalResistance - prev) / prev
	}
	return out
}

// aggregateStep computes the per-signal statistics of one step
// window. It is a pure function of its input; an empty window is a
// programming error surfaced as ErrEmptyStep.
func aggregateStep(w stepWindow, irChange []float64) (StepRow, error) {
	if len(w.rows) == 0 {
		return StepRow{}, fmt.Errorf("aggregate cycle %d step %d: %w", w.cycle, w.step, ErrEmptyStep)
	}

	elapsed := w.rows[len(w.rows)-1].StepTime - w.rows[0].StepTime

	current := make([]float64, len(w.rows))
	voltage := make([]float64, len(w.rows))
	charge := make([]float64, len(w.rows))
	discharge := make([]float64, len(w.rows))
	for i := range w.rows {
		current[i] = w.rows[i].Current
		voltage[i] = w.rows[i].Voltage
		charge[i] = w.rows[i].ChargeCapacity
		discharge[i] = w.rows[i].DischargeCapacity
	}

	row := StepRow{
		CycleIndex: w.cycle,
		StepIndex:  w.step,
		Current:    signalStats(current, elapsed),
		Voltage:    signalStats(voltage, elapsed),
		Charge:     signalStats(charge, elapsed),
		Discharge:  signalStats(discharge, elapsed),

		// The instrument logs at most one IR value per step, so the
		// first row carries it.
		InternalResistance:          w.rows[0].InternalResistance,
		InternalResistancePctChange: irChange[0],
	}
	return row, nil
}

func signalStats(values []float64, elapsed float64) SignalStats {
	avg := meanOf(values)
	min, max := minMaxOf(values)
	start, end := values[0], values[len(values)-1]
	delta := PctChange(start, end, true)

	// A single-sample step has zero elapsed time; its rate is 0 rather
	// than a division by zero.
	rate := 0.0
	if elapsed != 0 {
		rate = delta / elapsed
	}

	return SignalStats{
		Avg:      avg,
		Std:      stddevOf(values, avg),
		Max:      max,
		Min:      min,
		Start:    start,
		End:      end,
		DeltaPct: delta,
		Rate:     rate,
	}
}

// Classify assigns a step type to an aggregated step row. The rules
// are ordered and the first match wins; a step no rule matches is
// not_known, never an error.
func Classify(row StepRow, cfg Config) (StepType, string) {
	noCurrentHard := math.Abs(row.Current.Max)+math.Abs(row.Current.Min) < cfg.CurrentLimitHard

	voltageUp := row.Voltage.DeltaPct > cfg.StableVoltageHard
	voltageDown := row.Voltage.DeltaPct < -cfg.StableVoltageHard
	voltageStable := math.Abs(row.Voltage.DeltaPct) < cfg.StableVoltageHard

	currentDown := row.Current.DeltaPct < -cfg.StableCurrentSoft
	currentNegative := row.Current.Avg < -cfg.CurrentLimitHard
	currentPositive := row.Current.Avg > cfg.CurrentLimitHard

	// "Is the capacity changing at all" uses the max-to-min change so
	// a regime starting from an exact zero baseline still registers.
	chargeChanged := math.Abs(PctChange(row.Charge.Max, row.Charge.Min, false)) > cfg.StableChargeHard
	dischargeChanged := math.Abs(PctChange(row.Discharge.Max, row.Discharge.Min, false)) > cfg.StableChargeHard

	noChange := row.Voltage.DeltaPct == 0 && row.Current.DeltaPct == 0 &&
		row.Charge.DeltaPct == 0 && row.Discharge.DeltaPct == 0

	switch {
	case noCurrentHard && voltageUp:
		return StepOCVRelaxUp, ""
	case noCurrentHard && voltageDown:
		return StepOCVRelaxDown, ""
	case dischargeChanged && currentNegative:
		return StepDischarge, ""
	case chargeChanged && currentPositive:
		return StepCharge, ""
	case voltageStable && currentNegative && currentDown:
		return StepCVDischarge, ""
	case voltageStable && currentPositive && currentDown:
		return StepCVCharge, ""
	case noChange:
		// Assumes a single logged IR-measurement row per step. An IR
		// window spanning more than one row is an instrument quirk the
		// taxonomy cannot distinguish from a dead rest.
		return StepIR, ""
	default:
		return StepNotKnown, ""
	}
}

// BuildStepTable segments the raw table into (cycle, step) windows,
// aggregates each window and classifies it. The resulting table has
// exactly one row per (cycle, step) pair of the raw table.
//
// A dataset with no raw rows is ErrNoRows. This differs from
// BuildSummary, which marks an empty dataset built with an empty
// table: a summary over zero cycles is a valid answer, while a step
// table only exists as a derivation of actual raw windows.
func (d *Dataset) BuildStepTable(cfg Config) error {
	if len(d.Rows) == 0 {
		return fmt.Errorf("build step table for %q: %w", d.Name, ErrNoRows)
	}

	irChange := irPctChange(d.Rows)
	windows := segmentSteps(d.Rows)

	table := make(StepTable, 0, len(windows))
	offset := 0
	for _, w := range windows {
		row, err := aggregateStep(w, irChange[offset:offset+len(w.rows)])
		if err != nil {
			return fmt.Errorf("build step table for %q: %w", d.Name, err)
		}
		row.Type, row.Info = Classify(row, cfg)
		table = append(table, row)
		offset += len(w.rows)
	}

	d.Steps = table
	d.StepTableBuilt = true
	return nil
}

// ExpandStepType resolves a step-type query into concrete taxonomy
// variants. The helper aliases "ocv" and "charge_discharge" expand to
// their directions; allCTypes additionally pulls in the cv variants
// of charge and discharge.
func ExpandStepType(name string, allCTypes bool) ([]StepType, error) {
	var types []StepType
	switch name {
	case "ocv":
		types = []StepType{StepOCVRelaxUp, StepOCVRelaxDown}
	case "charge_discharge":
		types = []StepType{StepCharge, StepDischarge}
	default:
		found := false
		for _, t := range StepTypes {
			if string(t) == name {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %q", ErrUnknownStepType, name)
		}
		types = []StepType{StepType(name)}
	}

	if allCTypes {
		for _, t := range types {
			switch t {
			case StepCharge:
				types = append(types, StepChargeCV, StepCVCharge)
			case StepDischarge:
				types = append(types, StepDischargeCV, StepCVDischarge)
			}
		}
	}
	return types, nil
}

// StepNumbers returns, per cycle, the step indices whose classified
// type is one of types, in step-table order. Cycles with no matching
// step map to an empty slice, a typed empty result rather than a
// sentinel value.
func (d *Dataset) StepNumbers(types []StepType, cycles []int) (map[int][]int, error) {
	if !d.StepTableBuilt {
		return nil, fmt.Errorf("step numbers for %q: %w", d.Name, ErrStepTableNotBuilt)
	}
	if cycles == nil {
		cycles = d.CycleNumbers()
	}

	want := make(map[StepType]struct{}, len(types))
	for _, t := range types {
		want[t] = struct{}{}
	}

	out := make(map[int][]int, len(cycles))
	for _, c := range cycles {
		out[c] = []int{}
	}
	for i := range d.Steps {
		row := &d.Steps[i]
		steps, ok := out[row.CycleIndex]
		if !ok {
			continue
		}
		if _, ok := want[row.Type]; ok {
			out[row.CycleIndex] = append(steps, row.StepIndex)
		}
	}
	return out, nil
}

// ValidateStepTable checks the step table against the raw table. In
// simple mode only the cycle counts are compared; otherwise every
// cycle's step count is checked as well.
func (d *Dataset) ValidateStepTable(simple bool) bool {
	if !d.StepTableBuilt {
		return false
	}

	rawSteps := make(map[int]map[int]struct{})
	for i := range d.Rows {
		r := &d.Rows[i]
		if rawSteps[r.CycleIndex] == nil {
			rawSteps[r.CycleIndex] = make(map[int]struct{})
		}
		rawSteps[r.CycleIndex][r.StepIndex] = struct{}{}
	}

	tableSteps := make(map[int]map[int]struct{})
	for i := range d.Steps {
		s := &d.Steps[i]
		if tableSteps[s.CycleIndex] == nil {
			tableSteps[s.CycleIndex] = make(map[int]struct{})
		}
		tableSteps[s.CycleIndex][s.StepIndex] = struct{}{}
	}

	if len(rawSteps) != len(tableSteps) {
		return false
	}
	if simple {
		return true
	}
	for cycle, steps := range rawSteps {
		if len(tableSteps[cycle]) != len(steps) {
			return false
		}
	}
	return true
}
