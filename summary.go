package cellpy

import (
	"fmt"
)

// DateTimeLayout is the format of the converted date column. Excel
// cannot cope with sub-second precision, so none is emitted.
const DateTimeLayout = "2006-01-02 15:04:05"

// BuildSummary derives the per-cycle summary from the raw table. One
// representative row is selected per cycle, gravimetric capacities
// and their cumulative columns are always derived, and the optional
// OCV, end-voltage and internal-resistance columns are filled when
// requested. A dataset with zero cycles yields an empty, built
// summary.
func (d *Dataset) BuildSummary(cfg Config, opts SummaryOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	if d.Mass <= 0 {
		return fmt.Errorf("build summary for %q: %w", d.Name, ErrMissingMass)
	}

	if len(d.Rows) == 0 {
		d.Summary = SummaryTable{}
		d.SummaryBuilt = true
		d.SummarySelfMade = !opts.UseInstrumentStatRows
		return nil
	}

	selected, selfMade, err := d.selectSummaryRows(opts)
	if err != nil {
		return fmt.Errorf("build summary for %q: %w", d.Name, err)
	}

	needSteps := opts.FindOCV || opts.FindEndVoltage || opts.FindInternalResistance
	if needSteps && !d.StepTableBuilt {
		if !opts.EnsureStepTable {
			return fmt.Errorf("build summary for %q: %w", d.Name, ErrStepTableNotBuilt)
		}
		if err := d.BuildStepTable(cfg); err != nil {
			return err
		}
	}

	table := make(SummaryTable, 0, len(selected))
	for _, raw := range selected {
		row := SummaryRow{
			DateTime:          raw.DateTime,
			TestTime:          raw.TestTime,
			DataPoint:         raw.DataPoint,
			CycleIndex:        raw.CycleIndex,
			Current:           raw.Current,
			Voltage:           raw.Voltage,
			ChargeCapacity:    raw.ChargeCapacity,
			DischargeCapacity: raw.DischargeCapacity,
			ChargeEnergy:      raw.ChargeEnergy,
			DischargeEnergy:   raw.DischargeEnergy,
		}
		if opts.ConvertDate {
			row.DateTimeText = raw.DateTime.Format(DateTimeLayout)
		}
		table = append(table, row)
	}

	if opts.CapacityModifier == "reset" {
		resetCapacities(table)
	}

	massMg := d.Mass * 1000.0
	var cumCharge, cumDiff, cumDischargeLoss, cumChargeLoss float64
	for j := range table {
		row := &table[j]
		row.ChargeCapacityMAhG = ToMAhG(row.ChargeCapacity, massMg)
		row.DischargeCapacityMAhG = ToMAhG(row.DischargeCapacity, massMg)

		cumCharge += row.ChargeCapacityMAhG
		row.CumulativeChargeCapacityMAhG = cumCharge

		// Source convention: efficiency divides the raw Ah capacities,
		// not the gravimetric ones. Preserved as-is.
		row.CoulombicEfficiencyPct = 100.0 * row.ChargeCapacity / row.DischargeCapacity

		row.CoulombicDifferenceMAhG = row.ChargeCapacityMAhG - row.DischargeCapacityMAhG
		cumDiff += row.CoulombicDifferenceMAhG
		row.CumulativeCoulombicDifferenceMAhG = cumDiff

		if j > 0 {
			row.DischargeCapacityLossMAhG = table[j-1].DischargeCapacityMAhG - row.DischargeCapacityMAhG
			row.ChargeCapacityLossMAhG = table[j-1].ChargeCapacityMAhG - row.ChargeCapacityMAhG
		}
		cumDischargeLoss += row.DischargeCapacityLossMAhG
		row.CumulativeDischargeCapacityLossMAhG = cumDischargeLoss
		cumChargeLoss += row.ChargeCapacityLossMAhG
		row.CumulativeChargeCapacityLossMAhG = cumChargeLoss
	}

	if opts.FindOCV {
		if err := d.fillOCVBounds(table); err != nil {
			return fmt.Errorf("build summary for %q: %w", d.Name, err)
		}
	}
	if opts.FindEndVoltage {
		if err := d.fillEndVoltages(table); err != nil {
			return fmt.Errorf("build summary for %q: %w", d.Name, err)
		}
	}
	if opts.FindInternalResistance {
		if err := d.fillInternalResistance(table); err != nil {
			return fmt.Errorf("build summary for %q: %w", d.Name, err)
		}
	}

	d.Summary = table
	d.SummaryBuilt = true
	d.SummarySelfMade = selfMade
	return nil
}

// selectSummaryRows picks one representative raw row per cycle:
// either the instrument's stat rows, or the row with the maximum
// data_point of each cycle. Rows come back ascending by cycle.
func (d *Dataset) selectSummaryRows(opts SummaryOptions) ([]RawRow, bool, error) {
	if opts.UseInstrumentStatRows {
		if len(d.StatPoints) == 0 {
			return nil, false, ErrNoStatPoints
		}
		marked := make(map[int64]struct{}, len(d.StatPoints))
		for _, p := range d.StatPoints {
			marked[p] = struct{}{}
		}
		out := make([]RawRow, 0, len(d.StatPoints))
		for i := range d.Rows {
			if _, ok := marked[d.Rows[i].DataPoint]; ok {
				out = append(out, d.Rows[i])
			}
		}
		return out, false, nil
	}

	last := make(map[int]RawRow)
	for i := range d.Rows {
		r := d.Rows[i]
		if prev, ok := last[r.CycleIndex]; !ok || r.DataPoint > prev.DataPoint {
			last[r.CycleIndex] = r
		}
	}
	cycles := d.CycleNumbers()
	out := make([]RawRow, 0, len(cycles))
	for _, c := range cycles {
		out = append(out, last[c])
	}
	return out, true, nil
}

// resetCapacities rebases the summary capacity columns to per-cycle
// differences, matching the "reset" capacity modifier.
func resetCapacities(table SummaryTable) {
	var prevCharge, prevDischarge float64
	for j := range table {
		charge, discharge := table[j].ChargeCapacity, table[j].DischargeCapacity
		table[j].ChargeCapacity = charge - prevCharge
		table[j].DischargeCapacity = discharge - prevDischarge
		prevCharge, prevDischarge = charge, discharge
	}
}

// fillOCVBounds records the min and max voltage seen during each
// cycle's OCV relaxation steps. Which direction counts as first
// depends on the cycle mode: up first for anode cells, down first
// otherwise.
func (d *Dataset) fillOCVBounds(table SummaryTable) error {
	first, second := StepOCVRelaxUp, StepOCVRelaxDown
	if d.CycleMode != "" && d.CycleMode != ModeAnode {
		first, second = second, first
	}

	firstSteps, err := d.StepNumbers([]StepType{first}, nil)
	if err != nil {
		return err
	}
	secondSteps, err := d.StepNumbers([]StepType{second}, nil)
	if err != nil {
		return err
	}

	for j := range table {
		cycle := table[j].CycleIndex
		if min, max, ok := d.voltageBounds(cycle, firstSteps[cycle]); ok {
			table[j].OCVFirstMinV = min
			table[j].OCVFirstMaxV = max
		}
		if min, max, ok := d.voltageBounds(cycle, secondSteps[cycle]); ok {
			table[j].OCVSecondMinV = min
			table[j].OCVSecondMaxV = max
		}
	}
	return nil
}

// voltageBounds scans the raw rows of the given steps within a cycle.
// When more than one step matches, the last one wins.
func (d *Dataset) voltageBounds(cycle int, steps []int) (min, max float64, ok bool) {
	for _, step := range steps {
		voltages := d.stepValues(cycle, step, func(r *RawRow) float64 { return r.Voltage })
		if len(voltages) == 0 {
			continue
		}
		min, max = minMaxOf(voltages)
		ok = true
	}
	return min, max, ok
}

// fillEndVoltages takes the last logged voltage of the last plain
// discharge and charge step of each cycle; cycles without such a step
// keep 0.
func (d *Dataset) fillEndVoltages(table SummaryTable) error {
	dischargeSteps, err := d.StepNumbers([]StepType{StepDischarge}, nil)
	if err != nil {
		return err
	}
	chargeSteps, err := d.StepNumbers([]StepType{StepCharge}, nil)
	if err != nil {
		return err
	}

	for j := range table {
		cycle := table[j].CycleIndex
		if steps := dischargeSteps[cycle]; len(steps) > 0 {
			v := d.stepValues(cycle, steps[len(steps)-1], func(r *RawRow) float64 { return r.Voltage })
			if len(v) > 0 {
				table[j].EndVoltageDischargeV = v[len(v)-1]
			}
		}
		if steps := chargeSteps[cycle]; len(steps) > 0 {
			v := d.stepValues(cycle, steps[len(steps)-1], func(r *RawRow) float64 { return r.Voltage })
			if len(v) > 0 {
				table[j].EndVoltageChargeV = v[len(v)-1]
			}
		}
	}
	return nil
}

// fillInternalResistance takes the first logged IR value of the first
// discharge and charge step of each cycle; cycles without such a step
// keep 0. The instrument does not reliably timestamp which cycle an
// IR measurement belongs to, so attribution near cycle boundaries is
// approximate.
func (d *Dataset) fillInternalResistance(table SummaryTable) error {
	dischargeSteps, err := d.StepNumbers([]StepType{StepDischarge}, nil)
	if err != nil {
		return err
	}
	chargeSteps, err := d.StepNumbers([]StepType{StepCharge}, nil)
	if err != nil {
		return err
	}

	for j := range table {
		cycle := table[j].CycleIndex
		if steps := dischargeSteps[cycle]; len(steps) > 0 {
			ir := d.stepValues(cycle, steps[0], func(r *RawRow) float64 { return r.InternalResistance })
			if len(ir) > 0 {
				table[j].IRDischargeOhm = ir[0]
			}
		}
		if steps := chargeSteps[cycle]; len(steps) > 0 {
			ir := d.stepValues(cycle, steps[0], func(r *RawRow) float64 { return r.InternalResistance })
			if len(ir) > 0 {
				table[j].IRChargeOhm = ir[0]
			}
		}
	}
	return nil
}

// stepValues extracts one signal from the raw rows of (cycle, step),
// in row order.
func (d *Dataset) stepValues(cycle, step int, get func(*RawRow) float64) []float64 {
	var out []float64
	for i := range d.Rows {
		r := &d.Rows[i]
		if r.CycleIndex == cycle && r.StepIndex == step {
			out = append(out, get(r))
		}
	}
	return out
}
