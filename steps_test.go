package cellpy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stepRows builds n raw rows for one (cycle, step) window, letting the
// shape function fill in the signals.
func stepRows(cycle, step int, startDP int64, n int, shape func(i int, r *RawRow)) []RawRow {
	rows := make([]RawRow, n)
	for i := range rows {
		rows[i] = RawRow{
			DataPoint:  startDP + int64(i),
			TestTime:   float64(startDP+int64(i)) * 10,
			StepTime:   float64(i) * 10,
			DateTime:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(startDP+int64(i)) * 10 * time.Second),
			CycleIndex: cycle,
			StepIndex:  step,
		}
		shape(i, &rows[i])
	}
	return rows
}

func dischargeRows(cycle, step int, startDP int64) []RawRow {
	return stepRows(cycle, step, startDP, 5, func(i int, r *RawRow) {
		r.Current = -1.0
		r.Voltage = 3.8 - 0.01*float64(i)
		r.DischargeCapacity = 0.125 * float64(i)
	})
}

func chargeRows(cycle, step int, startDP int64) []RawRow {
	return stepRows(cycle, step, startDP, 5, func(i int, r *RawRow) {
		r.Current = 1.0
		r.Voltage = 3.8 + 0.01*float64(i)
		r.ChargeCapacity = 0.125 * float64(i)
	})
}

func restRows(cycle, step int, startDP int64) []RawRow {
	return stepRows(cycle, step, startDP, 4, func(i int, r *RawRow) {
		r.Voltage = 3.40 + 0.05*float64(i)
	})
}

func TestSegmentStepsCoversEveryPair(t *testing.T) {
	var rows []RawRow
	rows = append(rows, dischargeRows(1, 1, 1)...)
	rows = append(rows, restRows(1, 2, 6)...)
	rows = append(rows, chargeRows(2, 1, 10)...)
	rows = append(rows, dischargeRows(2, 3, 15)...)

	windows := segmentSteps(rows)
	require.Len(t, windows, 4)

	total := 0
	seen := make(map[[2]int]bool)
	for _, w := range windows {
		require.NotEmpty(t, w.rows)
		total += len(w.rows)
		seen[[2]int{w.cycle, w.step}] = true
		for _, r := range w.rows {
			assert.Equal(t, w.cycle, r.CycleIndex)
			assert.Equal(t, w.step, r.StepIndex)
		}
	}
	assert.Equal(t, len(rows), total)
	assert.True(t, seen[[2]int{1, 1}])
	assert.True(t, seen[[2]int{1, 2}])
	assert.True(t, seen[[2]int{2, 1}])
	assert.True(t, seen[[2]int{2, 3}])
}

func classifyWindow(t *testing.T, rows []RawRow) StepType {
	t.Helper()
	windows := segmentSteps(rows)
	require.Len(t, windows, 1)
	row, err := aggregateStep(windows[0], irPctChange(rows))
	require.NoError(t, err)
	typ, _ := Classify(row, DefaultConfig())
	return typ
}

func TestClassifyDischarge(t *testing.T) {
	// Constant -1 A, discharge capacity climbing from an exact zero
	// baseline, voltage drifting down slowly.
	assert.Equal(t, StepDischarge, classifyWindow(t, dischargeRows(1, 2, 1)))
}

func TestClassifyCharge(t *testing.T) {
	assert.Equal(t, StepCharge, classifyWindow(t, chargeRows(1, 4, 1)))
}

func TestClassifyOCVRelaxation(t *testing.T) {
	// No measurable current, voltage recovering upward.
	assert.Equal(t, StepOCVRelaxUp, classifyWindow(t, restRows(1, 3, 1)))

	down := stepRows(1, 5, 1, 4, func(i int, r *RawRow) {
		r.Voltage = 3.55 - 0.05*float64(i)
	})
	assert.Equal(t, StepOCVRelaxDown, classifyWindow(t, down))
}

func TestClassifyConstantVoltage(t *testing.T) {
	// Voltage held, current tapering, capacity near flat.
	cvCharge := stepRows(1, 6, 1, 5, func(i int, r *RawRow) {
		r.Voltage = 4.2
		r.Current = 1.0 - 0.2375*float64(i)
		r.ChargeCapacity = 1.0 + 0.0002*float64(i)
	})
	assert.Equal(t, StepCVCharge, classifyWindow(t, cvCharge))

	cvDischarge := stepRows(1, 7, 1, 5, func(i int, r *RawRow) {
		r.Voltage = 2.5
		r.Current = -1.0 + 0.2375*float64(i)
		r.DischargeCapacity = 1.0 + 0.0002*float64(i)
	})
	assert.Equal(t, StepCVDischarge, classifyWindow(t, cvDischarge))
}

func TestClassifyIR(t *testing.T) {
	ir := stepRows(1, 8, 1, 1, func(i int, r *RawRow) {
		r.Current = 0.0005
		r.Voltage = 3.7
		r.InternalResistance = 0.02
	})
	assert.Equal(t, StepIR, classifyWindow(t, ir))
}

func TestClassifyNotKnown(t *testing.T) {
	// Current above the hard limit but with no capacity movement and
	// a voltage swing too large for the cv rules.
	odd := stepRows(1, 9, 1, 4, func(i int, r *RawRow) {
		r.Current = 0.001
		r.Voltage = 3.0 + 0.1*float64(i)
	})
	assert.Equal(t, StepNotKnown, classifyWindow(t, odd))
}

func TestClassifyDeterministic(t *testing.T) {
	rows := dischargeRows(1, 2, 1)
	windows := segmentSteps(rows)
	row, err := aggregateStep(windows[0], irPctChange(rows))
	require.NoError(t, err)

	first, _ := Classify(row, DefaultConfig())
	for i := 0; i < 10; i++ {
		again, _ := Classify(row, DefaultConfig())
		assert.Equal(t, first, again)
	}
}

func TestAggregateEmptyStep(t *testing.T) {
	_, err := aggregateStep(stepWindow{cycle: 1, step: 1}, nil)
	require.ErrorIs(t, err, ErrEmptyStep)
}

func TestBuildStepTable(t *testing.T) {
	d := &Dataset{Name: "cell01"}
	d.Rows = append(d.Rows, dischargeRows(1, 1, 1)...)
	d.Rows = append(d.Rows, restRows(1, 2, 6)...)
	d.Rows = append(d.Rows, chargeRows(1, 3, 10)...)

	require.NoError(t, d.BuildStepTable(DefaultConfig()))
	require.True(t, d.StepTableBuilt)
	require.Len(t, d.Steps, 3)

	assert.Equal(t, StepDischarge, d.Steps[0].Type)
	assert.Equal(t, StepOCVRelaxUp, d.Steps[1].Type)
	assert.Equal(t, StepCharge, d.Steps[2].Type)
	assert.True(t, d.ValidateStepTable(false))
}

func TestBuildStepTableEmptyDataset(t *testing.T) {
	d := &Dataset{Name: "empty"}
	require.ErrorIs(t, d.BuildStepTable(DefaultConfig()), ErrNoRows)
}

func TestExpandStepType(t *testing.T) {
	got, err := ExpandStepType("ocv", false)
	require.NoError(t, err)
	assert.Equal(t, []StepType{StepOCVRelaxUp, StepOCVRelaxDown}, got)

	got, err = ExpandStepType("charge_discharge", true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []StepType{
		StepCharge, StepDischarge,
		StepChargeCV, StepCVCharge,
		StepDischargeCV, StepCVDischarge,
	}, got)

	got, err = ExpandStepType("rest", false)
	require.NoError(t, err)
	assert.Equal(t, []StepType{StepRest}, got)

	_, err = ExpandStepType("bogus", false)
	require.ErrorIs(t, err, ErrUnknownStepType)
}

func TestStepNumbers(t *testing.T) {
	d := &Dataset{Name: "cell01"}
	d.Rows = append(d.Rows, dischargeRows(1, 1, 1)...)
	d.Rows = append(d.Rows, chargeRows(1, 3, 6)...)
	d.Rows = append(d.Rows, dischargeRows(2, 1, 11)...)
	require.NoError(t, d.BuildStepTable(DefaultConfig()))

	got, err := d.StepNumbers([]StepType{StepDischarge}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[int][]int{1: {1}, 2: {1}}, got)

	// A cycle with no matching step still maps to an empty slice.
	got, err = d.StepNumbers([]StepType{StepCharge}, []int{1, 2})
	require.NoError(t, err)
	require.NotNil(t, got[2])
	assert.Empty(t, got[2])
	assert.Equal(t, []int{3}, got[1])
}

func TestStepNumbersRequiresStepTable(t *testing.T) {
	d := &Dataset{Name: "cell01", Rows: dischargeRows(1, 1, 1)}
	_, err := d.StepNumbers([]StepType{StepDischarge}, nil)
	require.ErrorIs(t, err, ErrStepTableNotBuilt)
}

func TestCycleRows(t *testing.T) {
	d := &Dataset{Name: "cell01"}
	d.Rows = append(d.Rows, dischargeRows(1, 1, 1)...)
	d.Rows = append(d.Rows, chargeRows(2, 1, 6)...)

	rows, err := d.CycleRows(2)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	for _, r := range rows {
		assert.Equal(t, 2, r.CycleIndex)
	}

	_, err = d.CycleRows(7)
	require.ErrorIs(t, err, ErrNoSuchCycle)
}
