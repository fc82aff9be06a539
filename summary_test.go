package cellpy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lossDataset has one row per cycle with gravimetric discharge
// capacities of 100, 95 and 90 mAh/g at 1 g of active mass.
func lossDataset() *Dataset {
	d := &Dataset{Name: "cell01", Mass: 1.0, StartTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	discharge := []float64{0.100, 0.095, 0.090}
	charge := []float64{0.099, 0.094, 0.089}
	for i := range discharge {
		d.Rows = append(d.Rows, RawRow{
			DataPoint:         int64(i + 1),
			TestTime:          float64(i+1) * 3600,
			DateTime:          d.StartTime.Add(time.Duration(i+1) * time.Hour),
			CycleIndex:        i + 1,
			StepIndex:         1,
			Voltage:           3.0,
			ChargeCapacity:    charge[i],
			DischargeCapacity: discharge[i],
		})
	}
	return d
}

func TestBuildSummaryLosses(t *testing.T) {
	d := lossDataset()
	require.NoError(t, d.BuildSummary(DefaultConfig(), DefaultSummaryOptions()))
	require.True(t, d.SummaryBuilt)
	require.Len(t, d.Summary, 3)

	wantDischarge := []float64{100, 95, 90}
	wantLoss := []float64{0, 5, 5}
	wantCumLoss := []float64{0, 5, 10}
	for j, row := range d.Summary {
		assert.InDelta(t, wantDischarge[j], row.DischargeCapacityMAhG, 1e-9)
		assert.InDelta(t, wantLoss[j], row.DischargeCapacityLossMAhG, 1e-9)
		assert.InDelta(t, wantCumLoss[j], row.CumulativeDischargeCapacityLossMAhG, 1e-9)
	}

	// Efficiency divides the raw Ah columns.
	assert.InDelta(t, 100.0*0.099/0.100, d.Summary[0].CoulombicEfficiencyPct, 1e-9)

	// Cumulative charge is a running sum of the gravimetric column.
	assert.InDelta(t, 99.0, d.Summary[0].CumulativeChargeCapacityMAhG, 1e-9)
	assert.InDelta(t, 99.0+94.0, d.Summary[1].CumulativeChargeCapacityMAhG, 1e-9)
	assert.InDelta(t, 99.0+94.0+89.0, d.Summary[2].CumulativeChargeCapacityMAhG, 1e-9)
}

func TestBuildSummaryIdempotent(t *testing.T) {
	d := lossDataset()
	require.NoError(t, d.BuildSummary(DefaultConfig(), DefaultSummaryOptions()))
	first := d.Summary
	require.NoError(t, d.BuildSummary(DefaultConfig(), DefaultSummaryOptions()))
	assert.Equal(t, first, d.Summary)
}

func TestBuildSummaryMissingMass(t *testing.T) {
	d := lossDataset()
	d.Mass = 0
	require.ErrorIs(t, d.BuildSummary(DefaultConfig(), DefaultSummaryOptions()), ErrMissingMass)
}

func TestBuildSummaryEmptyDataset(t *testing.T) {
	d := &Dataset{Name: "empty", Mass: 1.0}
	require.NoError(t, d.BuildSummary(DefaultConfig(), DefaultSummaryOptions()))
	assert.True(t, d.SummaryBuilt)
	assert.True(t, d.SummarySelfMade)
	assert.Empty(t, d.Summary)
}

func TestBuildSummaryStatRows(t *testing.T) {
	d := lossDataset()
	// Extra in-cycle rows that must not be selected.
	d.Rows = append([]RawRow{{
		DataPoint: 0, CycleIndex: 1, StepIndex: 1, DischargeCapacity: 0.05,
	}}, d.Rows...)
	d.StatPoints = []int64{1, 2, 3}

	opts := DefaultSummaryOptions()
	opts.UseInstrumentStatRows = true
	require.NoError(t, d.BuildSummary(DefaultConfig(), opts))
	require.False(t, d.SummarySelfMade)
	require.Len(t, d.Summary, 3)
	assert.Equal(t, int64(1), d.Summary[0].DataPoint)
	assert.InDelta(t, 100.0, d.Summary[0].DischargeCapacityMAhG, 1e-9)
}

func TestBuildSummaryStatRowsMissing(t *testing.T) {
	d := lossDataset()
	opts := DefaultSummaryOptions()
	opts.UseInstrumentStatRows = true
	require.ErrorIs(t, d.BuildSummary(DefaultConfig(), opts), ErrNoStatPoints)
}

func TestBuildSummaryResetModifier(t *testing.T) {
	d := lossDataset()
	// Make the raw capacities cumulative across cycles.
	d.Rows[1].DischargeCapacity += d.Rows[0].DischargeCapacity
	d.Rows[2].DischargeCapacity += d.Rows[1].DischargeCapacity

	opts := DefaultSummaryOptions()
	opts.CapacityModifier = "reset"
	require.NoError(t, d.BuildSummary(DefaultConfig(), opts))
	assert.InDelta(t, 100.0, d.Summary[0].DischargeCapacityMAhG, 1e-9)
	assert.InDelta(t, 95.0, d.Summary[1].DischargeCapacityMAhG, 1e-9)
	assert.InDelta(t, 90.0, d.Summary[2].DischargeCapacityMAhG, 1e-9)
}

func TestBuildSummaryRejectsUnknownModifier(t *testing.T) {
	d := lossDataset()
	opts := DefaultSummaryOptions()
	opts.CapacityModifier = "truncate"
	require.Error(t, d.BuildSummary(DefaultConfig(), opts))
}

func TestBuildSummaryConvertDate(t *testing.T) {
	d := lossDataset()
	require.NoError(t, d.BuildSummary(DefaultConfig(), DefaultSummaryOptions()))
	assert.Equal(t, "2024-01-01 01:00:00", d.Summary[0].DateTimeText)

	opts := DefaultSummaryOptions()
	opts.ConvertDate = false
	require.NoError(t, d.BuildSummary(DefaultConfig(), opts))
	assert.Empty(t, d.Summary[0].DateTimeText)
}

// fullCycleDataset has a discharge step, an OCV relaxation and an IR
// row for a single cycle so the optional summary columns have
// something to find.
func fullCycleDataset() *Dataset {
	d := &Dataset{Name: "cell02", Mass: 1.0, StartTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}

	discharge := stepRows(1, 1, 1, 5, func(i int, r *RawRow) {
		r.Current = -1.0
		r.Voltage = 3.8 - 0.01*float64(i)
		r.DischargeCapacity = 0.025 * float64(i)
		r.InternalResistance = 0.021
	})
	rest := stepRows(1, 2, 6, 4, func(i int, r *RawRow) {
		r.Voltage = 3.40 + 0.05*float64(i)
		r.DischargeCapacity = 0.1
	})
	charge := stepRows(1, 3, 10, 5, func(i int, r *RawRow) {
		r.Current = 1.0
		r.Voltage = 3.8 + 0.01*float64(i)
		r.ChargeCapacity = 0.025 * float64(i)
		r.DischargeCapacity = 0.1
		r.InternalResistance = 0.019
	})

	d.Rows = append(d.Rows, discharge...)
	d.Rows = append(d.Rows, rest...)
	d.Rows = append(d.Rows, charge...)
	return d
}

func TestBuildSummaryOptionalColumns(t *testing.T) {
	d := fullCycleDataset()

	opts := DefaultSummaryOptions()
	opts.FindOCV = true
	opts.FindEndVoltage = true
	opts.FindInternalResistance = true
	require.NoError(t, d.BuildSummary(DefaultConfig(), opts))

	// EnsureStepTable built the step table on demand.
	require.True(t, d.StepTableBuilt)
	require.Len(t, d.Summary, 1)
	row := d.Summary[0]

	// Anode convention: the up relaxation is the first OCV window.
	assert.InDelta(t, 3.40, row.OCVFirstMinV, 1e-9)
	assert.InDelta(t, 3.55, row.OCVFirstMaxV, 1e-9)
	assert.Zero(t, row.OCVSecondMinV)
	assert.Zero(t, row.OCVSecondMaxV)

	assert.InDelta(t, 3.76, row.EndVoltageDischargeV, 1e-9)
	assert.InDelta(t, 3.84, row.EndVoltageChargeV, 1e-9)

	assert.InDelta(t, 0.021, row.IRDischargeOhm, 1e-9)
	assert.InDelta(t, 0.019, row.IRChargeOhm, 1e-9)
}

func TestBuildSummaryStepTableRequired(t *testing.T) {
	d := fullCycleDataset()
	opts := DefaultSummaryOptions()
	opts.FindOCV = true
	opts.EnsureStepTable = false
	require.ErrorIs(t, d.BuildSummary(DefaultConfig(), opts), ErrStepTableNotBuilt)
}

func TestBuildSummaryCathodeOCVOrder(t *testing.T) {
	d := fullCycleDataset()
	d.CycleMode = ModeCathode

	opts := DefaultSummaryOptions()
	opts.FindOCV = true
	require.NoError(t, d.BuildSummary(DefaultConfig(), opts))

	row := d.Summary[0]
	assert.Zero(t, row.OCVFirstMinV)
	assert.InDelta(t, 3.40, row.OCVSecondMinV, 1e-9)
	assert.InDelta(t, 3.55, row.OCVSecondMaxV, 1e-9)
}
