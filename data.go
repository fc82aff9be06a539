// Package cellpy turns raw battery-cycling records into analysis-ready
// step and summary tables. The engine is pure and synchronous per
// dataset: ingestion and persistence live in the ingest and store
// packages, orchestration in pipeline.
package cellpy

import (
	"fmt"
	"sort"
	"time"
)

// StepType labels the electrochemical regime of one step.
type StepType string

const (
	StepCharge       StepType = "charge"
	StepDischarge    StepType = "discharge"
	StepCVCharge     StepType = "cv_charge"
	StepCVDischarge  StepType = "cv_discharge"
	StepChargeCV     StepType = "charge_cv"
	StepDischargeCV  StepType = "discharge_cv"
	StepOCVRelaxUp   StepType = "ocvrlx_up"
	StepOCVRelaxDown StepType = "ocvrlx_down"
	StepIR           StepType = "ir"
	StepRest         StepType = "rest"
	StepNotKnown     StepType = "not_known"
)

// StepTypes lists every valid step type, in the order used by the
// classifier taxonomy.
var StepTypes = []StepType{
	StepCharge, StepDischarge,
	StepCVCharge, StepCVDischarge,
	StepChargeCV, StepDischargeCV,
	StepOCVRelaxUp, StepOCVRelaxDown,
	StepIR, StepRest, StepNotKnown,
}

// CycleMode states which electrode the cell is cycled against. It
// decides which OCV relaxation direction counts as the first one in
// the summary columns.
type CycleMode string

const (
	ModeAnode   CycleMode = "anode"
	ModeCathode CycleMode = "cathode"
)

// RawRow is one sample of the normalized raw table. Instrument
// adapters are responsible for unit agreement: current in A, capacity
// in Ah, energy in Wh, voltage in V, resistance in Ohm, times in
// seconds.
type RawRow struct {
	DataPoint          int64
	TestTime           float64
	StepTime           float64
	DateTime           time.Time
	CycleIndex         int
	StepIndex          int
	Current            float64
	Voltage            float64
	ChargeCapacity     float64
	DischargeCapacity  float64
	ChargeEnergy       float64
	DischargeEnergy    float64
	InternalResistance float64
}

// SourceFile records where part of a dataset came from. Size and
// modified time support change detection by callers; Rows supports
// merge bookkeeping.
type SourceFile struct {
	Name     string
	Size     int64
	Modified time.Time
	Rows     int
}

// SignalStats holds the per-step statistics of one tracked signal.
// DeltaPct is the zero-guarded percentage change from Start to End;
// Rate is DeltaPct divided by elapsed step time (zero for
// single-sample steps).
type SignalStats struct {
	Avg      float64
	Std      float64
	Max      float64
	Min      float64
	Start    float64
	End      float64
	DeltaPct float64
	Rate     float64
}

// StepRow is one row of the step table, keyed by (cycle, step).
type StepRow struct {
	CycleIndex int
	StepIndex  int

	Current   SignalStats
	Voltage   SignalStats
	Charge    SignalStats
	Discharge SignalStats

	// InternalResistance is the first logged value of the step; the
	// instrument logs at most one IR measurement per step.
	InternalResistance          float64
	InternalResistancePctChange float64

	Type StepType
	Info string
}

// StepTable holds one StepRow per (cycle, step) group of the raw
// table, in raw-table order.
type StepTable []StepRow

// SummaryRow is one row of the cycle summary. The identity fields
// (DateTime, TestTime, DataPoint, CycleIndex) always come first in
// exported column order; derived fields follow in insertion order.
type SummaryRow struct {
	DateTime     time.Time
	DateTimeText string
	TestTime     float64
	DataPoint    int64
	CycleIndex   int

	// End-of-cycle raw values carried over from the selected row.
	Current           float64
	Voltage           float64
	ChargeCapacity    float64 // Ah
	DischargeCapacity float64 // Ah
	ChargeEnergy      float64 // Wh
	DischargeEnergy   float64 // Wh

	ChargeCapacityMAhG    float64
	DischargeCapacityMAhG float64

	CumulativeChargeCapacityMAhG float64

	// CoulombicEfficiencyPct keeps the source convention of dividing
	// the raw (non-gravimetric) capacities.
	CoulombicEfficiencyPct float64

	CoulombicDifferenceMAhG           float64
	CumulativeCoulombicDifferenceMAhG float64

	DischargeCapacityLossMAhG           float64
	ChargeCapacityLossMAhG              float64
	CumulativeDischargeCapacityLossMAhG float64
	CumulativeChargeCapacityLossMAhG    float64

	OCVFirstMinV  float64
	OCVFirstMaxV  float64
	OCVSecondMinV float64
	OCVSecondMaxV float64

	EndVoltageDischargeV float64
	EndVoltageChargeV    float64

	IRDischargeOhm float64
	IRChargeOhm    float64
}

// SummaryTable holds one SummaryRow per cycle, ascending by cycle.
type SummaryTable []SummaryRow

// Dataset owns one normalized raw table together with the cell
// metadata and the derived tables. The zero value is an empty,
// unbuilt dataset.
type Dataset struct {
	Name string

	// Mass is the active-material mass in grams. Required before any
	// gravimetric normalization.
	Mass float64

	// NominalCapacity is in mAh/g; used by callers for C-rate work,
	// carried but not consumed by the engine.
	NominalCapacity float64

	CycleMode CycleMode

	// StartTime is the instrument start datetime; required for
	// merging.
	StartTime time.Time

	Rows []RawRow

	// StatPoints lists the data_point ids of the rows the instrument
	// marked as per-cycle statistics rows, when the adapter could
	// recover them.
	StatPoints []int64

	SourceFiles []SourceFile

	Steps   StepTable
	Summary SummaryTable

	StepTableBuilt bool
	SummaryBuilt   bool
	Merged         bool

	// SummarySelfMade is true when the summary rows were selected by
	// max data_point per cycle rather than instrument stat rows. The
	// distinction changes which offsets apply when merging summaries.
	SummarySelfMade bool
}

// LastDataPoint returns the highest data_point of the raw table, or 0
// for an empty dataset.
func (d *Dataset) LastDataPoint() int64 {
	var last int64
	for i := range d.Rows {
		if d.Rows[i].DataPoint > last {
			last = d.Rows[i].DataPoint
		}
	}
	return last
}

// LastCycle returns the highest cycle_index of the raw table, or 0
// for an empty dataset.
func (d *Dataset) LastCycle() int {
	last := 0
	for i := range d.Rows {
		if d.Rows[i].CycleIndex > last {
			last = d.Rows[i].CycleIndex
		}
	}
	return last
}

// CycleNumbers returns the distinct cycle indices present in the raw
// table, ascending. Gaps are skipped, not filled.
func (d *Dataset) CycleNumbers() []int {
	seen := make(map[int]struct{})
	out := make([]int, 0, 16)
	for i := range d.Rows {
		c := d.Rows[i].CycleIndex
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Ints(out)
	return out
}

// CycleRows returns the raw rows of one cycle, in raw-table order.
// Asking for a cycle the raw table does not contain is an error, not
// an empty result.
func (d *Dataset) CycleRows(cycle int) ([]RawRow, error) {
	var out []RawRow
	for i := range d.Rows {
		if d.Rows[i].CycleIndex == cycle {
			out = append(out, d.Rows[i])
		}
	}
	if out == nil {
		return nil, fmt.Errorf("dataset %s: cycle %d: %w", d.Name, cycle, ErrNoSuchCycle)
	}
	return out, nil
}

// Clone returns a deep copy of the dataset. Merge uses it so neither
// input is mutated.
func (d *Dataset) Clone() *Dataset {
	out := *d
	out.Rows = append([]RawRow(nil), d.Rows...)
	out.StatPoints = append([]int64(nil), d.StatPoints...)
	out.SourceFiles = append([]SourceFile(nil), d.SourceFiles...)
	out.Steps = append(StepTable(nil), d.Steps...)
	out.Summary = append(SummaryTable(nil), d.Summary...)
	return &out
}
