package cellpy

import (
	"fmt"
)

// Merge combines two datasets into a new one, re-basing the second
// dataset's data points, cycle indices and test time onto the end of
// the first. Neither input is mutated. The merged dataset keeps a's
// mass; callers must ensure the inputs share one before merging.
func Merge(a, b *Dataset) (*Dataset, error) {
	out := a.Clone()
	if err := out.Append(b); err != nil {
		return nil, err
	}
	return out, nil
}

// MergeAll left-folds Merge over two or more datasets.
func MergeAll(sets ...*Dataset) (*Dataset, error) {
	if len(sets) == 0 {
		return nil, fmt.Errorf("merge: no datasets")
	}
	out := sets[0].Clone()
	for _, next := range sets[1:] {
		if err := out.Append(next); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Append is the explicit in-place merge mode: d is the mutation
// target, b is consumed read-only. Both datasets must carry a start
// datetime; without one no time offset exists and the merge fails.
func (d *Dataset) Append(b *Dataset) error {
	if d.StartTime.IsZero() {
		return fmt.Errorf("merge target %q: %w", d.Name, ErrMissingStartTime)
	}
	if b.StartTime.IsZero() {
		return fmt.Errorf("merge source %q: %w", b.Name, ErrMissingStartTime)
	}

	timeOffset := b.StartTime.Sub(d.StartTime).Seconds()
	lastDataPoint := d.LastDataPoint()
	lastCycle := d.LastCycle()

	for i := range b.Rows {
		row := b.Rows[i]
		row.DataPoint += lastDataPoint
		row.CycleIndex += lastCycle
		row.TestTime += timeOffset
		d.Rows = append(d.Rows, row)
	}

	for _, p := range b.StatPoints {
		d.StatPoints = append(d.StatPoints, p+lastDataPoint)
	}

	// Step tables only merge when both sides have one; otherwise the
	// caller must rebuild after merging.
	if d.StepTableBuilt && b.StepTableBuilt {
		for i := range b.Steps {
			row := b.Steps[i]
			row.CycleIndex += lastCycle
			d.Steps = append(d.Steps, row)
		}
	} else {
		d.Steps = nil
		d.StepTableBuilt = false
	}

	if d.SummaryBuilt && b.SummaryBuilt {
		selfMade := d.SummarySelfMade && b.SummarySelfMade
		for i := range b.Summary {
			row := b.Summary[i]
			if selfMade {
				row.CycleIndex += lastCycle
				row.TestTime += timeOffset
			} else {
				// Instrument-provided summaries track their source rows
				// by data point, so the un-normalized offset applies.
				row.DataPoint += lastDataPoint
			}
			d.Summary = append(d.Summary, row)
		}
		d.SummarySelfMade = selfMade
	} else {
		d.Summary = nil
		d.SummaryBuilt = false
	}

	d.SourceFiles = append(d.SourceFiles, b.SourceFiles...)
	d.Merged = true
	return nil
}
