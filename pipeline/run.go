// Package pipeline orchestrates the conversion of raw tester exports
// into step-table and summary artifacts on disk.
package pipeline

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	cellpy "github.com/mbarzegary/cellpy-JOSS"
	"github.com/mbarzegary/cellpy-JOSS/ingest"
	"github.com/mbarzegary/cellpy-JOSS/store"
)

// Run executes the full conversion pipeline: ingest every input,
// merge when there is more than one, build the step table and the
// summary, and write all artifacts.
func Run(opts Options) (*Result, error) {
	if len(opts.InputPaths) == 0 {
		return nil, fmt.Errorf("at least one input path is required")
	}
	if strings.TrimSpace(opts.OutDir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	format, err := normalizeFormat(opts.Format)
	if err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	if err := prepareOutDir(opts.OutDir, opts.Overwrite); err != nil {
		return nil, err
	}

	d, err := loadInputs(opts, log)
	if err != nil {
		return nil, err
	}

	if err := d.BuildStepTable(opts.Config); err != nil {
		return nil, fmt.Errorf("build step table: %w", err)
	}
	if err := d.BuildSummary(opts.Config, opts.Summary); err != nil {
		return nil, fmt.Errorf("build summary: %w", err)
	}
	log.Info("dataset converted",
		slog.String("name", d.Name),
		slog.Int("cycles", len(d.CycleNumbers())),
		slog.Int("steps", len(d.Steps)))

	result, err := writeArtifacts(d, opts.OutDir, format)
	if err != nil {
		return nil, err
	}

	if opts.CellarPath != "" {
		if err := saveToCellar(opts.CellarPath, d); err != nil {
			return nil, err
		}
		result.CellarPath = opts.CellarPath
		log.Info("dataset saved to cellar",
			slog.String("path", opts.CellarPath),
			slog.String("name", d.Name))
	}

	return result, nil
}

// Export writes the step, summary and manifest artifacts for a
// dataset whose tables are already built, for example one loaded back
// from a cellar.
func Export(d *cellpy.Dataset, outDir, format string, overwrite bool) (*Result, error) {
	if d == nil {
		return nil, fmt.Errorf("nil dataset")
	}
	if !d.StepTableBuilt || !d.SummaryBuilt {
		return nil, fmt.Errorf("dataset %s: step table and summary must be built before export", d.Name)
	}
	if strings.TrimSpace(outDir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	fmtName, err := normalizeFormat(format)
	if err != nil {
		return nil, err
	}
	if err := prepareOutDir(outDir, overwrite); err != nil {
		return nil, err
	}
	return writeArtifacts(d, outDir, fmtName)
}

func normalizeFormat(format string) (string, error) {
	f := strings.ToLower(strings.TrimSpace(format))
	if f == "" {
		f = "csv"
	}
	if f != "parquet" && f != "csv" {
		return "", fmt.Errorf("unsupported format %q (expected parquet|csv)", format)
	}
	return f, nil
}

func writeArtifacts(d *cellpy.Dataset, outDir, format string) (*Result, error) {
	rawPath := filepath.Join(outDir, "raw."+format)
	stepPath := filepath.Join(outDir, "steps."+format)
	summaryPath := filepath.Join(outDir, "summary."+format)
	switch format {
	case "csv":
		if err := writeRawCSV(rawPath, d.Rows); err != nil {
			return nil, fmt.Errorf("write raw csv: %w", err)
		}
		if err := writeStepCSV(stepPath, d.Steps); err != nil {
			return nil, fmt.Errorf("write step csv: %w", err)
		}
		if err := writeSummaryCSV(summaryPath, d.Summary); err != nil {
			return nil, fmt.Errorf("write summary csv: %w", err)
		}
	case "parquet":
		if err := writeRawParquet(rawPath, d.Rows); err != nil {
			return nil, fmt.Errorf("write raw parquet: %w", err)
		}
		if err := writeStepParquet(stepPath, d.Steps); err != nil {
			return nil, fmt.Errorf("write step parquet: %w", err)
		}
		if err := writeSummaryParquet(summaryPath, d.Summary); err != nil {
			return nil, fmt.Errorf("write summary parquet: %w", err)
		}
	}

	manifestPath := filepath.Join(outDir, "manifest.json")
	if err := writeJSON(manifestPath, buildManifest(d)); err != nil {
		return nil, fmt.Errorf("write manifest.json: %w", err)
	}

	return &Result{
		OutputDir:     outDir,
		ManifestPath:  manifestPath,
		RawTablePath:  rawPath,
		StepTablePath: stepPath,
		SummaryPath:   summaryPath,
		Dataset:       d,
	}, nil
}

// rawCSVHeader uses the normalized column names, so a raw export can
// be fed straight back through the csv adapter.
var rawCSVHeader = []string{
	"data_point", "test_time", "step_time", "date_time",
	"cycle_index", "step_index", "current", "voltage",
	"charge_capacity", "discharge_capacity",
	"charge_energy", "discharge_energy", "internal_resistance",
}

func writeRawCSV(path string, rows []cellpy.RawRow) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(rawCSVHeader); err != nil {
		return err
	}
	for i := range rows {
		r := &rows[i]
		dt := ""
		if !r.DateTime.IsZero() {
			dt = r.DateTime.Format(cellpy.DateTimeLayout)
		}
		row := []string{
			strconv.FormatInt(r.DataPoint, 10),
			formatFloat(r.TestTime),
			formatFloat(r.StepTime),
			dt,
			strconv.Itoa(r.CycleIndex),
			strconv.Itoa(r.StepIndex),
			formatFloat(r.Current),
			formatFloat(r.Voltage),
			formatFloat(r.ChargeCapacity),
			formatFloat(r.DischargeCapacity),
			formatFloat(r.ChargeEnergy),
			formatFloat(r.DischargeEnergy),
			formatFloat(r.InternalResistance),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func prepareOutDir(dir string, overwrite bool) error {
	if info, err := os.Stat(dir); err == nil {
		if !info.IsDir() {
			return fmt.Errorf("output path %s is not a directory", dir)
		}
		if !overwrite {
			entries, err := os.ReadDir(dir)
			if err != nil {
				return err
			}
			if len(entries) > 0 {
				return fmt.Errorf("output directory %s is not empty (use overwrite)", dir)
			}
		}
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func loadInputs(opts Options, log *slog.Logger) (*cellpy.Dataset, error) {
	ingestOpts := ingest.Options{
		Mass:            opts.Mass,
		NominalCapacity: opts.NominalCapacity,
		CycleMode:       opts.CycleMode,
		Logger:          log,
	}

	sets := make([]*cellpy.Dataset, 0, len(opts.InputPaths))
	for _, path := range opts.InputPaths {
		d, err := ingest.Read(path, ingestOpts)
		if err != nil {
			return nil, fmt.Errorf("ingest %s: %w", path, err)
		}
		sets = append(sets, d)
	}

	d := sets[0]
	if len(sets) > 1 {
		merged, err := cellpy.MergeAll(sets...)
		if err != nil {
			return nil, fmt.Errorf("merge inputs: %w", err)
		}
		d = merged
		log.Info("inputs merged",
			slog.Int("inputs", len(sets)),
			slog.Int("rows", len(d.Rows)))
	}
	if opts.Name != "" {
		d.Name = opts.Name
	}
	return d, nil
}

func saveToCellar(path string, d *cellpy.Dataset) error {
	cellar, err := store.Open(path)
	if err != nil {
		return fmt.Errorf("open cellar: %w", err)
	}
	defer cellar.Close()
	if err := cellar.Save(context.Background(), d); err != nil {
		return fmt.Errorf("save to cellar: %w", err)
	}
	return nil
}

func buildManifest(d *cellpy.Dataset) Manifest {
	m := Manifest{
		Name:            d.Name,
		MassG:           d.Mass,
		NominalCapacity: d.NominalCapacity,
		CycleMode:       string(d.CycleMode),
		Merged:          d.Merged,
		Cycles:          len(d.CycleNumbers()),
		Steps:           len(d.Steps),
		RawRows:         len(d.Rows),
		StepTypeCounts:  map[string]int{},
	}
	if !d.StartTime.IsZero() {
		m.StartTime = d.StartTime.UTC().Format(time.RFC3339)
	}
	for _, f := range d.SourceFiles {
		src := ManifestSource{Name: f.Name, Size: f.Size, Rows: f.Rows}
		if !f.Modified.IsZero() {
			src.Modified = f.Modified.UTC().Format(time.RFC3339)
		}
		m.Sources = append(m.Sources, src)
	}
	for i := range d.Steps {
		m.StepTypeCounts[string(d.Steps[i].Type)]++
	}
	return m
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var stepCSVHeader = []string{
	"cycle_index", "step_index", "type", "info", "ir", "ir_pct_change",
	"current_avg", "current_std", "current_max", "current_min",
	"current_start", "current_end", "current_delta_pct", "current_rate",
	"voltage_avg", "voltage_std", "voltage_max", "voltage_min",
	"voltage_start", "voltage_end", "voltage_delta_pct", "voltage_rate",
	"charge_avg", "charge_std", "charge_max", "charge_min",
	"charge_start", "charge_end", "charge_delta_pct", "charge_rate",
	"discharge_avg", "discharge_std", "discharge_max", "discharge_min",
	"discharge_start", "discharge_end", "discharge_delta_pct", "discharge_rate",
}

func writeStepCSV(path string, steps cellpy.StepTable) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(stepCSVHeader); err != nil {
		return err
	}
	for i := range steps {
		s := &steps[i]
		row := []string{
			strconv.Itoa(s.CycleIndex),
			strconv.Itoa(s.StepIndex),
			string(s.Type),
			s.Info,
			formatFloat(s.InternalResistance),
			formatFloat(s.InternalResistancePctChange),
		}
		row = append(row, statsCSV(s.Current)...)
		row = append(row, statsCSV(s.Voltage)...)
		row = append(row, statsCSV(s.Charge)...)
		row = append(row, statsCSV(s.Discharge)...)
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

var summaryCSVHeader = []string{
	"date_time", "test_time", "data_point", "cycle_index",
	"current", "voltage", "charge_capacity_ah", "discharge_capacity_ah",
	"charge_energy_wh", "discharge_energy_wh",
	"charge_capacity_mahg", "discharge_capacity_mahg",
	"cumulated_charge_capacity_mahg", "coulombic_efficiency_pct",
	"coulombic_difference_mahg", "cumulated_coulombic_difference_mahg",
	"discharge_capacity_loss_mahg", "charge_capacity_loss_mahg",
	"cumulated_discharge_capacity_loss_mahg", "cumulated_charge_capacity_loss_mahg",
	"ocv_first_min_v", "ocv_first_max_v", "ocv_second_min_v", "ocv_second_max_v",
	"end_voltage_discharge_v", "end_voltage_charge_v",
	"ir_discharge_ohm", "ir_charge_ohm",
}

func writeSummaryCSV(path string, summary cellpy.SummaryTable) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(summaryCSVHeader); err != nil {
		return err
	}
	for i := range summary {
		r := &summary[i]
		dt := r.DateTimeText
		if dt == "" && !r.DateTime.IsZero() {
			dt = r.DateTime.Format(cellpy.DateTimeLayout)
		}
		row := []string{
			dt,
			formatFloat(r.TestTime),
			strconv.FormatInt(r.DataPoint, 10),
			strconv.Itoa(r.CycleIndex),
			formatFloat(r.Current),
			formatFloat(r.Voltage),
			formatFloat(r.ChargeCapacity),
			formatFloat(r.DischargeCapacity),
			formatFloat(r.ChargeEnergy),
			formatFloat(r.DischargeEnergy),
			formatFloat(r.ChargeCapacityMAhG),
			formatFloat(r.DischargeCapacityMAhG),
			formatFloat(r.CumulativeChargeCapacityMAhG),
			formatFloat(r.CoulombicEfficiencyPct),
			formatFloat(r.CoulombicDifferenceMAhG),
			formatFloat(r.CumulativeCoulombicDifferenceMAhG),
			formatFloat(r.DischargeCapacityLossMAhG),
			formatFloat(r.ChargeCapacityLossMAhG),
			formatFloat(r.CumulativeDischargeCapacityLossMAhG),
			formatFloat(r.CumulativeChargeCapacityLossMAhG),
			formatFloat(r.OCVFirstMinV),
			formatFloat(r.OCVFirstMaxV),
			formatFloat(r.OCVSecondMinV),
			formatFloat(r.OCVSecondMaxV),
			formatFloat(r.EndVoltageDischargeV),
			formatFloat(r.EndVoltageChargeV),
			formatFloat(r.IRDischargeOhm),
			formatFloat(r.IRChargeOhm),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func statsCSV(s cellpy.SignalStats) []string {
	return []string{
		formatFloat(s.Avg), formatFloat(s.Std),
		formatFloat(s.Max), formatFloat(s.Min),
		formatFloat(s.Start), formatFloat(s.End),
		formatFloat(s.DeltaPct), formatFloat(s.Rate),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
