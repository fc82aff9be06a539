// Package ingest loads raw battery-tester exports into normalized
// datasets. CSV and xlsx exports in the Arbin column convention are
// supported; header matching is tolerant of unit suffixes and case.
package ingest

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	cellpy "github.com/mbarzegary/cellpy-JOSS"
)

// Options carries the cell metadata the tester export does not.
type Options struct {
	// Name overrides the dataset name; defaults to the file base name
	// without extension.
	Name string

	// Mass is the active-material mass in grams.
	Mass float64

	// NominalCapacity is in mAh/g.
	NominalCapacity float64

	CycleMode cellpy.CycleMode

	Logger *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Read dispatches on the file extension.
func Read(path string, opts Options) (*cellpy.Dataset, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		return ReadCSV(path, opts)
	case ".xlsx":
		return ReadXLSX(path, opts)
	default:
		return nil, fmt.Errorf("read %s: unsupported file type", path)
	}
}

// xlEpoch is the Excel serial-date epoch. Excel treats 1900 as a leap
// year, so the epoch sits on 1899-12-30 rather than 1899-12-31.
var xlEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// XLDate converts an Excel serial date to a wall-clock time.
func XLDate(serial float64) time.Time {
	days := math.Floor(serial)
	frac := serial - days
	return xlEpoch.AddDate(0, 0, int(days)).
		Add(time.Duration(frac * 24 * float64(time.Hour))).
		Round(time.Millisecond)
}

var dateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04:05.000",
	time.RFC3339,
}

// parseDateTime accepts either an Excel serial number or a textual
// timestamp in one of the layouts testers are known to emit.
func parseDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		return XLDate(serial), nil
	}
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// normalizeHeader lowers the header and strips unit suffixes, so
// "Charge_Capacity(Ah)" and "charge capacity" match the same column.
func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if i := strings.IndexAny(h, "(["); i >= 0 {
		h = strings.TrimSpace(h[:i])
	}
	h = strings.ReplaceAll(h, " ", "_")
	h = strings.ReplaceAll(h, "-", "_")
	return h
}

// columnAliases maps normalized tester headers to canonical column
// names. The Arbin names are primary; the short forms show up in
// hand-exported CSV files.
var columnAliases = map[string]string{
	"data_point":          "data_point",
	"point":               "data_point",
	"test_time":           "test_time",
	"step_time":           "step_time",
	"date_time":           "date_time",
	"datetime":            "date_time",
	"cycle_index":         "cycle_index",
	"cycle":               "cycle_index",
	"step_index":          "step_index",
	"step":                "step_index",
	"current":             "current",
	"voltage":             "voltage",
	"charge_capacity":     "charge_capacity",
	"discharge_capacity":  "discharge_capacity",
	"charge_energy":       "charge_energy",
	"discharge_energy":    "discharge_energy",
	"internal_resistance": "internal_resistance",
	"ir":                  "internal_resistance",
}

var requiredColumns = []string{"cycle_index", "step_index", "current", "voltage"}

// mapColumns resolves a header row into canonical-name positions.
func mapColumns(header []string) (map[string]int, error) {
	cols := make(map[string]int)
	for i, h := range header {
		if name, ok := columnAliases[normalizeHeader(h)]; ok {
			cols[name] = i
		}
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("missing required column %q", name)
		}
	}
	return cols, nil
}

// parseRow converts one record into a raw row. Missing optional
// columns stay zero; the synthetic data point covers exports that do
// not number their rows.
func parseRow(record []string, cols map[string]int, syntheticDP int64) (cellpy.RawRow, error) {
	get := func(name string) string {
		if idx, ok := cols[name]; ok && idx < len(record) {
			return strings.TrimSpace(record[idx])
		}
		return ""
	}
	getFloat := func(name string) float64 {
		v, _ := strconv.ParseFloat(strings.ReplaceAll(get(name), ",", ""), 64)
		return v
	}
	getInt := func(name string) int64 {
		v, _ := strconv.ParseInt(get(name), 10, 64)
		return v
	}

	row := cellpy.RawRow{
		DataPoint:          getInt("data_point"),
		TestTime:           getFloat("test_time"),
		StepTime:           getFloat("step_time"),
		CycleIndex:         int(getInt("cycle_index")),
		StepIndex:          int(getInt("step_index")),
		Current:            getFloat("current"),
		Voltage:            getFloat("voltage"),
		ChargeCapacity:     getFloat("charge_capacity"),
		DischargeCapacity:  getFloat("discharge_capacity"),
		ChargeEnergy:       getFloat("charge_energy"),
		DischargeEnergy:    getFloat("discharge_energy"),
		InternalResistance: getFloat("internal_resistance"),
	}
	if row.DataPoint == 0 {
		row.DataPoint = syntheticDP
	}

	if s := get("date_time"); s != "" {
		ts, err := parseDateTime(s)
		if err != nil {
			return cellpy.RawRow{}, err
		}
		row.DateTime = ts
	}
	return row, nil
}

func emptyRecord(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// newDataset stamps the metadata and file provenance on a freshly
// parsed raw table. The start datetime comes from the first row when
// the caller found no better source.
func newDataset(path string, rows []cellpy.RawRow, opts Options) (*cellpy.Dataset, error) {
	name := opts.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	d := &cellpy.Dataset{
		Name:            name,
		Mass:            opts.Mass,
		NominalCapacity: opts.NominalCapacity,
		CycleMode:       opts.CycleMode,
		Rows:            rows,
	}
	if len(rows) > 0 {
		d.StartTime = rows[0].DateTime
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	d.SourceFiles = []cellpy.SourceFile{{
		Name:     filepath.Base(path),
		Size:     info.Size(),
		Modified: info.ModTime(),
		Rows:     len(rows),
	}}
	return d, nil
}
