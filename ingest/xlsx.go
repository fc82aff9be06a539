package ingest

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	cellpy "github.com/mbarzegary/cellpy-JOSS"
)

// ReadXLSX loads an Arbin-style xlsx export. The workbook carries the
// raw table on a Channel sheet, optionally a per-cycle Statistics
// sheet whose rows mark the stat points, and optionally a Global
// sheet with the test start datetime.
func ReadXLSX(path string, opts Options) (*cellpy.Dataset, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("read xlsx: %w", err)
	}
	defer f.Close()

	log := opts.logger()

	dataSheet := findSheet(f, "channel")
	if dataSheet == "" {
		return nil, fmt.Errorf("read xlsx %s: no channel data sheet", path)
	}
	rows, err := sheetRawRows(f, dataSheet)
	if err != nil {
		return nil, fmt.Errorf("read xlsx %s: sheet %s: %w", path, dataSheet, err)
	}
	log.Info("xlsx export loaded",
		slog.String("path", path),
		slog.String("sheet", dataSheet),
		slog.Int("rows", len(rows)))

	d, err := newDataset(path, rows, opts)
	if err != nil {
		return nil, err
	}

	if statSheet := findSheet(f, "statistic"); statSheet != "" {
		points, err := sheetStatPoints(f, statSheet)
		if err != nil {
			return nil, fmt.Errorf("read xlsx %s: sheet %s: %w", path, statSheet, err)
		}
		d.StatPoints = points
		log.Info("stat points recovered",
			slog.String("sheet", statSheet),
			slog.Int("points", len(points)))
	}

	if globalSheet := findSheet(f, "global", "info"); globalSheet != "" {
		if start, ok := sheetStartTime(f, globalSheet); ok {
			d.StartTime = start
		}
	}

	return d, nil
}

// findSheet returns the first sheet whose lowered name contains one
// of the substrings, in workbook order.
func findSheet(f *excelize.File, substrings ...string) string {
	for _, name := range f.GetSheetList() {
		lower := strings.ToLower(name)
		for _, sub := range substrings {
			if strings.Contains(lower, sub) {
				return name
			}
		}
	}
	return ""
}

func sheetRawRows(f *excelize.File, sheet string) ([]cellpy.RawRow, error) {
	records, err := f.GetRows(sheet)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty sheet")
	}

	cols, err := mapColumns(records[0])
	if err != nil {
		return nil, err
	}

	rows := make([]cellpy.RawRow, 0, len(records)-1)
	for i, record := range records[1:] {
		if emptyRecord(record) {
			continue
		}
		row, err := parseRow(record, cols, int64(len(rows)+1))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// sheetStatPoints extracts the data_point column of the statistics
// sheet. Arbin stat sheets share the raw-table header names.
func sheetStatPoints(f *excelize.File, sheet string) ([]int64, error) {
	records, err := f.GetRows(sheet)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	col := -1
	for i, h := range records[0] {
		if normalizeHeader(h) == "data_point" {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("no data_point column")
	}

	var points []int64
	for _, record := range records[1:] {
		if col >= len(record) {
			continue
		}
		s := strings.TrimSpace(record[col])
		if s == "" {
			continue
		}
		p, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad data_point %q: %w", s, err)
		}
		points = append(points, p)
	}
	return points, nil
}

// sheetStartTime looks for a labeled start-datetime cell on the
// global info sheet; the value sits in the cell to the right of the
// label.
func sheetStartTime(f *excelize.File, sheet string) (start time.Time, ok bool) {
	records, err := f.GetRows(sheet)
	if err != nil {
		return start, false
	}
	for _, record := range records {
		for i, cell := range record {
			label := normalizeHeader(cell)
			if label != "start_datetime" && label != "start_date_time" && label != "first_start_datetime" {
				continue
			}
			if i+1 < len(record) {
				if ts, err := parseDateTime(record[i+1]); err == nil && !ts.IsZero() {
					return ts, true
				}
			}
		}
	}
	return start, false
}
