package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"

	cellpy "github.com/mbarzegary/cellpy-JOSS"
)

// ReadCSV loads a CSV export. The first record must be the header
// row; the delimiter is sniffed from it, since testers export both
// comma- and semicolon-separated files.
func ReadCSV(path string, opts Options) (*cellpy.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = sniffDelimiter(path)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv %s: header: %w", path, err)
	}
	cols, err := mapColumns(header)
	if err != nil {
		return nil, fmt.Errorf("read csv %s: %w", path, err)
	}

	var rows []cellpy.RawRow
	line := 1
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv %s: line %d: %w", path, line+1, err)
		}
		line++
		row, err := parseRow(record, cols, int64(len(rows)+1))
		if err != nil {
			return nil, fmt.Errorf("read csv %s: line %d: %w", path, line, err)
		}
		rows = append(rows, row)
	}

	opts.logger().Info("csv export loaded",
		slog.String("path", path),
		slog.Int("rows", len(rows)))
	return newDataset(path, rows, opts)
}

// sniffDelimiter peeks at the first line and picks semicolon when it
// outnumbers commas.
func sniffDelimiter(path string) rune {
	f, err := os.Open(path)
	if err != nil {
		return ','
	}
	defer f.Close()

	buf := make([]byte, 4096)
	n, _ := f.Read(buf)
	commas, semis := 0, 0
	for _, b := range buf[:n] {
		switch b {
		case ',':
			commas++
		case ';':
			semis++
		case '\n':
			if semis > commas {
				return ';'
			}
			return ','
		}
	}
	if semis > commas {
		return ';'
	}
	return ','
}
