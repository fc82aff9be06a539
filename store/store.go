// Package store persists datasets in a SQLite cellar, so a converted
// raw table can be reloaded without re-parsing the tester export.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite"

	cellpy "github.com/mbarzegary/cellpy-JOSS"
)

//go:embed schema.sql
var schemaSQL string

// Cellar is a SQLite-backed dataset store.
type Cellar struct {
	db *sql.DB
}

// Open opens the cellar at path, creating the file and schema on
// first use. An empty path opens an in-memory cellar.
func Open(path string) (*Cellar, error) {
	dsn := "file::memory:?cache=shared&_pragma=foreign_keys(1)"
	if path != "" {
		// Apply pragmas per connection via the DSN so the pool always
		// has them.
		dsn = fmt.Sprintf(
			"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
			path,
		)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cellar: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("exec schema: %w", err)
	}
	return &Cellar{db: db}, nil
}

func (c *Cellar) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Save writes the dataset and all its tables in one transaction. A
// dataset with the same name is replaced.
func (c *Cellar) Save(ctx context.Context, d *cellpy.Dataset) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save %q: begin: %w", d.Name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM datasets WHERE name = ?`, d.Name); err != nil {
		return fmt.Errorf("save %q: delete previous: %w", d.Name, err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO datasets (name, mass, nominal_capacity, cycle_mode, start_time,
		                      merged, step_table_built, summary_built, summary_self_made, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Name, d.Mass, d.NominalCapacity, string(d.CycleMode), formatTime(d.StartTime),
		boolToInt(d.Merged), boolToInt(d.StepTableBuilt), boolToInt(d.SummaryBuilt),
		boolToInt(d.SummarySelfMade), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("save %q: insert dataset: %w", d.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("save %q: dataset id: %w", d.Name, err)
	}

	if err := insertSourceFiles(ctx, tx, id, d.SourceFiles); err != nil {
		return fmt.Errorf("save %q: %w", d.Name, err)
	}
	if err := insertRawRows(ctx, tx, id, d.Rows); err != nil {
		return fmt.Errorf("save %q: %w", d.Name, err)
	}
	if err := insertStatPoints(ctx, tx, id, d.StatPoints); err != nil {
		return fmt.Errorf("save %q: %w", d.Name, err)
	}
	if err := insertStepRows(ctx, tx, id, d.Steps); err != nil {
		return fmt.Errorf("save %q: %w", d.Name, err)
	}
	if err := insertSummaryRows(ctx, tx, id, d.Summary); err != nil {
		return fmt.Errorf("save %q: %w", d.Name, err)
	}

	return tx.Commit()
}

// Load reads back a dataset by name.
func (c *Cellar) Load(ctx context.Context, name string) (*cellpy.Dataset, error) {
	d := &cellpy.Dataset{}
	var id int64
	var mode, start string
	var merged, stepsBuilt, summaryBuilt, selfMade int

	err := c.db.QueryRowContext(ctx, `
		SELECT id, name, mass, nominal_capacity, cycle_mode, start_time,
		       merged, step_table_built, summary_built, summary_self_made
		FROM datasets WHERE name = ?`, name).
		Scan(&id, &d.Name, &d.Mass, &d.NominalCapacity, &mode, &start,
			&merged, &stepsBuilt, &summaryBuilt, &selfMade)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("load %q: not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("load %q: %w", name, err)
	}

	d.CycleMode = cellpy.CycleMode(mode)
	d.StartTime = parseTime(start)
	d.Merged = merged == 1
	d.StepTableBuilt = stepsBuilt == 1
	d.SummaryBuilt = summaryBuilt == 1
	d.SummarySelfMade = selfMade == 1

	if d.SourceFiles, err = c.loadSourceFiles(ctx, id); err != nil {
		return nil, fmt.Errorf("load %q: %w", name, err)
	}
	if d.Rows, err = c.loadRawRows(ctx, id); err != nil {
		return nil, fmt.Errorf("load %q: %w", name, err)
	}
	if d.StatPoints, err = c.loadStatPoints(ctx, id); err != nil {
		return nil, fmt.Errorf("load %q: %w", name, err)
	}
	if d.StepTableBuilt {
		if d.Steps, err = c.loadStepRows(ctx, id); err != nil {
			return nil, fmt.Errorf("load %q: %w", name, err)
		}
	}
	if d.SummaryBuilt {
		if d.Summary, err = c.loadSummaryRows(ctx, id); err != nil {
			return nil, fmt.Errorf("load %q: %w", name, err)
		}
	}
	return d, nil
}

// List returns the stored dataset names, ascending.
func (c *Cellar) List(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT name FROM datasets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan name: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// Delete removes a dataset and its tables.
func (c *Cellar) Delete(ctx context.Context, name string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM datasets WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete %q: not found", name)
	}
	return nil
}

func insertSourceFiles(ctx context.Context, tx *sql.Tx, id int64, files []cellpy.SourceFile) error {
	const query = `INSERT INTO source_files (dataset_id, seq, name, size, modified, rows)
	               VALUES (?, ?, ?, ?, ?, ?)`
	for i, f := range files {
		if _, err := tx.ExecContext(ctx, query, id, i, f.Name, f.Size, formatTime(f.Modified), f.Rows); err != nil {
			return fmt.Errorf("insert source_file: %w", err)
		}
	}
	return nil
}

func (c *Cellar) loadSourceFiles(ctx context.Context, id int64) ([]cellpy.SourceFile, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT name, size, modified, rows FROM source_files WHERE dataset_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query source_files: %w", err)
	}
	defer rows.Close()

	var files []cellpy.SourceFile
	for rows.Next() {
		var f cellpy.SourceFile
		var modified string
		if err := rows.Scan(&f.Name, &f.Size, &modified, &f.Rows); err != nil {
			return nil, fmt.Errorf("scan source_file: %w", err)
		}
		f.Modified = parseTime(modified)
		files = append(files, f)
	}
	return files, rows.Err()
}

func insertRawRows(ctx context.Context, tx *sql.Tx, id int64, rows []cellpy.RawRow) error {
	const query = `
		INSERT INTO raw_rows (dataset_id, data_point, test_time, step_time, date_time,
		                      cycle_index, step_index, current, voltage,
		                      charge_capacity, discharge_capacity,
		                      charge_energy, discharge_energy, internal_resistance)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare raw_rows: %w", err)
	}
	defer stmt.Close()

	for i := range rows {
		r := &rows[i]
		if _, err := stmt.ExecContext(ctx, id,
			r.DataPoint, r.TestTime, r.StepTime, formatTime(r.DateTime),
			r.CycleIndex, r.StepIndex, r.Current, r.Voltage,
			r.ChargeCapacity, r.DischargeCapacity,
			r.ChargeEnergy, r.DischargeEnergy, r.InternalResistance,
		); err != nil {
			return fmt.Errorf("insert raw_row %d: %w", r.DataPoint, err)
		}
	}
	return nil
}

func (c *Cellar) loadRawRows(ctx context.Context, id int64) ([]cellpy.RawRow, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT data_point, test_time, step_time, date_time,
		       cycle_index, step_index, current, voltage,
		       charge_capacity, discharge_capacity,
		       charge_energy, discharge_energy, internal_resistance
		FROM raw_rows WHERE dataset_id = ? ORDER BY data_point`, id)
	if err != nil {
		return nil, fmt.Errorf("query raw_rows: %w", err)
	}
	defer rows.Close()

	var out []cellpy.RawRow
	for rows.Next() {
		var r cellpy.RawRow
		var dt string
		if err := rows.Scan(&r.DataPoint, &r.TestTime, &r.StepTime, &dt,
			&r.CycleIndex, &r.StepIndex, &r.Current, &r.Voltage,
			&r.ChargeCapacity, &r.DischargeCapacity,
			&r.ChargeEnergy, &r.DischargeEnergy, &r.InternalResistance,
		); err != nil {
			return nil, fmt.Errorf("scan raw_row: %w", err)
		}
		r.DateTime = parseTime(dt)
		out = append(out, r)
	}
	return out, rows.Err()
}

func insertStatPoints(ctx context.Context, tx *sql.Tx, id int64, points []int64) error {
	const query = `INSERT INTO stat_points (dataset_id, data_point) VALUES (?, ?)`
	for _, p := range points {
		if _, err := tx.ExecContext(ctx, query, id, p); err != nil {
			return fmt.Errorf("insert stat_point: %w", err)
		}
	}
	return nil
}

func (c *Cellar) loadStatPoints(ctx context.Context, id int64) ([]int64, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT data_point FROM stat_points WHERE dataset_id = ? ORDER BY data_point`, id)
	if err != nil {
		return nil, fmt.Errorf("query stat_points: %w", err)
	}
	defer rows.Close()

	var points []int64
	for rows.Next() {
		var p int64
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan stat_point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func insertStepRows(ctx context.Context, tx *sql.Tx, id int64, steps cellpy.StepTable) error {
	const query = `
		INSERT INTO step_rows (dataset_id, seq, cycle_index, step_index, step_type, info,
		                       ir, ir_pct_change,
		                       current_avg, current_std, current_max, current_min,
		                       current_start, current_end, current_delta, current_rate,
		                       voltage_avg, voltage_std, voltage_max, voltage_min,
		                       voltage_start, voltage_end, voltage_delta, voltage_rate,
		                       charge_avg, charge_std, charge_max, charge_min,
		                       charge_start, charge_end, charge_delta, charge_rate,
		                       discharge_avg, discharge_std, discharge_max, discharge_min,
		                       discharge_start, discharge_end, discharge_delta, discharge_rate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?,
		        ?, ?, ?, ?, ?, ?, ?, ?,
		        ?, ?, ?, ?, ?, ?, ?, ?,
		        ?, ?, ?, ?, ?, ?, ?, ?,
		        ?, ?, ?, ?, ?, ?, ?, ?)`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare step_rows: %w", err)
	}
	defer stmt.Close()

	for i := range steps {
		s := &steps[i]
		args := []any{id, i, s.CycleIndex, s.StepIndex, string(s.Type), s.Info,
			s.InternalResistance, s.InternalResistancePctChange}
		args = append(args, statsArgs(s.Current)...)
		args = append(args, statsArgs(s.Voltage)...)
		args = append(args, statsArgs(s.Charge)...)
		args = append(args, statsArgs(s.Discharge)...)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert step_row %d: %w", i, err)
		}
	}
	return nil
}

func (c *Cellar) loadStepRows(ctx context.Context, id int64) (cellpy.StepTable, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT cycle_index, step_index, step_type, info, ir, ir_pct_change,
		       current_avg, current_std, current_max, current_min,
		       current_start, current_end, current_delta, current_rate,
		       voltage_avg, voltage_std, voltage_max, voltage_min,
		       voltage_start, voltage_end, voltage_delta, voltage_rate,
		       charge_avg, charge_std, charge_max, charge_min,
		       charge_start, charge_end, charge_delta, charge_rate,
		       discharge_avg, discharge_std, discharge_max, discharge_min,
		       discharge_start, discharge_end, discharge_delta, discharge_rate
		FROM step_rows WHERE dataset_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query step_rows: %w", err)
	}
	defer rows.Close()

	var table cellpy.StepTable
	for rows.Next() {
		var s cellpy.StepRow
		var typ string
		dests := []any{&s.CycleIndex, &s.StepIndex, &typ, &s.Info,
			&s.InternalResistance, &s.InternalResistancePctChange}
		dests = append(dests, statsDests(&s.Current)...)
		dests = append(dests, statsDests(&s.Voltage)...)
		dests = append(dests, statsDests(&s.Charge)...)
		dests = append(dests, statsDests(&s.Discharge)...)
		if err := rows.Scan(dests...); err != nil {
			return nil, fmt.Errorf("scan step_row: %w", err)
		}
		s.Type = cellpy.StepType(typ)
		table = append(table, s)
	}
	return table, rows.Err()
}

func insertSummaryRows(ctx context.Context, tx *sql.Tx, id int64, summary cellpy.SummaryTable) error {
	const query = `
		INSERT INTO summary_rows (dataset_id, seq, cycle_index, data_point, test_time,
		                          date_time, date_time_text,
		                          current, voltage, charge_capacity, discharge_capacity,
		                          charge_energy, discharge_energy,
		                          charge_capacity_mahg, discharge_capacity_mahg,
		                          cum_charge_capacity_mahg, coulombic_efficiency_pct,
		                          coulombic_diff_mahg, cum_coulombic_diff_mahg,
		                          discharge_loss_mahg, charge_loss_mahg,
		                          cum_discharge_loss_mahg, cum_charge_loss_mahg,
		                          ocv_first_min_v, ocv_first_max_v,
		                          ocv_second_min_v, ocv_second_max_v,
		                          end_voltage_discharge_v, end_voltage_charge_v,
		                          ir_discharge_ohm, ir_charge_ohm)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
		        ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare summary_rows: %w", err)
	}
	defer stmt.Close()

	for i := range summary {
		r := &summary[i]
		if _, err := stmt.ExecContext(ctx, id, i, r.CycleIndex, r.DataPoint, r.TestTime,
			formatTime(r.DateTime), r.DateTimeText,
			r.Current, r.Voltage, r.ChargeCapacity, r.DischargeCapacity,
			r.ChargeEnergy, r.DischargeEnergy,
			r.ChargeCapacityMAhG, r.DischargeCapacityMAhG,
			r.CumulativeChargeCapacityMAhG, storable(r.CoulombicEfficiencyPct),
			r.CoulombicDifferenceMAhG, r.CumulativeCoulombicDifferenceMAhG,
			r.DischargeCapacityLossMAhG, r.ChargeCapacityLossMAhG,
			r.CumulativeDischargeCapacityLossMAhG, r.CumulativeChargeCapacityLossMAhG,
			r.OCVFirstMinV, r.OCVFirstMaxV, r.OCVSecondMinV, r.OCVSecondMaxV,
			r.EndVoltageDischargeV, r.EndVoltageChargeV,
			r.IRDischargeOhm, r.IRChargeOhm,
		); err != nil {
			return fmt.Errorf("insert summary_row %d: %w", i, err)
		}
	}
	return nil
}

func (c *Cellar) loadSummaryRows(ctx context.Context, id int64) (cellpy.SummaryTable, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT cycle_index, data_point, test_time, date_time, date_time_text,
		       current, voltage, charge_capacity, discharge_capacity,
		       charge_energy, discharge_energy,
		       charge_capacity_mahg, discharge_capacity_mahg,
		       cum_charge_capacity_mahg, coulombic_efficiency_pct,
		       coulombic_diff_mahg, cum_coulombic_diff_mahg,
		       discharge_loss_mahg, charge_loss_mahg,
		       cum_discharge_loss_mahg, cum_charge_loss_mahg,
		       ocv_first_min_v, ocv_first_max_v, ocv_second_min_v, ocv_second_max_v,
		       end_voltage_discharge_v, end_voltage_charge_v,
		       ir_discharge_ohm, ir_charge_ohm
		FROM summary_rows WHERE dataset_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query summary_rows: %w", err)
	}
	defer rows.Close()

	var table cellpy.SummaryTable
	for rows.Next() {
		var r cellpy.SummaryRow
		var dt string
		if err := rows.Scan(&r.CycleIndex, &r.DataPoint, &r.TestTime, &dt, &r.DateTimeText,
			&r.Current, &r.Voltage, &r.ChargeCapacity, &r.DischargeCapacity,
			&r.ChargeEnergy, &r.DischargeEnergy,
			&r.ChargeCapacityMAhG, &r.DischargeCapacityMAhG,
			&r.CumulativeChargeCapacityMAhG, &r.CoulombicEfficiencyPct,
			&r.CoulombicDifferenceMAhG, &r.CumulativeCoulombicDifferenceMAhG,
			&r.DischargeCapacityLossMAhG, &r.ChargeCapacityLossMAhG,
			&r.CumulativeDischargeCapacityLossMAhG, &r.CumulativeChargeCapacityLossMAhG,
			&r.OCVFirstMinV, &r.OCVFirstMaxV, &r.OCVSecondMinV, &r.OCVSecondMaxV,
			&r.EndVoltageDischargeV, &r.EndVoltageChargeV,
			&r.IRDischargeOhm, &r.IRChargeOhm,
		); err != nil {
			return nil, fmt.Errorf("scan summary_row: %w", err)
		}
		r.DateTime = parseTime(dt)
		table = append(table, r)
	}
	return table, rows.Err()
}

func statsArgs(s cellpy.SignalStats) []any {
	return []any{s.Avg, s.Std, s.Max, s.Min, s.Start, s.End, s.DeltaPct, s.Rate}
}

func statsDests(s *cellpy.SignalStats) []any {
	return []any{&s.Avg, &s.Std, &s.Max, &s.Min, &s.Start, &s.End, &s.DeltaPct, &s.Rate}
}

// storable squashes the NaN and Inf an all-charge or all-discharge
// cycle produces in the efficiency column; SQLite REAL cannot hold
// them.
func storable(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
