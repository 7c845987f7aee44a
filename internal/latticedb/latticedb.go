// Package latticedb persists analysis runs and their results: atom
// positions, zone axes, and atom planes, keyed by run ID.
package latticedb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
}

func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS analysis_runs (
			run_id             TEXT PRIMARY KEY,
			created_at         TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			source_type        TEXT,
			source_path        TEXT,
			sublattice         TEXT,
			params_json        TEXT,
			status             TEXT,
			error_message      TEXT,
			duration_secs      DOUBLE,
			total_atoms        BIGINT,
			total_planes       BIGINT,
			zone_axis_count    BIGINT,
			fallback_count     BIGINT,
			processing_time_ms BIGINT
		);
		CREATE TABLE IF NOT EXISTS atom_positions (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id          TEXT NOT NULL,
			atom_index      BIGINT NOT NULL,
			x               DOUBLE,
			y               DOUBLE,
			sigma_x         DOUBLE,
			sigma_y         DOUBLE,
			rotation        DOUBLE,
			amplitude       DOUBLE,
			gaussian_fitted INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY(run_id) REFERENCES analysis_runs(run_id)
		);
		CREATE TABLE IF NOT EXISTS zone_axes (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id     TEXT NOT NULL,
			axis_index BIGINT NOT NULL,
			name       TEXT,
			zx         DOUBLE,
			zy         DOUBLE,
			FOREIGN KEY(run_id) REFERENCES analysis_runs(run_id)
		);
		CREATE TABLE IF NOT EXISTS atom_planes (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id       TEXT NOT NULL,
			plane_id     BIGINT NOT NULL,
			axis_index   BIGINT NOT NULL,
			atom_indices TEXT,
			atom_count   BIGINT,
			FOREIGN KEY(run_id) REFERENCES analysis_runs(run_id)
		);
		CREATE INDEX IF NOT EXISTS idx_atom_positions_run ON atom_positions(run_id);
		CREATE INDEX IF NOT EXISTS idx_zone_axes_run ON zone_axes(run_id);
		CREATE INDEX IF NOT EXISTS idx_atom_planes_run ON atom_planes(run_id);
	`)
	if err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

// AnalysisRun is one row of the analysis_runs table.
type AnalysisRun struct {
	RunID        string    `json:"run_id"`
	CreatedAt    time.Time `json:"created_at"`
	SourceType   string    `json:"source_type"`
	SourcePath   string    `json:"source_path"`
	Sublattice   string    `json:"sublattice"`
	ParamsJSON   []byte    `json:"params_json,omitempty"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// RunStats summarises a completed run.
type RunStats struct {
	DurationSecs     float64 `json:"duration_secs"`
	TotalAtoms       int     `json:"total_atoms"`
	TotalPlanes      int     `json:"total_planes"`
	ZoneAxisCount    int     `json:"zone_axis_count"`
	FallbackCount    int     `json:"fallback_count"`
	ProcessingTimeMs int64   `json:"processing_time_ms"`
}

// AtomRow is one stored atom position.
type AtomRow struct {
	AtomIndex      int     `json:"atom_index"`
	X              float64 `json:"x"`
	Y              float64 `json:"y"`
	SigmaX         float64 `json:"sigma_x"`
	SigmaY         float64 `json:"sigma_y"`
	Rotation       float64 `json:"rotation"`
	Amplitude      float64 `json:"amplitude"`
	GaussianFitted bool    `json:"gaussian_fitted"`
}

// ZoneAxisRow is one stored zone axis.
type ZoneAxisRow struct {
	AxisIndex int     `json:"axis_index"`
	Name      string  `json:"name"`
	ZX        float64 `json:"zx"`
	ZY        float64 `json:"zy"`
}

// PlaneRow is one stored atom plane. AtomIndices references atom_index
// values of the same run, in plane order.
type PlaneRow struct {
	PlaneID     int   `json:"plane_id"`
	AxisIndex   int   `json:"axis_index"`
	AtomIndices []int `json:"atom_indices"`
}

// InsertRun records a new run in the running state.
func (db *DB) InsertRun(run *AnalysisRun) error {
	_, err := db.Exec(
		`INSERT INTO analysis_runs (run_id, source_type, source_path, sublattice, params_json, status)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.RunID, run.SourceType, run.SourcePath, run.Sublattice, string(run.ParamsJSON), run.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to insert analysis run: %w", err)
	}
	return nil
}

// CompleteRun marks a run completed and stores its statistics.
func (db *DB) CompleteRun(runID string, stats *RunStats) error {
	res, err := db.Exec(
		`UPDATE analysis_runs
		 SET status = 'completed', duration_secs = ?, total_atoms = ?, total_planes = ?,
		     zone_axis_count = ?, fallback_count = ?, processing_time_ms = ?
		 WHERE run_id = ?`,
		stats.DurationSecs, stats.TotalAtoms, stats.TotalPlanes,
		stats.ZoneAxisCount, stats.FallbackCount, stats.ProcessingTimeMs, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete analysis run: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("no analysis run with id %s", runID)
	}
	return err
}

// UpdateRunStatus sets the status and error message of a run.
func (db *DB) UpdateRunStatus(runID, status, errMsg string) error {
	_, err := db.Exec(
		`UPDATE analysis_runs SET status = ?, error_message = ? WHERE run_id = ?`,
		status, errMsg, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	return nil
}

// GetRun fetches one run by ID.
func (db *DB) GetRun(runID string) (*AnalysisRun, error) {
	row := db.QueryRow(
		`SELECT run_id, created_at, source_type, source_path, sublattice, params_json, status,
		        COALESCE(error_message, '')
		 FROM analysis_runs WHERE run_id = ?`, runID)

	var run AnalysisRun
	var params string
	if err := row.Scan(&run.RunID, &run.CreatedAt, &run.SourceType, &run.SourcePath,
		&run.Sublattice, &params, &run.Status, &run.ErrorMessage); err != nil {
		return nil, err
	}
	run.ParamsJSON = []byte(params)
	return &run, nil
}

// ListRuns returns the most recent runs, newest first.
func (db *DB) ListRuns(limit int) ([]AnalysisRun, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT run_id, created_at, source_type, source_path, sublattice, params_json, status,
		        COALESCE(error_message, '')
		 FROM analysis_runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []AnalysisRun
	for rows.Next() {
		var run AnalysisRun
		var params string
		if err := rows.Scan(&run.RunID, &run.CreatedAt, &run.SourceType, &run.SourcePath,
			&run.Sublattice, &params, &run.Status, &run.ErrorMessage); err != nil {
			return nil, err
		}
		run.ParamsJSON = []byte(params)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// SaveAtoms stores the atom positions of a run in one transaction.
func (db *DB) SaveAtoms(runID string, atoms []AtomRow) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO atom_positions (run_id, atom_index, x, y, sigma_x, sigma_y, rotation, amplitude, gaussian_fitted)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range atoms {
		fitted := 0
		if a.GaussianFitted {
			fitted = 1
		}
		if _, err := stmt.Exec(runID, a.AtomIndex, a.X, a.Y, a.SigmaX, a.SigmaY,
			a.Rotation, a.Amplitude, fitted); err != nil {
			return fmt.Errorf("failed to insert atom %d: %w", a.AtomIndex, err)
		}
	}
	return tx.Commit()
}

// Atoms returns the atom positions of a run, ordered by atom index.
func (db *DB) Atoms(runID string) ([]AtomRow, error) {
	rows, err := db.Query(
		`SELECT atom_index, x, y, sigma_x, sigma_y, rotation, amplitude, gaussian_fitted
		 FROM atom_positions WHERE run_id = ? ORDER BY atom_index`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var atoms []AtomRow
	for rows.Next() {
		var a AtomRow
		var fitted int
		if err := rows.Scan(&a.AtomIndex, &a.X, &a.Y, &a.SigmaX, &a.SigmaY,
			&a.Rotation, &a.Amplitude, &fitted); err != nil {
			return nil, err
		}
		a.GaussianFitted = fitted != 0
		atoms = append(atoms, a)
	}
	return atoms, rows.Err()
}

// SaveZoneAxes stores the zone axes of a run.
func (db *DB) SaveZoneAxes(runID string, axes []ZoneAxisRow) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, z := range axes {
		if _, err := tx.Exec(
			`INSERT INTO zone_axes (run_id, axis_index, name, zx, zy) VALUES (?, ?, ?, ?, ?)`,
			runID, z.AxisIndex, z.Name, z.ZX, z.ZY); err != nil {
			return fmt.Errorf("failed to insert zone axis %d: %w", z.AxisIndex, err)
		}
	}
	return tx.Commit()
}

// ZoneAxes returns the zone axes of a run, ordered by axis index.
func (db *DB) ZoneAxes(runID string) ([]ZoneAxisRow, error) {
	rows, err := db.Query(
		`SELECT axis_index, name, zx, zy FROM zone_axes WHERE run_id = ? ORDER BY axis_index`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var axes []ZoneAxisRow
	for rows.Next() {
		var z ZoneAxisRow
		if err := rows.Scan(&z.AxisIndex, &z.Name, &z.ZX, &z.ZY); err != nil {
			return nil, err
		}
		axes = append(axes, z)
	}
	return axes, rows.Err()
}

// SavePlanes stores the atom planes of a run. Member lists are encoded as
// JSON arrays of atom indices.
func (db *DB) SavePlanes(runID string, planes []PlaneRow) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO atom_planes (run_id, plane_id, axis_index, atom_indices, atom_count)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range planes {
		indices, err := json.Marshal(p.AtomIndices)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(runID, p.PlaneID, p.AxisIndex, string(indices), len(p.AtomIndices)); err != nil {
			return fmt.Errorf("failed to insert plane %d: %w", p.PlaneID, err)
		}
	}
	return tx.Commit()
}

// Planes returns the atom planes of a run, ordered by plane ID.
func (db *DB) Planes(runID string) ([]PlaneRow, error) {
	rows, err := db.Query(
		`SELECT plane_id, axis_index, atom_indices FROM atom_planes WHERE run_id = ? ORDER BY plane_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var planes []PlaneRow
	for rows.Next() {
		var p PlaneRow
		var indices string
		if err := rows.Scan(&p.PlaneID, &p.AxisIndex, &indices); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(indices), &p.AtomIndices); err != nil {
			return nil, fmt.Errorf("corrupt atom_indices for plane %d: %w", p.PlaneID, err)
		}
		planes = append(planes, p)
	}
	return planes, rows.Err()
}
