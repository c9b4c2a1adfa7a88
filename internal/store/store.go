// Package store persists simulation runs and their per-step records in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	name         TEXT,
	seed         INTEGER NOT NULL,
	config_yaml  TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	closed_at    TEXT
);

CREATE TABLE IF NOT EXISTS steps (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id         TEXT NOT NULL,
	step           INTEGER NOT NULL,
	reward         REAL NOT NULL,
	setpoints_met  INTEGER NOT NULL,
	dependent_met  INTEGER NOT NULL,
	outputs_met    INTEGER NOT NULL,
	decision       TEXT,
	actions_json   TEXT,
	record_json    TEXT NOT NULL,
	created_at     TEXT NOT NULL,
	UNIQUE (run_id, step),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
`

// #endregion schema

// ErrRunNotFound is returned when a run id does not exist.
var ErrRunNotFound = errors.New("run not found")

// #region store-struct
// Store manages runs in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion constructor

// #region runs
// CreateRun registers a new run and returns it.
func (s *Store) CreateRun(name string, seed uint64, configYAML string) (Run, error) {
	run := Run{
		RunID:      uuid.New().String(),
		Name:       name,
		Seed:       seed,
		ConfigYAML: configYAML,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, name, seed, config_yaml, created_at) VALUES (?, ?, ?, ?, ?)`,
		run.RunID, nullIfEmpty(name), int64(seed), configYAML, run.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// CloseRun stamps the run's closing time.
func (s *Store) CloseRun(runID string) error {
	res, err := s.db.Exec(`UPDATE runs SET closed_at = ? WHERE run_id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), runID)
	if err != nil {
		return fmt.Errorf("close run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("close run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

const runColumns = `r.run_id, r.name, r.seed, r.config_yaml, r.created_at, r.closed_at,
	(SELECT COUNT(*) FROM steps st WHERE st.run_id = r.run_id)`

// GetRun retrieves a run by id.
func (s *Store) GetRun(runID string) (Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs r WHERE r.run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("get run %s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	return run, nil
}

// LatestRun returns the most recently created run.
func (s *Store) LatestRun() (Run, error) {
	runs, err := s.ListRuns(1)
	if err != nil {
		return Run{}, err
	}
	if len(runs) == 0 {
		return Run{}, fmt.Errorf("latest run: %w", ErrRunNotFound)
	}
	return runs[0], nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs r ORDER BY r.rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		run        Run
		name       sql.NullString
		seed       int64
		createdStr string
		closedStr  sql.NullString
	)
	if err := sc.Scan(&run.RunID, &name, &seed, &run.ConfigYAML, &createdStr, &closedStr, &run.Steps); err != nil {
		return Run{}, err
	}
	run.Name = name.String
	run.Seed = uint64(seed)
	run.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	if closedStr.Valid {
		run.ClosedAt, _ = time.Parse(time.RFC3339Nano, closedStr.String)
	}
	return run, nil
}

// #endregion runs

// #region steps
// AppendStep records one step of a run. Re-recording a step index replaces it,
// which happens when a run is reset and replayed under the same id.
func (s *Store) AppendStep(row StepRow) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO steps (run_id, step, reward, setpoints_met, dependent_met, outputs_met, decision, actions_json, record_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, step) DO UPDATE SET
			reward = excluded.reward,
			setpoints_met = excluded.setpoints_met,
			dependent_met = excluded.dependent_met,
			outputs_met = excluded.outputs_met,
			decision = excluded.decision,
			actions_json = excluded.actions_json,
			record_json = excluded.record_json,
			created_at = excluded.created_at`,
		row.RunID, row.Step, row.Reward,
		boolInt(row.SetpointsMet), boolInt(row.DependentMet), boolInt(row.OutputsMet),
		nullIfEmpty(row.Decision), nullIfEmpty(row.ActionsJSON), row.RecordJSON,
		row.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append step: %w", err)
	}
	return nil
}

// ListSteps returns every recorded step of a run in step order.
func (s *Store) ListSteps(runID string) ([]StepRow, error) {
	rows, err := s.db.Query(
		`SELECT run_id, step, reward, setpoints_met, dependent_met, outputs_met, decision, actions_json, record_json, created_at
		 FROM steps WHERE run_id = ? ORDER BY step ASC`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var out []StepRow
	for rows.Next() {
		var (
			row                    StepRow
			setMet, depMet, outMet int
			decision, actions      sql.NullString
			createdStr             string
		)
		if err := rows.Scan(&row.RunID, &row.Step, &row.Reward, &setMet, &depMet, &outMet,
			&decision, &actions, &row.RecordJSON, &createdStr); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		row.SetpointsMet = setMet == 1
		row.DependentMet = depMet == 1
		row.OutputsMet = outMet == 1
		row.Decision = decision.String
		row.ActionsJSON = actions.String
		row.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		out = append(out, row)
	}
	return out, rows.Err()
}

// #endregion steps

// #region helpers
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers
