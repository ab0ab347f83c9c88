// Package store persists localisation runs and their per-cycle estimates
// in SQLite.
package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/gridloc/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var logf = monitoring.Component("store")

// ErrRunNotFound is returned when a run id has no row.
var ErrRunNotFound = errors.New("store: run not found")

// Pragmas go in the DSN so every pooled connection gets them.
var pragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"temp_store(MEMORY)",
	"foreign_keys(1)",
}

func dsn(path string) string {
	q := make(url.Values)
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	return "file:" + path + "?" + q.Encode()
}

type Store struct {
	*sql.DB
	path string
}

// Open opens (or creates) the database at path and brings the schema up to
// date.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	s := &Store{DB: db, path: path}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Path is the file the store was opened from.
func (s *Store) Path() string { return s.path }

// MigrateUp runs all pending migrations.
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// Closing m would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateDown rolls back the most recent migration.
func (s *Store) MigrateDown() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the applied schema version, or 0 when none is.
func (s *Store) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) { logf("[migrate] "+format, v...) }
func (migrateLogger) Verbose() bool                          { return false }

// Run is one localiser session.
type Run struct {
	RunID     string    `json:"run_id"`
	MapPath   string    `json:"map_path"`
	Particles int       `json:"particles"`
	EvalBeams int       `json:"eval_beams"`
	Seed      uint64    `json:"seed"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
}

// Estimate is one recorded predict/update cycle.
type Estimate struct {
	RunID      string    `json:"run_id"`
	Cycle      int       `json:"cycle"`
	Stamp      time.Time `json:"stamp"`
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	Yaw        float64   `json:"yaw"`
	ErrorSum   float64   `json:"error_sum"`
	MeanError  float64   `json:"mean_error"`
	Accurate   bool      `json:"accurate"`
	Degenerate bool      `json:"degenerate"`
	Reseeded   bool      `json:"reseeded"`
	NoiseScale float64   `json:"noise_scale"`
	MapVersion int       `json:"map_version"`
}

// StartRun inserts a run row. An empty RunID is filled with a UUID and a
// zero StartedAt with the current time.
func (s *Store) StartRun(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	_, err := s.Exec(`
		INSERT INTO runs (run_id, map_path, particles, eval_beams, seed, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.RunID, run.MapPath, run.Particles, run.EvalBeams, int64(run.Seed), run.StartedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// EndRun stamps the run as finished.
func (s *Store) EndRun(runID string, at time.Time) error {
	res, err := s.Exec(`UPDATE runs SET ended_at = ? WHERE run_id = ?`, at.UnixNano(), runID)
	if err != nil {
		return fmt.Errorf("end run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// RecordEstimate inserts one cycle. Re-recording a cycle replaces it.
func (s *Store) RecordEstimate(e Estimate) error {
	_, err := s.Exec(`
		INSERT OR REPLACE INTO estimates (
			run_id, cycle, stamp_ns, x, y, yaw, error_sum, mean_error,
			accurate, degenerate, reseeded, noise_scale, map_version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Cycle, e.Stamp.UnixNano(), e.X, e.Y, e.Yaw, e.ErrorSum, e.MeanError,
		e.Accurate, e.Degenerate, e.Reseeded, e.NoiseScale, e.MapVersion,
	)
	if err != nil {
		return fmt.Errorf("insert estimate: %w", err)
	}
	return nil
}

// Runs lists runs, newest first.
func (s *Store) Runs() ([]Run, error) {
	rows, err := s.Query(`
		SELECT run_id, map_path, particles, eval_beams, seed, started_at, ended_at
		FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns a single run.
func (s *Store) GetRun(runID string) (Run, error) {
	row := s.QueryRow(`
		SELECT run_id, map_path, particles, eval_beams, seed, started_at, ended_at
		FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	return r, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		r       Run
		seed    int64
		started int64
		ended   sql.NullInt64
	)
	if err := row.Scan(&r.RunID, &r.MapPath, &r.Particles, &r.EvalBeams, &seed, &started, &ended); err != nil {
		return Run{}, err
	}
	r.Seed = uint64(seed)
	r.StartedAt = time.Unix(0, started)
	if ended.Valid {
		r.EndedAt = time.Unix(0, ended.Int64)
	}
	return r, nil
}

// Estimates returns the cycles recorded for a run in cycle order. limit <= 0
// returns every row; otherwise the most recent limit cycles are returned.
func (s *Store) Estimates(runID string, limit int) ([]Estimate, error) {
	q := `
		SELECT run_id, cycle, stamp_ns, x, y, yaw, error_sum, mean_error,
		       accurate, degenerate, reseeded, noise_scale, map_version
		FROM estimates WHERE run_id = ?`
	args := []any{runID}
	if limit > 0 {
		q = `SELECT * FROM (` + q + ` ORDER BY cycle DESC LIMIT ?) ORDER BY cycle ASC`
		args = append(args, limit)
	} else {
		q += ` ORDER BY cycle ASC`
	}
	rows, err := s.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query estimates: %w", err)
	}
	defer rows.Close()

	var out []Estimate
	for rows.Next() {
		var (
			e     Estimate
			stamp int64
		)
		if err := rows.Scan(&e.RunID, &e.Cycle, &stamp, &e.X, &e.Y, &e.Yaw, &e.ErrorSum, &e.MeanError,
			&e.Accurate, &e.Degenerate, &e.Reseeded, &e.NoiseScale, &e.MapVersion); err != nil {
			return nil, err
		}
		e.Stamp = time.Unix(0, stamp)
		out = append(out, e)
	}
	return out, rows.Err()
}

// AccuracyRatio is the share of a run's cycles that passed the gate.
func (s *Store) AccuracyRatio(runID string) (float64, error) {
	var total, accurate int
	err := s.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(accurate), 0) FROM estimates WHERE run_id = ?`, runID,
	).Scan(&total, &accurate)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	return float64(accurate) / float64(total), nil
}
