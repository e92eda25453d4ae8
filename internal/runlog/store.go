// SPDX-License-Identifier: MIT

// Package runlog persists pipeline run records so the status surface can
// answer "when did this service last move data" across process restarts.
package runlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/zonelift/zonelift/internal/persistence/sqlite"
)

const schemaVersion = 1

// Outcome classifies a run or a per-service slice of one.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
)

// Run is one pipeline execution across one or more services.
type Run struct {
	ID         string
	Trigger    string // manual | interval | remediator | watch
	StartedAt  time.Time
	FinishedAt time.Time
	Outcome    Outcome
	Services   []ServiceRun
}

// ServiceRun is the per-service slice of a run.
type ServiceRun struct {
	Service     string
	Outcome     Outcome
	Promoted    int
	Skipped     int
	Quarantined int
	Failed      int
	Error       string
}

// Store records runs in SQLite.
type Store struct {
	db *sql.DB
}

// Open initializes the run log at dbPath, migrating the schema if needed.
// An existing database is quick-checked first so a corrupt run log fails
// loudly instead of surfacing as scattered query errors.
func Open(dbPath string) (*Store, error) {
	if _, statErr := os.Stat(dbPath); statErr == nil {
		issues, err := sqlite.VerifyIntegrity(dbPath, "quick")
		if err != nil {
			return nil, err
		}
		if len(issues) > 0 {
			return nil, fmt.Errorf("runlog: database %s is corrupt: %s", dbPath, strings.Join(issues, "; "))
		}
	}

	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("runlog: migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	var currentVersion int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		trigger_kind TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		outcome TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	CREATE TABLE IF NOT EXISTS run_services (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		service TEXT NOT NULL,
		outcome TEXT NOT NULL,
		promoted INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		quarantined INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, service)
	);
	CREATE INDEX IF NOT EXISTS idx_run_services_service ON run_services(service);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// Record persists one finished run and its per-service slices in a single
// transaction.
func (s *Store) Record(ctx context.Context, run Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, trigger_kind, started_at, finished_at, outcome) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Trigger,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.FinishedAt.UTC().Format(time.RFC3339Nano),
		string(run.Outcome),
	); err != nil {
		return fmt.Errorf("runlog: insert run %s: %w", run.ID, err)
	}

	for _, sr := range run.Services {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_services (run_id, service, outcome, promoted, skipped, quarantined, failed, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, sr.Service, string(sr.Outcome), sr.Promoted, sr.Skipped, sr.Quarantined, sr.Failed, sr.Error,
		); err != nil {
			return fmt.Errorf("runlog: insert run %s service %s: %w", run.ID, sr.Service, err)
		}
	}
	return tx.Commit()
}

// Latest returns the most recent runs, newest first, with their service
// slices attached.
func (s *Store) Latest(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, trigger_kind, started_at, finished_at, outcome FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var runs []Run
	for rows.Next() {
		var run Run
		var started, finished string
		if err := rows.Scan(&run.ID, &run.Trigger, &started, &finished, &run.Outcome); err != nil {
			return nil, err
		}
		run.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		run.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range runs {
		services, err := s.servicesFor(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Services = services
	}
	return runs, nil
}

// LastRunFor returns the most recent run slice touching the given service,
// or nil when the service has never run.
func (s *Store) LastRunFor(ctx context.Context, service string) (*Run, error) {
	var run Run
	var started, finished string
	err := s.db.QueryRowContext(ctx,
		`SELECT r.id, r.trigger_kind, r.started_at, r.finished_at, r.outcome
		 FROM runs r JOIN run_services rs ON rs.run_id = r.id
		 WHERE rs.service = ? ORDER BY r.started_at DESC LIMIT 1`, service).
		Scan(&run.ID, &run.Trigger, &started, &finished, &run.Outcome)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	run.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	run.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
	services, err := s.servicesFor(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	run.Services = services
	return &run, nil
}

func (s *Store) servicesFor(ctx context.Context, runID string) ([]ServiceRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT service, outcome, promoted, skipped, quarantined, failed, error
		 FROM run_services WHERE run_id = ? ORDER BY service`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var services []ServiceRun
	for rows.Next() {
		var sr ServiceRun
		if err := rows.Scan(&sr.Service, &sr.Outcome, &sr.Promoted, &sr.Skipped, &sr.Quarantined, &sr.Failed, &sr.Error); err != nil {
			return nil, err
		}
		services = append(services, sr)
	}
	return services, rows.Err()
}

// Prune deletes run records older than the cutoff. Service slices cascade.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE started_at < ?`, olderThan.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Close releases the underlying pool.
func (s *Store) Close() error { return s.db.Close() }
