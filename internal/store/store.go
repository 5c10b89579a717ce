// Package store persists run history to SQLite so `clustertest status` can
// report on past runs after the process exits.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/runner"
	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/pkg/api"
)

// Store is a SQLite-backed persistence layer.
type Store struct{ db *sql.DB }

//go:embed migrations/*.sql
var migrationFS embed.FS

// RunRecord is one persisted run.
type RunRecord struct {
	ID        string
	Cluster   string
	StartedAt time.Time
	State     api.ClusterState
	Total     int
	Passed    int
	Failed    int
	Skipped   int
	LogDir    string
}

func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema, err := migrationFS.ReadFile("migrations/0001_init.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("db not initialized")
	}
	return s.db.PingContext(ctx)
}

// RecordRun inserts or updates one run row.
func (s *Store) RecordRun(ctx context.Context, rec RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, cluster, started_at, state, total, passed, failed, skipped, log_dir)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			total = excluded.total,
			passed = excluded.passed,
			failed = excluded.failed,
			skipped = excluded.skipped`,
		rec.ID, rec.Cluster, rec.StartedAt, string(rec.State),
		rec.Total, rec.Passed, rec.Failed, rec.Skipped, rec.LogDir)
	if err != nil {
		return fmt.Errorf("record run %s: %w", rec.ID, err)
	}
	return nil
}

// RecordInvocations inserts the invocations of a run in one transaction.
func (s *Store) RecordInvocations(ctx context.Context, runID string, invs []runner.Invocation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO invocations (run_id, suite, name, node, started_at, exit_code, class, log_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()
	for _, inv := range invs {
		if _, err := stmt.ExecContext(ctx, runID, inv.Suite, inv.Name, inv.Node,
			inv.StartedAt, inv.ExitCode, string(inv.Class), inv.LogPath); err != nil {
			return fmt.Errorf("record invocation %s/%s: %w", inv.Suite, inv.Name, err)
		}
	}
	return tx.Commit()
}

// LatestRun returns the most recent run for a cluster, or sql.ErrNoRows.
func (s *Store) LatestRun(ctx context.Context, clusterName string) (RunRecord, error) {
	var rec RunRecord
	var state string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, cluster, started_at, state, total, passed, failed, skipped, log_dir
		FROM runs WHERE cluster = ? ORDER BY started_at DESC LIMIT 1`, clusterName).
		Scan(&rec.ID, &rec.Cluster, &rec.StartedAt, &state,
			&rec.Total, &rec.Passed, &rec.Failed, &rec.Skipped, &rec.LogDir)
	if err != nil {
		return rec, err
	}
	rec.State = api.ClusterState(state)
	return rec, nil
}

// InvocationRecord is one persisted test invocation.
type InvocationRecord struct {
	RunID     string
	Suite     string
	Name      string
	Node      string
	StartedAt time.Time
	ExitCode  int
	Class     api.Classification
	LogPath   string
}

// InvocationsForRun returns every invocation recorded for a run, in
// insertion order.
func (s *Store) InvocationsForRun(ctx context.Context, runID string) ([]InvocationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, suite, name, node, started_at, exit_code, class, log_path
		FROM invocations WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("query invocations for %s: %w", runID, err)
	}
	defer rows.Close()
	var out []InvocationRecord
	for rows.Next() {
		var rec InvocationRecord
		var class string
		if err := rows.Scan(&rec.RunID, &rec.Suite, &rec.Name, &rec.Node,
			&rec.StartedAt, &rec.ExitCode, &class, &rec.LogPath); err != nil {
			return nil, err
		}
		rec.Class = api.Classification(class)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) Close() error { return s.db.Close() }
