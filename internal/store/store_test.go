package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/internal/runner"
	"github.com/idoudali/ai-hyperscaler-on-workstation-sub009/pkg/api"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "history", "runs.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndLatestRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := RunRecord{
		ID: "20260825-100000", Cluster: "hpc-test",
		StartedAt: time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC),
		State:     api.StateStopped, Total: 5, Passed: 5, LogDir: "/var/log/runs/a",
	}
	newer := RunRecord{
		ID: "20260825-110000", Cluster: "hpc-test",
		StartedAt: time.Date(2026, 8, 25, 11, 0, 0, 0, time.UTC),
		State:     api.StateFailed, Total: 5, Passed: 3, Failed: 2, LogDir: "/var/log/runs/b",
	}
	if err := s.RecordRun(ctx, older); err != nil {
		t.Fatalf("record older: %v", err)
	}
	if err := s.RecordRun(ctx, newer); err != nil {
		t.Fatalf("record newer: %v", err)
	}

	got, err := s.LatestRun(ctx, "hpc-test")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got.ID != newer.ID || got.Failed != 2 || got.State != api.StateFailed {
		t.Errorf("unexpected latest run: %+v", got)
	}
}

func TestRecordRunUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec := RunRecord{ID: "r1", Cluster: "c", StartedAt: time.Now().UTC(), State: api.StateRunning}
	if err := s.RecordRun(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}
	rec.State = api.StateStopped
	rec.Total = 3
	rec.Passed = 3
	if err := s.RecordRun(ctx, rec); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := s.LatestRun(ctx, "c")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got.State != api.StateStopped || got.Total != 3 {
		t.Errorf("upsert did not apply: %+v", got)
	}
}

func TestLatestRunNoRows(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.LatestRun(context.Background(), "unknown"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestRecordInvocations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.RecordRun(ctx, RunRecord{ID: "r1", Cluster: "c", StartedAt: time.Now().UTC(), State: api.StateStopped}); err != nil {
		t.Fatalf("record run: %v", err)
	}
	invs := []runner.Invocation{
		{Suite: "storage", Name: "test-mount.sh", StartedAt: time.Now().UTC(), ExitCode: 0, Class: api.ClassPass, LogPath: "/l/1.log"},
		{Suite: "storage", Name: "test-quota.sh", Node: "cmp-01", StartedAt: time.Now().UTC(), ExitCode: 1, Class: api.ClassFail, LogPath: "/l/2.log"},
	}
	if err := s.RecordInvocations(ctx, "r1", invs); err != nil {
		t.Fatalf("record invocations: %v", err)
	}

	got, err := s.InvocationsForRun(ctx, "r1")
	if err != nil {
		t.Fatalf("query invocations: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 invocation rows, got %d", len(got))
	}
	if got[0].Name != "test-mount.sh" || got[0].Class != api.ClassPass {
		t.Errorf("passing invocation not persisted: %+v", got[0])
	}
	if got[1].Node != "cmp-01" || got[1].Class != api.ClassFail || got[1].LogPath != "/l/2.log" {
		t.Errorf("failing invocation wrong: %+v", got[1])
	}
}

func TestInvocationsForUnknownRun(t *testing.T) {
	s := newTestStore(t)
	got, err := s.InvocationsForRun(context.Background(), "nope")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no rows, got %d", len(got))
	}
}
