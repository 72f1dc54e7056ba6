package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndComplete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id, err := s.RecordStart(ctx, "migrate", "db1.dbo.users", "public.users")
	if err != nil {
		t.Fatalf("RecordStart: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty run id")
	}

	run, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if run.Status != "running" {
		t.Errorf("status = %q, want %q", run.Status, "running")
	}
	if run.FinishedAt != nil {
		t.Error("expected nil finished_at for running run")
	}

	if err := s.Complete(ctx, id, 1500, 2, ""); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	run, err = s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get after complete: %v", err)
	}
	if run.Status != "ok" {
		t.Errorf("status = %q, want %q", run.Status, "ok")
	}
	if run.RowsInserted != 1500 || run.Batches != 2 {
		t.Errorf("got %d rows / %d batches, want 1500 / 2", run.RowsInserted, run.Batches)
	}
	if run.FinishedAt == nil {
		t.Error("expected finished_at to be set")
	}
}

func TestCompleteWithError(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id, err := s.RecordStart(ctx, "sync", "db1.dbo.orders", "public.orders")
	if err != nil {
		t.Fatalf("RecordStart: %v", err)
	}
	if err := s.Complete(ctx, id, 0, 0, "connection reset"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	run, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if run.Status != "error" {
		t.Errorf("status = %q, want %q", run.Status, "error")
	}
	if run.Error != "connection reset" {
		t.Errorf("error = %q, want %q", run.Error, "connection reset")
	}
}

func TestGetUnknownRun(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "no-such-run")
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestCompleteUnknownRun(t *testing.T) {
	s := openTestStore(t)
	err := s.Complete(context.Background(), "no-such-run", 0, 0, "")
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for i := 0; i < 3; i++ {
		if _, err := s.RecordStart(ctx, "sync", "src", "tgt"); err != nil {
			t.Fatalf("RecordStart: %v", err)
		}
	}

	runs, err := s.List(ctx, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	for _, r := range runs {
		if r.Kind != "sync" || r.Status != "running" {
			t.Errorf("unexpected run: %+v", r)
		}
	}
}
