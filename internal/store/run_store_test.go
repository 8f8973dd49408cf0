package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"nbodyrun/internal/runs"
)

func testStore(t *testing.T) *RunStore {
	t.Helper()
	s, err := NewRunStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewRunStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecord(id string, code int) *runs.Record {
	started := time.Now().UTC().Truncate(time.Millisecond)
	status := runs.StatusSuccess
	message := fmt.Sprintf("Simulation completed successfully (code: %d)", code)
	if code != 0 {
		status = runs.StatusError
		message = fmt.Sprintf("Simulation failed (code: %d)", code)
	}
	return &runs.Record{
		ID:          id,
		Engine:      "process",
		InputPath:   "/data/input.nbody_comp",
		OutputDir:   "/data/results",
		ExitCode:    code,
		Status:      status,
		Message:     message,
		OutputFiles: []string{"/data/results/positions.out", "/data/results/pk.000"},
		StartedAt:   started,
		FinishedAt:  started.Add(2 * time.Second),
		DurationMs:  2000,
	}
}

func TestSaveAndGetRun(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	want := testRecord("run-1", 0)
	if err := s.SaveRun(ctx, want); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := testStore(t)

	_, err := s.GetRun(context.Background(), "nope")
	if !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("error = %v, want ErrRunNotFound", err)
	}
}

func TestGetRunByPrefix(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, id := range []string{"aaaa1111", "aaaa2222", "bbbb3333"} {
		if err := s.SaveRun(ctx, testRecord(id, 0)); err != nil {
			t.Fatalf("SaveRun %s: %v", id, err)
		}
	}

	got, err := s.GetRun(ctx, "bbbb")
	if err != nil {
		t.Fatalf("GetRun by prefix: %v", err)
	}
	if got.ID != "bbbb3333" {
		t.Errorf("ID = %q, want bbbb3333", got.ID)
	}

	if _, err := s.GetRun(ctx, "aaaa"); err == nil {
		t.Fatal("expected ambiguous prefix error")
	}

	// An exact id wins even when it prefixes another.
	if err := s.SaveRun(ctx, testRecord("aaaa", 0)); err != nil {
		t.Fatalf("SaveRun aaaa: %v", err)
	}
	got, err = s.GetRun(ctx, "aaaa")
	if err != nil {
		t.Fatalf("GetRun exact: %v", err)
	}
	if got.ID != "aaaa" {
		t.Errorf("ID = %q, want aaaa", got.ID)
	}
}

func TestSaveRunReplaces(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rec := testRecord("run-1", 0)
	if err := s.SaveRun(ctx, rec); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	rec.Message = "updated"
	if err := s.SaveRun(ctx, rec); err != nil {
		t.Fatalf("SaveRun again: %v", err)
	}

	all, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("got %d rows, want 1", len(all))
	}
	if all[0].Message != "updated" {
		t.Errorf("message = %q", all[0].Message)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 3; i++ {
		rec := testRecord(fmt.Sprintf("run-%d", i), 0)
		rec.StartedAt = base.Add(time.Duration(i) * time.Minute)
		rec.FinishedAt = rec.StartedAt.Add(time.Second)
		if err := s.SaveRun(ctx, rec); err != nil {
			t.Fatalf("SaveRun: %v", err)
		}
	}

	recs, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d rows, want 3", len(recs))
	}
	for i, id := range []string{"run-2", "run-1", "run-0"} {
		if recs[i].ID != id {
			t.Errorf("recs[%d] = %q, want %q", i, recs[i].ID, id)
		}
	}

	limited, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns limited: %v", err)
	}
	if len(limited) != 2 || limited[0].ID != "run-2" {
		t.Errorf("limited = %v", limited)
	}
}

func TestListRunsByStatus(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i, code := range []int{0, 2, 0, 137} {
		if err := s.SaveRun(ctx, testRecord(fmt.Sprintf("run-%d", i), code)); err != nil {
			t.Fatalf("SaveRun: %v", err)
		}
	}

	failed, err := s.ListRunsByStatus(ctx, runs.StatusError, 0)
	if err != nil {
		t.Fatalf("ListRunsByStatus: %v", err)
	}
	if len(failed) != 2 {
		t.Fatalf("got %d failed runs, want 2", len(failed))
	}
	for _, rec := range failed {
		if rec.Status != runs.StatusError {
			t.Errorf("run %s status = %q", rec.ID, rec.Status)
		}
	}
}

func TestListRunsByInput(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := testRecord("run-a", 0)
	b := testRecord("run-b", 0)
	b.InputPath = "/data/other.nbody_comp"
	for _, rec := range []*runs.Record{a, b} {
		if err := s.SaveRun(ctx, rec); err != nil {
			t.Fatalf("SaveRun: %v", err)
		}
	}

	recs, err := s.ListRunsByInput(ctx, "/data/other.nbody_comp", 0)
	if err != nil {
		t.Fatalf("ListRunsByInput: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "run-b" {
		t.Errorf("recs = %v", recs)
	}
}

func TestStats(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i, code := range []int{0, 0, 0, 1} {
		rec := testRecord(fmt.Sprintf("run-%d", i), code)
		if i == 3 {
			rec.Engine = "script"
		}
		if err := s.SaveRun(ctx, rec); err != nil {
			t.Fatalf("SaveRun: %v", err)
		}
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalRuns != 4 || stats.Successful != 3 || stats.Failed != 1 {
		t.Errorf("counts = %+v", stats)
	}
	if stats.SuccessRate != 0.75 {
		t.Errorf("success rate = %f", stats.SuccessRate)
	}
	if stats.ByEngine["process"] != 3 || stats.ByEngine["script"] != 1 {
		t.Errorf("by engine = %v", stats.ByEngine)
	}
	if stats.AvgDurationMs != 2000 {
		t.Errorf("avg duration = %f", stats.AvgDurationMs)
	}
}

func TestStatsEmpty(t *testing.T) {
	s := testStore(t)

	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalRuns != 0 || stats.SuccessRate != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestPruneOlderThan(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	old := testRecord("run-old", 0)
	old.StartedAt = time.Now().UTC().AddDate(0, 0, -40)
	old.FinishedAt = old.StartedAt.Add(time.Second)
	recent := testRecord("run-recent", 0)
	for _, rec := range []*runs.Record{old, recent} {
		if err := s.SaveRun(ctx, rec); err != nil {
			t.Fatalf("SaveRun: %v", err)
		}
	}

	n, err := s.PruneOlderThan(ctx, 30)
	if err != nil {
		t.Fatalf("PruneOlderThan: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d rows, want 1", n)
	}

	recs, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "run-recent" {
		t.Errorf("remaining = %v", recs)
	}

	if _, err := s.PruneOlderThan(ctx, 0); err == nil {
		t.Error("expected error for non-positive retention")
	}
}

func TestNewRunStoreCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "runs.db")

	s, err := NewRunStore(path)
	if err != nil {
		t.Fatalf("NewRunStore: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Errorf("directory not created: %v", err)
	}
	if s.Path() != path {
		t.Errorf("Path() = %q", s.Path())
	}
}
