package jobstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-podcast/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openSQLite(t *testing.T, cfg config.JobStoreConfig) *Store {
	t.Helper()
	cfg.Driver = "sqlite"
	cfg.Path = filepath.Join(t.TempDir(), "jobs.db")
	js, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open job store: %v", err)
	}
	t.Cleanup(func() { _ = js.Close() })
	return js
}

func TestOpenNone(t *testing.T) {
	js, err := Open(context.Background(), config.JobStoreConfig{Driver: "none"}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if js.Enabled() {
		t.Fatal("expected disabled store")
	}
	if err := js.Save(context.Background(), Record{ID: "j"}, ""); err != nil {
		t.Fatalf("save on disabled store: %v", err)
	}
	if _, ok, err := js.Job(context.Background(), "j"); ok || err != nil {
		t.Fatalf("expected nothing, got ok=%v err=%v", ok, err)
	}
	if _, err := Open(context.Background(), config.JobStoreConfig{Driver: "mysql"}, newLogger()); err == nil {
		t.Fatal("expected unknown driver error")
	}
}

func TestSaveAndQuery(t *testing.T) {
	js := openSQLite(t, config.JobStoreConfig{})
	ctx := context.Background()

	rec := Record{ID: "job-1", SessionID: "s1", Status: "pending", Lesson: 1, Title: "Intro"}
	if err := js.Save(ctx, rec, "created"); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec.Status = "completed"
	rec.Progress = 100
	rec.Payload = []byte(`{"ok":true}`)
	if err := js.Save(ctx, rec, "done"); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := js.Job(ctx, "job-1")
	if err != nil || !ok {
		t.Fatalf("job lookup: ok=%v err=%v", ok, err)
	}
	if got.Status != "completed" || got.Progress != 100 || string(got.Payload) != `{"ok":true}` {
		t.Fatalf("unexpected record %+v", got)
	}
	if got.Title != "Intro" || got.Lesson != 1 {
		t.Fatalf("unexpected metadata %+v", got)
	}

	events, err := js.Events(ctx, "job-1", 10)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 2 || events[0].Status != "pending" || events[1].Message != "done" {
		t.Fatalf("unexpected events %+v", events)
	}

	if err := js.Save(ctx, Record{ID: "job-2", SessionID: "s1", Status: "pending", Lesson: 2}, ""); err != nil {
		t.Fatalf("save: %v", err)
	}
	jobs, err := js.SessionJobs(ctx, "s1")
	if err != nil {
		t.Fatalf("session jobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 session jobs, got %d", len(jobs))
	}
	if _, ok, _ := js.Job(ctx, "missing"); ok {
		t.Fatal("expected missing job")
	}
}

func TestPruneByDaysAndCount(t *testing.T) {
	js := openSQLite(t, config.JobStoreConfig{RetentionDays: 1, MaxJobs: 1})
	ctx := context.Background()

	js.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := js.Save(ctx, Record{ID: "old", SessionID: "s", Status: "completed"}, ""); err != nil {
		t.Fatalf("save: %v", err)
	}

	js.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	for _, id := range []string{"mid", "new"} {
		if err := js.Save(ctx, Record{ID: id, SessionID: "s", Status: "completed"}, ""); err != nil {
			t.Fatalf("save: %v", err)
		}
		js.clock = func() time.Time { return time.Date(2025, 1, 3, 1, 0, 0, 0, time.UTC) }
	}

	removed, err := js.Prune(ctx)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	if _, ok, _ := js.Job(ctx, "old"); ok {
		t.Fatal("expected old job pruned by age")
	}
	if _, ok, _ := js.Job(ctx, "mid"); ok {
		t.Fatal("expected mid job pruned by count")
	}
	if _, ok, _ := js.Job(ctx, "new"); !ok {
		t.Fatal("expected newest job kept")
	}
	events, err := js.Events(ctx, "old", 10)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected orphaned events removed, got %d", len(events))
	}
}

func TestRebind(t *testing.T) {
	js := &Store{dialect: "postgres"}
	if got := js.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Fatalf("unexpected rebind %q", got)
	}
	js.dialect = "sqlite"
	if got := js.rebind("a = ?"); got != "a = ?" {
		t.Fatalf("unexpected rebind %q", got)
	}
}

func TestFractionalProgressSurvives(t *testing.T) {
	js := openSQLite(t, config.JobStoreConfig{})
	ctx := context.Background()

	if err := js.Save(ctx, Record{ID: "job-f", SessionID: "s", Status: "synthesizing", Progress: 46.25}, "chunk 2/6"); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok, err := js.Job(ctx, "job-f")
	if err != nil || !ok {
		t.Fatalf("job lookup: ok=%v err=%v", ok, err)
	}
	if got.Progress != 46.25 {
		t.Fatalf("expected progress 46.25, got %v", got.Progress)
	}
	events, err := js.Events(ctx, "job-f", 10)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 || events[0].Progress != 46.25 {
		t.Fatalf("unexpected events %+v", events)
	}
}
