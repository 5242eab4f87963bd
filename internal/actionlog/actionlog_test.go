package actionlog

import (
	"path/filepath"
	"testing"
	"time"

	"go.etcd.io/bbolt"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "log.db"), 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	l, err := New(db)
	if err != nil {
		t.Fatalf("new log: %v", err)
	}
	return l
}

func TestRecordAndRecent(t *testing.T) {
	l := openTestLog(t)

	l.Record("SceneApplied", "Morning (abc) on 10.0.0.1")
	l.RecordBy("ScheduleTriggered", "Window 'work hours'", "automation-scheduler")
	l.Record("SceneApplyFailed", "boom")

	entries, err := l.Recent(2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	// Newest first.
	if entries[0].Kind != "SceneApplyFailed" || entries[1].Kind != "ScheduleTriggered" {
		t.Fatalf("unexpected order: %s, %s", entries[0].Kind, entries[1].Kind)
	}
	if entries[1].PerformedBy != "automation-scheduler" {
		t.Fatalf("performed_by: %q", entries[1].PerformedBy)
	}
	if entries[0].At.IsZero() {
		t.Fatalf("timestamp not set")
	}

	all, err := l.Recent(10)
	if err != nil {
		t.Fatalf("recent all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
}
