package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/dokzlo13/lightpd/internal/db"
)

func openLedger(t *testing.T) *Ledger {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return New(database.DB)
}

func TestLedger_AppendAndQuery(t *testing.T) {
	l := openLedger(t)

	if err := l.AppendWithSource(EventProgramAccepted, "p1", "intake", map[string]any{"actions": 2}); err != nil {
		t.Fatalf("AppendWithSource() error = %v", err)
	}
	if err := l.AppendWithSource(EventProgramExecuted, "p1", "", nil); err != nil {
		t.Fatalf("AppendWithSource() error = %v", err)
	}
	if err := l.AppendWithSource(EventTimeSynced, "", "", map[string]any{"epoch": 1700000000}); err != nil {
		t.Fatalf("AppendWithSource() error = %v", err)
	}

	history, err := l.GetByProgram("p1")
	if err != nil {
		t.Fatalf("GetByProgram() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("GetByProgram() len = %d, want 2", len(history))
	}
	if history[0].EventType != EventProgramAccepted || history[1].EventType != EventProgramExecuted {
		t.Errorf("history order = %s, %s", history[0].EventType, history[1].EventType)
	}
	if history[0].Source != "intake" {
		t.Errorf("Source = %q, want intake", history[0].Source)
	}
	// JSON numbers come back as float64
	if history[0].Payload["actions"] != float64(2) {
		t.Errorf("Payload = %v", history[0].Payload)
	}
	if history[1].Payload != nil {
		t.Errorf("nil payload came back as %v", history[1].Payload)
	}

	synced, err := l.GetByType(EventTimeSynced, 10)
	if err != nil {
		t.Fatalf("GetByType() error = %v", err)
	}
	if len(synced) != 1 || synced[0].ProgramID != "" {
		t.Errorf("GetByType() = %+v", synced)
	}
}

func TestLedger_DeleteOlderThan(t *testing.T) {
	l := openLedger(t)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now.Add(-48 * time.Hour) }
	l.AppendWithSource(EventProgramExecuted, "old", "", nil)
	l.now = func() time.Time { return now }
	l.AppendWithSource(EventProgramExecuted, "new", "", nil)

	deleted, err := l.DeleteOlderThan(24 * time.Hour)
	if err != nil {
		t.Fatalf("DeleteOlderThan() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	left, _ := l.GetByTimeRange(now.Add(-72*time.Hour), now, 10)
	if len(left) != 1 || left[0].ProgramID != "new" {
		t.Errorf("remaining = %+v", left)
	}
}

func TestLedger_NilDiscards(t *testing.T) {
	var l *Ledger
	if err := l.AppendWithSource(EventProgramFailed, "x", "", map[string]any{"error": "boom"}); err != nil {
		t.Errorf("nil AppendWithSource() error = %v", err)
	}
}
