package audit

import (
	"path/filepath"
	"testing"
)

func TestRecordAndTail(t *testing.T) {
	dir := t.TempDir()
	journal, err := New(filepath.Join(dir, "journal", "session.jsonl"))
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	for i := 0; i < 5; i++ {
		journal.Record(ActionTurn, "Primary", "turn appended", map[string]string{"seq": string(rune('0' + i))})
	}
	entries := journal.Tail(3)
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}
	for _, e := range entries {
		if e.ID == "" {
			t.Fatalf("entry missing id")
		}
		if e.Action != ActionTurn {
			t.Fatalf("entry action = %q, want %q", e.Action, ActionTurn)
		}
	}
}

func TestTailMissingFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	journal, err := New(filepath.Join(dir, "session.jsonl"))
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	if entries := journal.Tail(10); entries != nil {
		t.Fatalf("expected nil entries, got %d", len(entries))
	}
}
