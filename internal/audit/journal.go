// internal/audit/journal.go
//
// Append-only activity journal. Every routed block, permission decision,
// state transition and queue event lands here as one JSON line, so the
// full session can be replayed after the fact.

package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Action classifies a journal entry.
type Action string

const (
	ActionTurn        Action = "turn"
	ActionRoute       Action = "route"
	ActionDegraded    Action = "parse_degraded"
	ActionToolCall    Action = "tool_call"
	ActionToolResult  Action = "tool_result"
	ActionCorrection  Action = "correction"
	ActionGrant       Action = "permission_grant"
	ActionDenial      Action = "permission_denial"
	ActionTransition  Action = "state_transition"
	ActionNudge       Action = "nudge"
	ActionQueue       Action = "queue"
	ActionBackendFail Action = "backend_failure"
)

// Entry is a single journalled event.
type Entry struct {
	ID      string            `json:"id"`
	At      time.Time         `json:"at"`
	Action  Action            `json:"action"`
	Actor   string            `json:"actor,omitempty"`
	Summary string            `json:"summary"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Journal persists entries to a JSONL file.
type Journal struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// New creates a journal that appends to the provided path.
func New(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &Journal{path: path, now: time.Now}, nil
}

// Path returns the file backing this journal.
func (j *Journal) Path() string {
	if j == nil {
		return ""
	}
	return j.path
}

// Record appends a single entry. Failures are swallowed; the journal is
// an observability sink and must never disturb the session.
func (j *Journal) Record(action Action, actor, summary string, fields map[string]string) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	entry := Entry{
		ID:      uuid.NewString(),
		At:      j.now().UTC(),
		Action:  action,
		Actor:   actor,
		Summary: summary,
		Fields:  fields,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer file.Close()
	_, _ = file.Write(append(data, '\n'))
}

// Tail returns up to maxEntries of the most recent entries, oldest first.
func (j *Journal) Tail(maxEntries int) []Entry {
	if j == nil || maxEntries <= 0 {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	file, err := os.Open(j.path)
	if err != nil {
		return nil
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if len(entries) > maxEntries {
		entries = entries[len(entries)-maxEntries:]
	}
	return entries
}
