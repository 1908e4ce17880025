// internal/session/session.go
//
// Core conversation types shared by every other package: roles, turns,
// and the append-only turn log that backs a running session.

package session

import (
	"strings"
	"sync"
	"time"
)

// Role identifies a conversation participant.
type Role string

const (
	RolePrimary     Role = "Primary"
	RoleSupervisor  Role = "Supervisor"
	RoleOperator    Role = "Operator"
	RoleRouter      Role = "Router"
	RoleCoordinator Role = "Coordinator"
)

// Roles lists every known role in a stable order.
func Roles() []Role {
	return []Role{RolePrimary, RoleSupervisor, RoleOperator, RoleRouter, RoleCoordinator}
}

// ParseRole resolves a role name case-insensitively.
func ParseRole(name string) (Role, bool) {
	trimmed := strings.TrimSpace(name)
	for _, r := range Roles() {
		if strings.EqualFold(string(r), trimmed) {
			return r, true
		}
	}
	return "", false
}

// Kind distinguishes organic turns from the synthetic ones the runtime
// injects. Synthetic turns never count toward passivity tracking.
type Kind string

const (
	KindMessage    Kind = "message"
	KindReminder   Kind = "reminder"
	KindCorrection Kind = "correction"
	KindResult     Kind = "result"
	KindNudge      Kind = "nudge"
	KindPlan       Kind = "plan"
)

// Turn is a single utterance in the session log. Turns are immutable
// once appended; Seq is unique and monotonically increasing.
type Turn struct {
	Seq       int64
	Role      Role
	Kind      Kind
	Raw       string
	CreatedAt time.Time
}

// Synthetic reports whether the turn was injected by the runtime rather
// than produced by a participant.
func (t Turn) Synthetic() bool {
	return t.Kind != KindMessage
}

// Log is the append-only record of a session's turns.
type Log struct {
	mu    sync.Mutex
	turns []Turn
	seq   int64
	now   func() time.Time
}

// NewLog creates an empty session log.
func NewLog() *Log {
	return &Log{now: time.Now}
}

// Append records a new turn and returns it with its sequence number and
// timestamp filled in.
func (l *Log) Append(role Role, kind Kind, raw string) Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	turn := Turn{
		Seq:       l.seq,
		Role:      role,
		Kind:      kind,
		Raw:       raw,
		CreatedAt: l.now().UTC(),
	}
	l.turns = append(l.turns, turn)
	return turn
}

// Len returns the number of recorded turns.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.turns)
}

// Recent returns up to n of the most recent turns, oldest first.
func (l *Log) Recent(n int) []Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || len(l.turns) == 0 {
		return nil
	}
	start := len(l.turns) - n
	if start < 0 {
		start = 0
	}
	out := make([]Turn, len(l.turns)-start)
	copy(out, l.turns[start:])
	return out
}

// Excerpt formats the most recent turns with role headers, suitable for
// handing another participant as review context.
func (l *Log) Excerpt(n int) string {
	turns := l.Recent(n)
	if len(turns) == 0 {
		return ""
	}
	var b strings.Builder
	for _, t := range turns {
		b.WriteString("[")
		b.WriteString(string(t.Role))
		b.WriteString("] ")
		b.WriteString(strings.TrimSpace(t.Raw))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
