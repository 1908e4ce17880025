// internal/permission/gate.go
//
// Capability gate for side-effecting operations. Every tool dispatch
// passes through here; the gate decides directly from remembered grants
// where it can and otherwise defers to the prompter (the operator).

package permission

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"
)

// Class names a guarded capability.
type Class string

const (
	ClassDiskRead    Class = "disk.read"
	ClassDiskWrite   Class = "disk.write"
	ClassNetLocal    Class = "network.local"
	ClassNetInternet Class = "network.internet"
	ClassProcessExec Class = "process.exec"
	ClassCamera      Class = "camera"
	ClassMicrophone  Class = "microphone"
)

// Mode selects how the gate treats repeated requests.
type Mode string

const (
	// ModeStrict prompts on every request.
	ModeStrict Mode = "strict"
	// ModeMemoized prompts once per class and scope pair and remembers
	// the answer for the rest of the session.
	ModeMemoized Mode = "memoized"
	// ModePlan scopes remembered grants to the lifetime of an approved
	// plan; BeginPlan clears them.
	ModePlan Mode = "plan"
)

// ParseMode resolves a mode name, defaulting to memoized.
func ParseMode(name string) Mode {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "strict":
		return ModeStrict
	case "plan":
		return ModePlan
	default:
		return ModeMemoized
	}
}

// Durability describes how long a grant holds.
type Durability string

const (
	DurabilityOnce    Durability = "once"
	DurabilitySession Durability = "session"
	DurabilityGlobal  Durability = "global"
)

// Grant is a remembered authorization.
type Grant struct {
	Class      Class
	Scope      string
	Durability Durability
}

// Request is what the prompter sees when the operator must decide.
type Request struct {
	Class  Class
	Scope  string
	Reason string
}

// Response is the operator's decision.
type Response struct {
	Granted    bool
	Durability Durability
}

// Prompter asks the operator for a decision. Implementations block until
// one is available.
type Prompter interface {
	Ask(req Request) Response
}

// PrompterFunc adapts a function to the Prompter interface.
type PrompterFunc func(req Request) Response

func (f PrompterFunc) Ask(req Request) Response { return f(req) }

// ErrDenied is returned by Check when the request was refused.
var ErrDenied = errors.New("permission: denied")

// Sink receives grant and denial notifications for journalling.
type Sink interface {
	Record(granted bool, grant Grant)
}

// Gate evaluates capability requests.
type Gate struct {
	mu            sync.Mutex
	mode          Mode
	allowAll      bool
	workspaceRoot string
	grants        map[Class][]Grant
	prompter      Prompter
	sink          Sink
}

// NewGate creates a gate rooted at workspaceRoot. A nil prompter denies
// everything it would otherwise have to ask about.
func NewGate(mode Mode, workspaceRoot string, allowAll bool, prompter Prompter) *Gate {
	return &Gate{
		mode:          mode,
		allowAll:      allowAll,
		workspaceRoot: filepath.Clean(workspaceRoot),
		grants:        make(map[Class][]Grant),
		prompter:      prompter,
	}
}

// SetSink installs the journalling sink.
func (g *Gate) SetSink(sink Sink) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sink = sink
}

// BeginPlan clears plan-scoped grants. Call it when a new plan is
// approved; only meaningful in plan mode.
func (g *Gate) BeginPlan() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.mode == ModePlan {
		g.grants = make(map[Class][]Grant)
	}
}

// Check authorizes one operation. It returns nil when permitted and
// ErrDenied (wrapped with context) otherwise. Paths for write and exec
// scopes must fall inside the workspace root; that rule holds in every
// mode, the global allow switch included.
func (g *Gate) Check(class Class, scope, reason string) error {
	if escapesWorkspace(class, scope, g.workspaceRoot) {
		g.record(false, Grant{Class: class, Scope: scope})
		return errWithScope(class, scope, "outside workspace root")
	}

	g.mu.Lock()
	if g.allowAll {
		g.mu.Unlock()
		g.record(true, Grant{Class: class, Scope: scope, Durability: DurabilityGlobal})
		return nil
	}
	if g.mode != ModeStrict {
		for _, grant := range g.grants[class] {
			if scopeCovers(grant.Scope, scope) {
				g.mu.Unlock()
				return nil
			}
		}
	}
	prompter := g.prompter
	g.mu.Unlock()

	if prompter == nil {
		g.record(false, Grant{Class: class, Scope: scope})
		return errWithScope(class, scope, "no prompter available")
	}

	resp := prompter.Ask(Request{Class: class, Scope: scope, Reason: reason})
	grant := Grant{Class: class, Scope: scope, Durability: resp.Durability}
	if !resp.Granted {
		g.record(false, grant)
		return errWithScope(class, scope, "refused by operator")
	}

	g.mu.Lock()
	switch resp.Durability {
	case DurabilityGlobal:
		// Allow everything for the rest of the session. The workspace
		// jail above still applies to every later request.
		g.allowAll = true
	case DurabilitySession:
		if g.mode != ModeStrict {
			g.grants[class] = append(g.grants[class], grant)
		}
	}
	g.mu.Unlock()

	g.record(true, grant)
	return nil
}

func (g *Gate) record(granted bool, grant Grant) {
	g.mu.Lock()
	sink := g.sink
	g.mu.Unlock()
	if sink != nil {
		sink.Record(granted, grant)
	}
}

func errWithScope(class Class, scope, detail string) error {
	return &DeniedError{Class: class, Scope: scope, Detail: detail}
}

// DeniedError carries the refused request. It unwraps to ErrDenied.
type DeniedError struct {
	Class  Class
	Scope  string
	Detail string
}

func (e *DeniedError) Error() string {
	return "permission: " + string(e.Class) + " denied for " + e.Scope + ": " + e.Detail
}

func (e *DeniedError) Unwrap() error { return ErrDenied }

// scopeCovers reports whether a remembered scope covers a requested one.
// Identical scopes match; a path-like scope also covers everything under
// it. A grant on a directory therefore holds for its files, but a grant
// on one file never spills over to a sibling.
func scopeCovers(granted, requested string) bool {
	if granted == requested {
		return true
	}
	if granted == "" || requested == "" {
		return false
	}
	return strings.HasPrefix(requested, strings.TrimSuffix(granted, "/")+"/")
}

// escapesWorkspace reports whether a write or exec scope points outside
// the workspace root. Read scopes and non-path scopes are exempt.
func escapesWorkspace(class Class, scope, root string) bool {
	if class != ClassDiskWrite && class != ClassProcessExec {
		return false
	}
	if scope == "" {
		return false
	}
	abs := scope
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, abs)
	}
	abs = filepath.Clean(abs)
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return true
	}
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
