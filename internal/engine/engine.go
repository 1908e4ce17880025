// internal/engine/engine.go
//
// Tool-call resolution. A turn that declares tool calls enters a bounded
// loop: canonicalize, authorize, execute, feed results back to the
// model, repeat until the model produces plain text or the iteration
// budget runs out. Unknown names get a bounded number of corrective
// turns before the create-missing-tool plan is forced.

package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ajankowski/colloquy/internal/audit"
	"github.com/ajankowski/colloquy/internal/backend"
	"github.com/ajankowski/colloquy/internal/permission"
	"github.com/ajankowski/colloquy/internal/session"
	"github.com/ajankowski/colloquy/internal/toolcall"
	"github.com/ajankowski/colloquy/internal/tools"
)

// DefaultMaxIterations bounds one resolution episode.
const DefaultMaxIterations = 15

// Logger is the minimal logging dependency.
type Logger interface {
	Printf(format string, args ...any)
}

// Outcome summarizes one resolution episode.
type Outcome struct {
	// FinalText is the model's last output with no tool calls in it.
	// Empty when the episode stalled or the backend went away.
	FinalText string
	// Iterations actually spent.
	Iterations int
	// Stalled is set when the iteration budget ran out with calls
	// still pending. The watchdog turns this into the stalled state.
	Stalled bool
	// BackendLost is set when the backend failed mid-episode; the
	// episode ends quietly and the conversation continues.
	BackendLost bool
	// Turns are the synthetic turns the engine appended, in order.
	Turns []session.Turn
}

// Engine resolves tool calls declared in model output.
type Engine struct {
	registry      *tools.Registry
	gate          *permission.Gate
	corrections   *toolcall.CorrectionState
	client        backend.Client
	log           *session.Log
	journal       *audit.Journal
	logger        Logger
	maxIterations int
	system        string
	emit          func(session.Turn)
}

// Options configures an Engine.
type Options struct {
	Registry       *tools.Registry
	Gate           *permission.Gate
	Client         backend.Client
	Log            *session.Log
	Journal        *audit.Journal
	Logger         Logger
	MaxIterations  int
	MaxCorrections int
	// System is the system prompt used for feedback completions.
	System string
	// Emit, when set, observes every synthetic turn as it is appended.
	Emit func(session.Turn)
}

// New creates an engine.
func New(opts Options) *Engine {
	maxIter := opts.MaxIterations
	if maxIter < 1 {
		maxIter = DefaultMaxIterations
	}
	return &Engine{
		registry:      opts.Registry,
		gate:          opts.Gate,
		corrections:   toolcall.NewCorrectionState(opts.MaxCorrections),
		client:        opts.Client,
		log:           opts.Log,
		journal:       opts.Journal,
		logger:        opts.Logger,
		maxIterations: maxIter,
		system:        opts.System,
		emit:          opts.Emit,
	}
}

// Resolve runs one episode starting from the given model turn. The
// returned error is reserved for runtime faults; conversational
// failures (denials, unknown tools, backend loss) are folded into the
// outcome.
func (e *Engine) Resolve(ctx context.Context, turn session.Turn) (Outcome, error) {
	var outcome Outcome
	content := turn.Raw
	messages := []backend.Message{{Role: backend.RoleAssistant, Content: content}}

	for outcome.Iterations < e.maxIterations {
		decls := toolcall.Parse(content)
		if len(decls) == 0 {
			outcome.FinalText = content
			return outcome, nil
		}
		outcome.Iterations++

		feedback := make([]string, 0, len(decls))
		for _, decl := range decls {
			text, kind := e.handleDeclaration(ctx, decl)
			if text == "" {
				continue
			}
			appended := e.append(session.RoleRouter, kind, text)
			outcome.Turns = append(outcome.Turns, appended)
			feedback = append(feedback, text)
		}

		messages = append(messages, backend.Message{
			Role:    backend.RoleUser,
			Content: strings.Join(feedback, "\n\n"),
		})
		next, err := e.client.Complete(ctx, backend.Request{
			System:   e.system,
			Messages: messages,
		})
		if err != nil {
			e.journal.Record(audit.ActionBackendFail, string(session.RoleRouter), err.Error(), nil)
			if e.logger != nil {
				e.logger.Printf("engine: backend lost mid-episode: %v", err)
			}
			outcome.BackendLost = true
			return outcome, nil
		}
		content = next
		messages = append(messages, backend.Message{Role: backend.RoleAssistant, Content: content})
	}

	if len(toolcall.Parse(content)) > 0 {
		outcome.Stalled = true
		stallText := fmt.Sprintf("Iteration budget of %d exhausted with tool calls still pending. Pausing for the operator.", e.maxIterations)
		appended := e.append(session.RoleRouter, session.KindResult, stallText)
		outcome.Turns = append(outcome.Turns, appended)
	} else {
		outcome.FinalText = content
	}
	return outcome, nil
}

// handleDeclaration resolves one declaration into feedback text.
func (e *Engine) handleDeclaration(ctx context.Context, decl toolcall.Declaration) (string, session.Kind) {
	name := toolcall.Canonicalize(decl.Tool)
	tool, known := e.registry.Get(name)
	if !known {
		return e.handleUnknown(name)
	}

	spec := tool.Spec()
	args := decl.Args
	if args == nil && len(decl.Positional) > 0 {
		args = tools.MapPositional(spec, decl.Positional)
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := tools.ValidateArgs(spec, args); err != nil {
		return fmt.Sprintf("Tool %s was not run: %v", name, err), session.KindResult
	}

	if err := e.gate.Check(spec.Class, scopeFor(spec, args), decl.Intent); err != nil {
		e.journal.Record(audit.ActionDenial, string(session.RoleRouter), err.Error(), map[string]string{"tool": name})
		if errors.Is(err, permission.ErrDenied) {
			return fmt.Sprintf("Tool %s was denied: %v. Choose a different approach or ask the operator.", name, err), session.KindResult
		}
		return fmt.Sprintf("Tool %s could not be authorized: %v", name, err), session.KindResult
	}

	e.journal.Record(audit.ActionToolCall, string(session.RoleRouter), name, map[string]string{"intent": decl.Intent})
	result, err := tool.Execute(ctx, args)
	if err != nil {
		return fmt.Sprintf("Tool %s hit a runtime fault: %v", name, err), session.KindResult
	}
	e.journal.Record(audit.ActionToolResult, string(session.RoleRouter), name, map[string]string{"failed": fmt.Sprintf("%t", result.Err != "")})

	if result.Err != "" {
		return fmt.Sprintf("Tool %s failed: %s", name, result.Err), session.KindResult
	}
	text := fmt.Sprintf("Tool %s succeeded:\n%s", name, strings.TrimSpace(result.Output))
	if name == "write_file" {
		text += "\n\nVerify the written file with read_file or check_syntax before building on it."
	}
	return text, session.KindResult
}

// handleUnknown spends the correction budget for an unrecognized name.
func (e *Engine) handleUnknown(name string) (string, session.Kind) {
	switch e.corrections.Observe(name) {
	case toolcall.VerdictCorrect:
		e.journal.Record(audit.ActionCorrection, string(session.RoleRouter), name, nil)
		text := fmt.Sprintf("Unknown tool %q. Available tools:\n%s", name, e.registry.Describe())
		if suggestion := toolcall.Suggest(name, e.registry.Names()); suggestion != "" {
			text += fmt.Sprintf("\nDid you mean %q?", suggestion)
		}
		return text, session.KindCorrection
	case toolcall.VerdictForcePlan:
		e.journal.Record(audit.ActionCorrection, string(session.RoleRouter), name, map[string]string{"forced_plan": "true"})
		return forcedPlanText(name), session.KindPlan
	default:
		// Plan already forced for this name; stay quiet rather than
		// loop on the same correction.
		return "", session.KindResult
	}
}

func forcedPlanText(name string) string {
	return fmt.Sprintf(strings.TrimSpace(`
Tool %q does not exist and correction attempts are exhausted. Create it:
1. Write its Go source to the work directory with write_file. The file must define ToolDefinition() func(map[string]any) (string, error).
2. Append a registry entry (name, source, description, class, args) to state/tool_registry.yaml with append_file.
3. Ask the operator to reload tools.
Until then, do not call %q again.`), name, name)
}

// scopeFor picks the gate scope from the arguments: a path for disk and
// exec classes, a url for network classes, nothing otherwise.
func scopeFor(spec tools.Spec, args map[string]any) string {
	switch spec.Class {
	case permission.ClassDiskRead, permission.ClassDiskWrite:
		return argString(args, "path")
	case permission.ClassProcessExec:
		return argString(args, "path")
	case permission.ClassNetLocal, permission.ClassNetInternet:
		return argString(args, "url")
	default:
		return ""
	}
}

func argString(args map[string]any, name string) string {
	if v, ok := args[name]; ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}

func (e *Engine) append(role session.Role, kind session.Kind, text string) session.Turn {
	turn := e.log.Append(role, kind, text)
	if e.emit != nil {
		e.emit(turn)
	}
	return turn
}
