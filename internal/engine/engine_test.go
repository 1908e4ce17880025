package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ajankowski/colloquy/internal/backend"
	"github.com/ajankowski/colloquy/internal/permission"
	"github.com/ajankowski/colloquy/internal/resource"
	"github.com/ajankowski/colloquy/internal/session"
	"github.com/ajankowski/colloquy/internal/shellpolicy"
	"github.com/ajankowski/colloquy/internal/tools"
)

// scriptClient replays canned completions; once the script runs out it
// keeps returning the last entry.
type scriptClient struct {
	responses []string
	calls     int
	err       error
}

func (c *scriptClient) Complete(ctx context.Context, req backend.Request) (string, error) {
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	if len(c.responses) == 0 {
		return "", nil
	}
	idx := c.calls - 1
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	return c.responses[idx], nil
}

type harness struct {
	engine *Engine
	log    *session.Log
	env    tools.Env
	client *scriptClient
}

func newHarness(t *testing.T, client *scriptClient, maxIterations, maxCorrections int) *harness {
	t.Helper()
	root := t.TempDir()
	work := filepath.Join(root, "work")
	if err := os.MkdirAll(work, 0o755); err != nil {
		t.Fatal(err)
	}
	env := tools.Env{Root: root, WorkDir: work}
	registry := tools.NewDefaultRegistry(env, shellpolicy.New(), resource.Fixed{})
	gate := permission.NewGate(permission.ModeMemoized, root, true, nil)
	log := session.NewLog()
	eng := New(Options{
		Registry:       registry,
		Gate:           gate,
		Client:         client,
		Log:            log,
		MaxIterations:  maxIterations,
		MaxCorrections: maxCorrections,
	})
	return &harness{engine: eng, log: log, env: env, client: client}
}

func callBlock(tool, argsLine string) string {
	return "```tool_call\n{\"tool\": \"" + tool + "\", \"args\": " + argsLine + "}\n```"
}

func modelTurn(h *harness, raw string) session.Turn {
	return h.log.Append(session.RolePrimary, session.KindMessage, raw)
}

func TestResolvePlainTextShortCircuits(t *testing.T) {
	h := newHarness(t, &scriptClient{}, 15, 2)
	outcome, err := h.engine.Resolve(context.Background(), modelTurn(h, "no calls here, just a report"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if outcome.Iterations != 0 || outcome.FinalText == "" {
		t.Fatalf("outcome = %+v", outcome)
	}
	if h.client.calls != 0 {
		t.Fatalf("backend consulted %d times for plain text", h.client.calls)
	}
}

func TestResolveExecutesToolAndFeedsResultBack(t *testing.T) {
	client := &scriptClient{responses: []string{"thanks, I can see the file"}}
	h := newHarness(t, client, 15, 2)
	if err := os.WriteFile(filepath.Join(h.env.Root, "notes.txt"), []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	turn := modelTurn(h, callBlock("read_file", `{"path": "notes.txt"}`))
	outcome, err := h.engine.Resolve(context.Background(), turn)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if outcome.Iterations != 1 {
		t.Fatalf("iterations = %d, want 1", outcome.Iterations)
	}
	if outcome.FinalText != "thanks, I can see the file" {
		t.Fatalf("final = %q", outcome.FinalText)
	}
	if len(outcome.Turns) != 1 || outcome.Turns[0].Kind != session.KindResult {
		t.Fatalf("turns = %+v", outcome.Turns)
	}
	if !strings.Contains(outcome.Turns[0].Raw, "payload") {
		t.Fatalf("result text = %q", outcome.Turns[0].Raw)
	}
}

func TestResolveAliasNameCanonicalized(t *testing.T) {
	client := &scriptClient{responses: []string{"done"}}
	h := newHarness(t, client, 15, 2)
	turn := modelTurn(h, callBlock("run_command", `{"command": "echo canonical"}`))
	outcome, err := h.engine.Resolve(context.Background(), turn)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(outcome.Turns) != 1 || !strings.Contains(outcome.Turns[0].Raw, "canonical") {
		t.Fatalf("turns = %+v", outcome.Turns)
	}
	if !strings.Contains(outcome.Turns[0].Raw, "run_shell succeeded") {
		t.Fatalf("alias not canonicalized: %q", outcome.Turns[0].Raw)
	}
}

func TestResolveUnknownToolCorrectsThenForcesPlan(t *testing.T) {
	bad := callBlock("summon_daemon", `{}`)
	client := &scriptClient{responses: []string{bad, bad, "giving up on that tool"}}
	h := newHarness(t, client, 15, 2)

	outcome, err := h.engine.Resolve(context.Background(), modelTurn(h, bad))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// Encounters: original turn + two replays = 3; budget of 2 means
	// two corrections then one forced plan.
	var corrections, plans int
	for _, turn := range outcome.Turns {
		switch turn.Kind {
		case session.KindCorrection:
			corrections++
			if !strings.Contains(turn.Raw, "Available tools") {
				t.Fatalf("correction lacks catalog: %q", turn.Raw)
			}
		case session.KindPlan:
			plans++
			if !strings.Contains(turn.Raw, "ToolDefinition()") {
				t.Fatalf("plan lacks scaffold instructions: %q", turn.Raw)
			}
		}
	}
	if corrections != 2 {
		t.Fatalf("corrections = %d, want 2", corrections)
	}
	if plans != 1 {
		t.Fatalf("plans = %d, want 1", plans)
	}
	if outcome.FinalText != "giving up on that tool" {
		t.Fatalf("final = %q", outcome.FinalText)
	}
}

func TestResolveIterationCapStalls(t *testing.T) {
	loop := callBlock("list_dir", `{"path": "."}`)
	client := &scriptClient{responses: []string{loop}}
	h := newHarness(t, client, 3, 2)

	outcome, err := h.engine.Resolve(context.Background(), modelTurn(h, loop))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !outcome.Stalled {
		t.Fatalf("outcome not stalled: %+v", outcome)
	}
	if outcome.Iterations != 3 {
		t.Fatalf("iterations = %d, want 3", outcome.Iterations)
	}
	last := outcome.Turns[len(outcome.Turns)-1]
	if !strings.Contains(last.Raw, "Iteration budget") {
		t.Fatalf("stall turn = %q", last.Raw)
	}
}

func TestResolveBackendLossEndsQuietly(t *testing.T) {
	client := &scriptClient{err: backend.ErrUnavailable}
	h := newHarness(t, client, 15, 2)
	outcome, err := h.engine.Resolve(context.Background(), modelTurn(h, callBlock("list_dir", `{"path": "."}`)))
	if err != nil {
		t.Fatalf("resolve returned error on backend loss: %v", err)
	}
	if !outcome.BackendLost || outcome.Stalled {
		t.Fatalf("outcome = %+v", outcome)
	}
}

func TestResolveDenialBecomesResultTurn(t *testing.T) {
	root := t.TempDir()
	work := filepath.Join(root, "work")
	if err := os.MkdirAll(work, 0o755); err != nil {
		t.Fatal(err)
	}
	env := tools.Env{Root: root, WorkDir: work}
	registry := tools.NewDefaultRegistry(env, shellpolicy.New(), resource.Fixed{})
	denyAll := permission.PrompterFunc(func(req permission.Request) permission.Response {
		return permission.Response{Granted: false}
	})
	gate := permission.NewGate(permission.ModeMemoized, root, false, denyAll)
	log := session.NewLog()
	client := &scriptClient{responses: []string{"understood, I will stop"}}
	eng := New(Options{Registry: registry, Gate: gate, Client: client, Log: log, MaxIterations: 15, MaxCorrections: 2})

	turn := log.Append(session.RolePrimary, session.KindMessage, callBlock("record_microphone_clip", `{}`))
	outcome, err := eng.Resolve(context.Background(), turn)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(outcome.Turns) != 1 || !strings.Contains(outcome.Turns[0].Raw, "denied") {
		t.Fatalf("turns = %+v", outcome.Turns)
	}
	if outcome.FinalText != "understood, I will stop" {
		t.Fatalf("final = %q", outcome.FinalText)
	}
}

func TestResolveWriteSuccessCarriesVerificationNudge(t *testing.T) {
	client := &scriptClient{responses: []string{"will verify"}}
	h := newHarness(t, client, 15, 2)
	turn := modelTurn(h, callBlock("write_file", `{"path": "draft.txt", "content": "hello"}`))
	outcome, err := h.engine.Resolve(context.Background(), turn)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(outcome.Turns) != 1 {
		t.Fatalf("turns = %+v", outcome.Turns)
	}
	if !strings.Contains(outcome.Turns[0].Raw, "Verify the written file") {
		t.Fatalf("missing verification nudge: %q", outcome.Turns[0].Raw)
	}
}
