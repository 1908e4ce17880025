// internal/orchestrator/orchestrator_test.go

package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ajankowski/colloquy/internal/admission"
	"github.com/ajankowski/colloquy/internal/audit"
	"github.com/ajankowski/colloquy/internal/backend"
	"github.com/ajankowski/colloquy/internal/bus"
	"github.com/ajankowski/colloquy/internal/engine"
	"github.com/ajankowski/colloquy/internal/permission"
	"github.com/ajankowski/colloquy/internal/protocol"
	"github.com/ajankowski/colloquy/internal/resource"
	"github.com/ajankowski/colloquy/internal/session"
	"github.com/ajankowski/colloquy/internal/tools"
	"github.com/ajankowski/colloquy/internal/watchdog"
)

type scriptedClient struct {
	replies []string
	calls   int
	err     error
}

func (c *scriptedClient) Complete(ctx context.Context, req backend.Request) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	c.calls++
	if c.calls > len(c.replies) {
		return "[Primary -> Operator] Nothing further.", nil
	}
	return c.replies[c.calls-1], nil
}

type echoTool struct{ invoked *int }

func (e echoTool) Spec() tools.Spec {
	return tools.Spec{Name: "echo", Description: "repeat text", Args: []tools.ArgSpec{{Name: "text", Required: true}}}
}

func (e echoTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	*e.invoked++
	text, _ := args["text"].(string)
	return &tools.Result{Output: text}, nil
}

type harness struct {
	orch   *Orchestrator
	bus    *bus.Bus
	client *scriptedClient
	log    *session.Log
	tools  int
}

func newHarness(t *testing.T, client *scriptedClient, rounds int) *harness {
	t.Helper()
	h := &harness{client: client}
	journal, err := audit.New(filepath.Join(t.TempDir(), "journal.jsonl"))
	if err != nil {
		t.Fatalf("audit.New: %v", err)
	}
	h.log = session.NewLog()
	h.bus = bus.New()
	router := protocol.NewRouter(protocol.WithConsultationRounds(rounds))

	registry := tools.NewRegistry()
	if err := registry.Register(echoTool{invoked: &h.tools}); err != nil {
		t.Fatalf("register echo: %v", err)
	}
	gate := permission.NewGate(permission.ModeMemoized, t.TempDir(), true, nil)
	eng := engine.New(engine.Options{
		Registry:      registry,
		Gate:          gate,
		Client:        client,
		Log:           h.log,
		Journal:       journal,
		MaxIterations: 5,
	})
	machine := watchdog.NewMachine(watchdog.Options{IdleAfter: time.Hour})
	controller := admission.NewController(resource.Fixed{}, admission.Options{})

	h.orch = New(Options{
		Log:       h.log,
		Router:    router,
		Engine:    eng,
		Machine:   machine,
		Admission: controller,
		Client:    client,
		Bus:       h.bus,
		Journal:   journal,
		Registry:  registry,
		Signal:    resource.Fixed{},
	})
	return h
}

func drain(sub bus.Subscription) []bus.Event {
	var out []bus.Event
	for {
		select {
		case ev := <-sub.Events:
			out = append(out, ev)
		case <-time.After(50 * time.Millisecond):
			return out
		}
	}
}

func TestCycleDeliversAddressedBlockToOperator(t *testing.T) {
	client := &scriptedClient{replies: []string{"[Primary -> Operator] All tests pass."}}
	h := newHarness(t, client, 0)
	sub := h.bus.Subscribe(protocol.PanelOperator)
	defer sub.Close()

	if err := h.orch.Cycle(context.Background(), "run the test suite"); err != nil {
		t.Fatalf("Cycle: %v", err)
	}

	events := drain(sub)
	var found bool
	for _, ev := range events {
		if ev.Type == bus.TypeBlock && ev.Role == session.RolePrimary && strings.Contains(ev.Body, "All tests pass.") {
			found = true
		}
	}
	if !found {
		t.Fatalf("operator panel missing primary block, got %+v", events)
	}
}

func TestCycleResolvesToolCalls(t *testing.T) {
	call := "[Primary -> Coordinator] Checking.\n```tool_call\n{\"tool\": \"echo\", \"args\": {\"text\": \"hi\"}}\n```"
	client := &scriptedClient{replies: []string{call, "[Primary -> Operator] Echo says hi."}}
	h := newHarness(t, client, 0)

	if err := h.orch.Cycle(context.Background(), "echo hi"); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if h.tools != 1 {
		t.Fatalf("echo invoked %d times, want 1", h.tools)
	}
	if h.log.Len() < 4 {
		t.Fatalf("expected operator, primary, result and final turns, log has %d", h.log.Len())
	}
}

func TestCycleReportsBackendLoss(t *testing.T) {
	client := &scriptedClient{err: errors.New("connection refused")}
	h := newHarness(t, client, 0)
	sub := h.bus.Subscribe(protocol.PanelOperator)
	defer sub.Close()

	if err := h.orch.Cycle(context.Background(), "hello"); err != nil {
		t.Fatalf("Cycle: %v", err)
	}

	var notified bool
	for _, ev := range drain(sub) {
		if ev.Type == bus.TypeStatus && strings.Contains(ev.Body, "backend unavailable") {
			notified = true
		}
	}
	if !notified {
		t.Fatal("no backend status notice reached the operator panel")
	}
	if h.orch.State() != watchdog.StateActive {
		t.Fatalf("state = %s after backend loss, want active", h.orch.State())
	}
}

func TestConsultationFeedsReviewBackToPrimary(t *testing.T) {
	client := &scriptedClient{replies: []string{
		"[Primary -> Operator] Done.",
		"[Supervisor -> Primary] Cover the empty input case.",
		"[Primary -> Operator] Revised with the empty input case covered.",
	}}
	h := newHarness(t, client, 1)
	executor := h.bus.Subscribe(protocol.PanelExecutor)
	defer executor.Close()
	operator := h.bus.Subscribe(protocol.PanelOperator)
	defer operator.Close()

	if err := h.orch.Cycle(context.Background(), "review this"); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if client.calls != 3 {
		t.Fatalf("backend calls = %d, want primary, review and revision", client.calls)
	}

	var reviewed bool
	for _, ev := range drain(executor) {
		if ev.Role == session.RoleSupervisor && strings.Contains(ev.Body, "empty input case") {
			reviewed = true
		}
	}
	if !reviewed {
		t.Fatal("supervisor review never reached the executor panel")
	}
	var revised bool
	for _, ev := range drain(operator) {
		if ev.Role == session.RolePrimary && strings.Contains(ev.Body, "Revised with") {
			revised = true
		}
	}
	if !revised {
		t.Fatal("the revision answering the review never reached the operator panel")
	}
}

func TestConsultationRoundsAreBounded(t *testing.T) {
	client := &scriptedClient{replies: []string{"[Primary -> Operator] Done."}}
	h := newHarness(t, client, 2)

	if err := h.orch.Cycle(context.Background(), "keep reviewing"); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	// One opening completion, then a review and a revision per round.
	if client.calls != 5 {
		t.Fatalf("backend calls = %d, want 5 for two rounds", client.calls)
	}
}

func TestNudgeReachesSupervisorPanel(t *testing.T) {
	h := newHarness(t, &scriptedClient{}, 0)
	sub := h.bus.Subscribe(protocol.PanelSupervisor)
	defer sub.Close()

	h.orch.Nudge("No progress for a while. Please direct the Primary.")

	var landed bool
	for _, ev := range drain(sub) {
		if ev.Type == bus.TypeStatus && strings.Contains(ev.Body, "No progress") {
			landed = true
		}
	}
	if !landed {
		t.Fatal("nudge never reached the supervisor panel")
	}
}
