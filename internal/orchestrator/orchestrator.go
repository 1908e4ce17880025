// internal/orchestrator/orchestrator.go
//
// The conversation cycle. An operator turn admits a Primary completion,
// routes its blocks to panels, resolves any tool calls, then offers the
// Supervisor a bounded consultation. The watchdog observes everything
// and injects nudges through the same path.

package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ajankowski/colloquy/internal/admission"
	"github.com/ajankowski/colloquy/internal/audit"
	"github.com/ajankowski/colloquy/internal/backend"
	"github.com/ajankowski/colloquy/internal/bus"
	"github.com/ajankowski/colloquy/internal/engine"
	"github.com/ajankowski/colloquy/internal/protocol"
	"github.com/ajankowski/colloquy/internal/resource"
	"github.com/ajankowski/colloquy/internal/session"
	"github.com/ajankowski/colloquy/internal/toolcall"
	"github.com/ajankowski/colloquy/internal/tools"
	"github.com/ajankowski/colloquy/internal/watchdog"
)

const primarySystem = `You are the Primary agent in a multi-participant session.
Address every block of your output with a [Primary -> Receiver] header; receivers are Operator, Supervisor, Coordinator, Router, or all.
Request tools with a fenced tool_call block containing {"tool": name, "args": {...}, "intent": why}.
Work stepwise and report results to the Operator.`

const supervisorSystem = `You are the Supervisor agent. Review the recent exchange for correctness and safety.
Reply with one [Supervisor -> Primary] block of concrete guidance, or [Supervisor -> Operator] if the operator must decide something.`

const excerptTurns = 12

// Logger is the minimal logging dependency.
type Logger interface {
	Printf(format string, args ...any)
}

// Options wires an Orchestrator.
type Options struct {
	Log       *session.Log
	Router    *protocol.Router
	Engine    *engine.Engine
	Machine   *watchdog.Machine
	Admission *admission.Controller
	Client    backend.Client
	Bus       *bus.Bus
	Journal   *audit.Journal
	Registry  *tools.Registry
	Loader    tools.Loader
	Signal    resource.Signal
	Logger    Logger
}

// Orchestrator runs conversation cycles. A single mutex serializes
// cycles against watchdog nudges; the router is not concurrency safe.
type Orchestrator struct {
	mu sync.Mutex

	log       *session.Log
	router    *protocol.Router
	engine    *engine.Engine
	machine   *watchdog.Machine
	admission *admission.Controller
	client    backend.Client
	bus       *bus.Bus
	journal   *audit.Journal
	registry  *tools.Registry
	loader    tools.Loader
	signal    resource.Signal
	logger    Logger
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	return &Orchestrator{
		log:       opts.Log,
		router:    opts.Router,
		engine:    opts.Engine,
		machine:   opts.Machine,
		admission: opts.Admission,
		client:    opts.Client,
		bus:       opts.Bus,
		journal:   opts.Journal,
		registry:  opts.Registry,
		loader:    opts.Loader,
		signal:    opts.Signal,
		logger:    opts.Logger,
	}
}

// State exposes the current work state for the status bar.
func (o *Orchestrator) State() watchdog.State {
	return o.machine.State()
}

// Nudge is installed as the watchdog's sink: it injects a reactivation
// turn addressed to the Supervisor.
func (o *Orchestrator) Nudge(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	turn := o.log.Append(session.RoleRouter, session.KindNudge,
		"[Router -> Supervisor] "+text)
	o.journal.Record(audit.ActionNudge, string(session.RoleRouter), text, nil)
	o.publishTurn(turn, o.router.Route(turn))
}

// EmitEngineTurn publishes engine-injected synthetic turns; installed
// as the engine's Emit callback.
func (o *Orchestrator) EmitEngineTurn(turn session.Turn) {
	o.publish(bus.Event{
		ID:       uuid.NewString(),
		Panel:    protocol.PanelExecutor,
		Type:     eventTypeFor(turn.Kind),
		Role:     turn.Role,
		Body:     turn.Raw,
		Readable: protocol.OperatorReadable(turn.Raw),
	})
}

// ReloadTools loads dynamic tools from the registry file; the operator
// triggers this after the model scaffolds a new tool.
func (o *Orchestrator) ReloadTools() error {
	if err := tools.LoadDynamic(o.registry, o.loader); err != nil {
		return fmt.Errorf("orchestrator: reload tools: %w", err)
	}
	o.status(protocol.PanelOperator, "dynamic tools reloaded")
	return nil
}

// Cycle runs one full conversation cycle from an operator turn. Errors
// are conversational dead ends (context cancelled); everything else is
// reported into the panels and absorbed.
func (o *Orchestrator) Cycle(ctx context.Context, operatorText string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.machine.OperatorInput()
	o.router.BeginCycle()

	opTurn := o.log.Append(session.RoleOperator, session.KindMessage, operatorText)
	o.journal.Record(audit.ActionTurn, string(session.RoleOperator), firstLine(operatorText), nil)
	o.publishTurn(opTurn, o.router.Route(opTurn))

	if o.logger != nil {
		o.logger.Printf("orchestrator: cycle started, turn %d", opTurn.Seq)
	}
	reply, ok := o.complete(ctx, "Primary", primarySystem)
	if !ok {
		return ctx.Err()
	}
	if done := o.handleModelTurn(ctx, reply); done {
		return ctx.Err()
	}

	o.consultSupervisor(ctx)
	return ctx.Err()
}

// handleModelTurn appends, routes and resolves one Primary reply. It
// reports whether the cycle should stop early.
func (o *Orchestrator) handleModelTurn(ctx context.Context, reply string) bool {
	turn := o.log.Append(session.RolePrimary, session.KindMessage, reply)
	o.journal.Record(audit.ActionTurn, string(session.RolePrimary), firstLine(reply), nil)
	decision := o.router.Route(turn)
	o.publishTurn(turn, decision)
	o.applyReminder(decision)

	decls := toolcall.Parse(reply)
	o.machine.ObserveTurn(turn, len(decls) > 0 || hasAddressed(decision))

	if len(decls) == 0 {
		return false
	}

	o.machine.ToolDispatched()
	outcome, err := o.engine.Resolve(ctx, turn)
	if err != nil {
		o.status(protocol.PanelOperator, fmt.Sprintf("tool resolution fault: %v", err))
		return true
	}
	if outcome.Stalled {
		o.machine.EngineStalled()
		o.journal.Record(audit.ActionTransition, string(session.RoleRouter), "stalled on iteration cap", nil)
		o.status(protocol.PanelOperator, "session stalled: iteration budget exhausted; type anything to resume")
		return true
	}
	if outcome.BackendLost {
		o.status(protocol.PanelOperator, "backend unavailable; try again shortly")
		return true
	}
	if outcome.FinalText != "" && outcome.Iterations > 0 {
		final := o.log.Append(session.RolePrimary, session.KindMessage, outcome.FinalText)
		finalDecision := o.router.Route(final)
		o.publishTurn(final, finalDecision)
		o.applyReminder(finalDecision)
		o.machine.ObserveTurn(final, hasAddressed(finalDecision))
	}
	return false
}

// consultSupervisor runs bounded Supervisor and Primary exchanges. Each
// round the Supervisor reviews the recent conversation and the Primary
// answers the guidance; once the round budget is spent, control returns
// to the operator.
func (o *Orchestrator) consultSupervisor(ctx context.Context) {
	for o.router.AllowConsultation() {
		review, ok := o.supervisorReview(ctx)
		if !ok {
			return
		}
		turn := o.log.Append(session.RoleSupervisor, session.KindMessage, review)
		o.journal.Record(audit.ActionTurn, string(session.RoleSupervisor), firstLine(review), nil)
		decision := o.router.Route(turn)
		o.publishTurn(turn, decision)
		o.applyReminder(decision)
		o.machine.ObserveTurn(turn, hasAddressed(decision))

		// The review is in the log now, so the Primary's next
		// completion sees it and revises. Its reply may carry tool
		// calls like any other turn.
		reply, ok := o.complete(ctx, string(session.RolePrimary), primarySystem)
		if !ok {
			return
		}
		if done := o.handleModelTurn(ctx, reply); done {
			return
		}
	}
}

// supervisorReview runs one admission-gated Supervisor completion.
func (o *Orchestrator) supervisorReview(ctx context.Context) (string, bool) {
	ticket := o.admission.Acquire(admission.Request{Requester: string(session.RoleSupervisor)})
	if !ticket.Admitted() {
		go o.reportQueuePosition(ticket)
		if err := o.admission.Wait(ctx, ticket); err != nil {
			return "", false
		}
	}
	defer o.admission.Release(ticket)
	return o.completeWith(ctx, supervisorSystem, o.log.Excerpt(excerptTurns))
}

func (o *Orchestrator) reportQueuePosition(ticket *admission.Ticket) {
	for pos := range ticket.Updates() {
		o.journal.Record(audit.ActionQueue, ticket.Requester, fmt.Sprintf("position %d", pos), nil)
		o.status(protocol.PanelOperator, fmt.Sprintf("%s review queued at position %d", ticket.Requester, pos))
	}
}

// complete runs one completion over the recent conversation.
func (o *Orchestrator) complete(ctx context.Context, requester, system string) (string, bool) {
	ticket := o.admission.Acquire(admission.Request{Requester: requester})
	if !ticket.Admitted() {
		go o.reportQueuePosition(ticket)
		if err := o.admission.Wait(ctx, ticket); err != nil {
			return "", false
		}
	}
	defer o.admission.Release(ticket)
	return o.completeWith(ctx, system, o.log.Excerpt(excerptTurns))
}

func (o *Orchestrator) completeWith(ctx context.Context, system, prompt string) (string, bool) {
	req := backend.Request{
		System:   system,
		Messages: []backend.Message{{Role: backend.RoleUser, Content: prompt}},
	}
	if o.signal != nil {
		if profile := o.signal.Headroom(); profile.Known {
			req.ContextHint = profile.SuggestedCtx
		}
	}
	reply, err := o.client.Complete(ctx, req)
	if err != nil {
		o.journal.Record(audit.ActionBackendFail, "", err.Error(), nil)
		o.status(protocol.PanelOperator, "backend unavailable; the session continues")
		return "", false
	}
	return reply, true
}

// applyReminder injects the router's addressing reminder when due.
func (o *Orchestrator) applyReminder(decision protocol.Decision) {
	if decision.Reminder == "" {
		return
	}
	turn := o.log.Append(session.RoleRouter, session.KindReminder,
		fmt.Sprintf("[Router -> %s] %s", decision.RemindRole, decision.Reminder))
	o.journal.Record(audit.ActionDegraded, string(session.RoleRouter), "addressing reminder", map[string]string{"role": string(decision.RemindRole)})
	o.publishTurn(turn, o.router.Route(turn))
}

// publishTurn fans a routing decision out to the panels.
func (o *Orchestrator) publishTurn(turn session.Turn, decision protocol.Decision) {
	for _, degraded := range decision.Degraded {
		o.journal.Record(audit.ActionDegraded, string(turn.Role), degraded.Reason, map[string]string{"header": degraded.Header})
	}
	for _, delivery := range decision.Deliveries {
		o.publish(bus.Event{
			ID:       uuid.NewString(),
			Panel:    delivery.Panel,
			Type:     eventTypeFor(turn.Kind),
			Role:     turn.Role,
			Body:     delivery.Block.Body,
			Readable: protocol.OperatorReadable(delivery.Block.Body),
		})
	}
	o.journal.Record(audit.ActionRoute, string(turn.Role),
		fmt.Sprintf("%d blocks, %d deliveries", len(decision.Blocks), len(decision.Deliveries)), nil)
}

func (o *Orchestrator) publish(event bus.Event) {
	if o.bus != nil {
		o.bus.Publish(event)
	}
}

func (o *Orchestrator) status(panel protocol.Panel, text string) {
	o.publish(bus.Event{
		ID:       uuid.NewString(),
		Panel:    panel,
		Type:     bus.TypeStatus,
		Role:     session.RoleRouter,
		Body:     text,
		Readable: true,
	})
}

func eventTypeFor(kind session.Kind) bus.EventType {
	switch kind {
	case session.KindMessage:
		return bus.TypeBlock
	case session.KindReminder, session.KindNudge, session.KindPlan:
		return bus.TypeStatus
	default:
		return bus.TypeBlock
	}
}

func hasAddressed(decision protocol.Decision) bool {
	for _, block := range decision.Blocks {
		if !block.Implicit {
			return true
		}
	}
	return false
}

func firstLine(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	if len(text) > 120 {
		text = text[:120]
	}
	return text
}
