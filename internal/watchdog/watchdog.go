// internal/watchdog/watchdog.go
//
// Work-state machine and idle watchdog. The conversation is observed
// turn by turn; prolonged passivity triggers capped nudges toward the
// Supervisor, detected questions suspend all automatic reactivation
// until the operator answers, and a stalled engine needs an operator
// reset.

package watchdog

import (
	"fmt"
	"sync"
	"time"

	"github.com/ajankowski/colloquy/internal/session"
)

// State is the current work state.
type State string

const (
	StateActive  State = "ACTIVE"
	StateIdle    State = "IDLE"
	StateWaiting State = "WAITING_USER_DECISION"
	StateStalled State = "STALLED"
)

// Event drives state transitions.
type Event string

const (
	// EventPassiveTurn is a single non-actionable turn.
	EventPassiveTurn Event = "passive_turn"
	// EventPassiveStreak fires when consecutive passive turns reach
	// the configured threshold.
	EventPassiveStreak Event = "passive_streak"
	EventActionableTurn Event = "actionable_turn"
	EventQuestion       Event = "question_detected"
	EventOperatorInput  Event = "operator_input"
	EventToolDispatched Event = "tool_dispatched"
	EventEngineStalled  Event = "engine_stalled"
)

// Transition is the deterministic state table. Unlisted combinations
// keep the current state.
func Transition(state State, event Event) State {
	switch state {
	case StateActive:
		switch event {
		case EventPassiveStreak:
			return StateIdle
		case EventQuestion:
			return StateWaiting
		case EventEngineStalled:
			return StateStalled
		}
		return StateActive
	case StateIdle:
		switch event {
		case EventActionableTurn, EventOperatorInput, EventToolDispatched:
			return StateActive
		case EventQuestion:
			return StateWaiting
		case EventEngineStalled:
			return StateStalled
		}
		return StateIdle
	case StateWaiting:
		// Nothing resumes a waiting session except the operator.
		if event == EventOperatorInput {
			return StateActive
		}
		return StateWaiting
	case StateStalled:
		// Only an operator reset leaves the stalled state.
		if event == EventOperatorInput {
			return StateActive
		}
		return StateStalled
	}
	return state
}

// Classifier decides whether a turn asks the operator something.
type Classifier interface {
	Classify(text string) (question bool, confidence float64)
}

// Logger is the minimal logging dependency.
type Logger interface {
	Printf(format string, args ...any)
}

// Machine tracks work state for one session.
type Machine struct {
	mu sync.Mutex

	state       State
	streak      int
	streakLimit int

	nudgesUsed    int
	nudgeCap      int
	idleAfter     time.Duration
	cooldownUntil time.Time

	timer *time.Timer
	gen   int

	classifier   Classifier
	nudge        func(text string)
	onTransition func(from, to State, event Event)
	logger       Logger
	now          func() time.Time
}

// Options configures a Machine.
type Options struct {
	// IdleAfter is how long without activity before a nudge.
	IdleAfter time.Duration
	// NudgeCap bounds nudges before the cooldown engages.
	NudgeCap int
	// PassiveStreak is how many consecutive passive turns mean idle.
	PassiveStreak int
	Classifier    Classifier
	// Nudge delivers the reactivation text; it is addressed to the
	// Supervisor by the caller.
	Nudge func(text string)
	// OnTransition observes every state change.
	OnTransition func(from, to State, event Event)
	Logger       Logger
}

// NewMachine creates a machine in the active state.
func NewMachine(opts Options) *Machine {
	if opts.IdleAfter <= 0 {
		opts.IdleAfter = 180 * time.Second
	}
	if opts.NudgeCap <= 0 {
		opts.NudgeCap = 2
	}
	if opts.PassiveStreak <= 0 {
		opts.PassiveStreak = 2
	}
	classifier := opts.Classifier
	if classifier == nil {
		classifier = Heuristic{}
	}
	return &Machine{
		state:        StateActive,
		streakLimit:  opts.PassiveStreak,
		nudgeCap:     opts.NudgeCap,
		idleAfter:    opts.IdleAfter,
		classifier:   classifier,
		nudge:        opts.Nudge,
		onTransition: opts.OnTransition,
		logger:       opts.Logger,
		now:          time.Now,
	}
}

// State returns the current work state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start arms the idle timer. Call Stop when the session ends.
func (m *Machine) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rearmLocked()
}

// Stop disarms the idle timer.
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// ObserveTurn feeds one conversation turn through the machine.
// Actionable means the turn moved work forward (tool calls, addressed
// blocks). Synthetic turns are invisible to passivity tracking but do
// not reset the idle clock either; only real participation does.
func (m *Machine) ObserveTurn(turn session.Turn, actionable bool) {
	if turn.Synthetic() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rearmLocked()

	if turn.Role == session.RoleOperator {
		m.operatorInputLocked()
		return
	}

	if question, _ := m.classifier.Classify(turn.Raw); question {
		m.streak = 0
		m.applyLocked(EventQuestion)
		return
	}

	if actionable {
		m.streak = 0
		m.applyLocked(EventActionableTurn)
		return
	}

	m.streak++
	m.applyLocked(EventPassiveTurn)
	if m.streak >= m.streakLimit {
		m.streak = 0
		m.applyLocked(EventPassiveStreak)
	}
}

// OperatorInput resets streaks, nudge budget and timers. This is also
// the stalled-state reset.
func (m *Machine) OperatorInput() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rearmLocked()
	m.operatorInputLocked()
}

func (m *Machine) operatorInputLocked() {
	m.streak = 0
	m.nudgesUsed = 0
	m.cooldownUntil = time.Time{}
	m.applyLocked(EventOperatorInput)
}

// ToolDispatched marks engine activity.
func (m *Machine) ToolDispatched() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rearmLocked()
	m.applyLocked(EventToolDispatched)
}

// EngineStalled records iteration-cap exhaustion.
func (m *Machine) EngineStalled() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyLocked(EventEngineStalled)
}

func (m *Machine) applyLocked(event Event) {
	next := Transition(m.state, event)
	if next == m.state {
		return
	}
	from := m.state
	m.state = next
	if m.logger != nil {
		m.logger.Printf("watchdog: %s -> %s on %s", from, next, event)
	}
	if m.onTransition != nil {
		m.onTransition(from, next, event)
	}
}

// rearmLocked resets the idle timer and invalidates pending fires.
func (m *Machine) rearmLocked() {
	m.gen++
	gen := m.gen
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.idleAfter, func() { m.fireIdle(gen) })
}

// fireIdle handles one idle-timer expiry. Stale fires (activity arrived
// after the timer was armed) are discarded, and only an idle session is
// nudged; active, waiting and stalled sessions are left alone.
func (m *Machine) fireIdle(gen int) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}

	deliver := false
	var text string
	if m.state == StateIdle && m.nudgesUsed < m.nudgeCap && m.now().After(m.cooldownUntil) {
		m.nudgesUsed++
		deliver = true
		text = fmt.Sprintf("No activity for %s. Review the last exchange and restart useful work or report what blocks you. (attempt %d of %d)",
			m.idleAfter, m.nudgesUsed, m.nudgeCap)
		if m.nudgesUsed >= m.nudgeCap {
			m.cooldownUntil = m.now().Add(m.idleAfter)
			m.nudgesUsed = 0
		}
	}
	nudge := m.nudge
	m.rearmLocked()
	m.mu.Unlock()

	if deliver && nudge != nil {
		nudge(text)
	}
}
