// internal/protocol/protocol.go
//
// Addressed-block protocol. Turns carry zero or more [Sender -> Receiver]
// headers; the router splits them into blocks, decides which console
// panels see each block, and enforces addressing discipline with
// reminders. Malformed headers never fail a turn, they degrade it.

package protocol

import (
	"regexp"
	"strings"

	"github.com/ajankowski/colloquy/internal/session"
)

// Panel identifies one console pane.
type Panel string

const (
	PanelOperator   Panel = "operator"
	PanelSupervisor Panel = "supervisor"
	PanelExecutor   Panel = "executor"
)

// Panels lists every pane in display order.
func Panels() []Panel {
	return []Panel{PanelOperator, PanelSupervisor, PanelExecutor}
}

// AddressedBlock is one routed fragment of a turn.
type AddressedBlock struct {
	Sender    session.Role
	Receivers []session.Role
	Broadcast bool
	Body      string
	// Implicit marks text that carried no valid header and was routed
	// to the Router by default.
	Implicit bool
}

// Degradation records a header that could not be honored.
type Degradation struct {
	Header string
	Reason string
}

// Delivery pairs a block with a destination panel.
type Delivery struct {
	Panel Panel
	Block AddressedBlock
}

// Decision is the outcome of routing one turn.
type Decision struct {
	Blocks     []AddressedBlock
	Degraded   []Degradation
	Deliveries []Delivery
	// RemindRole is set when the sender has exceeded the unaddressed
	// threshold and a reminder turn should be injected.
	RemindRole session.Role
	Reminder   string
}

const allTarget = "all"

// Inline headers are honored at line starts; the remainder of the line
// and following lines up to the next header form the block body.
var headerRe = regexp.MustCompile(`(?m)^\[([A-Za-z]+)\s*->\s*([A-Za-z]+)\]\s*`)

const reminderTemplate = "Address your turns explicitly. Start blocks with [%s -> Receiver] headers so they reach the right participant."

// defaultPanelTable mirrors where each role's messages surface on the
// console. New roles route additively; unknown targets fall back to the
// executor pane.
func defaultPanelTable() map[session.Role][]Panel {
	return map[session.Role][]Panel{
		session.RoleOperator:    {PanelOperator},
		session.RoleSupervisor:  {PanelSupervisor},
		session.RolePrimary:     {PanelExecutor},
		session.RoleCoordinator: {PanelExecutor},
		session.RoleRouter:      {PanelExecutor},
	}
}

// Router parses turns, maps blocks to panels and tracks addressing
// discipline per sender. Not safe for concurrent use; the conversation
// cycle is single-threaded by construction.
type Router struct {
	panelTable    map[session.Role][]Panel
	reminderAfter int
	reminderCap   int
	rounds        int
	roundsLeft    int

	missStreak    map[session.Role]int
	remindersSent int
}

// Option customizes a Router.
type Option func(*Router)

// WithReminderAfter sets how many consecutive unaddressed turns a role
// may produce before a reminder.
func WithReminderAfter(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.reminderAfter = n
		}
	}
}

// WithReminderCap bounds reminders per session.
func WithReminderCap(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.reminderCap = n
		}
	}
}

// WithConsultationRounds sets supervisor consultation rounds per cycle.
func WithConsultationRounds(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.rounds = n
		}
	}
}

// WithPanelRoute adds or overrides the panel mapping for a role.
func WithPanelRoute(role session.Role, panels ...Panel) Option {
	return func(r *Router) {
		r.panelTable[role] = panels
	}
}

// NewRouter creates a router with default discipline settings.
func NewRouter(opts ...Option) *Router {
	r := &Router{
		panelTable:    defaultPanelTable(),
		reminderAfter: 2,
		reminderCap:   5,
		rounds:        1,
		missStreak:    make(map[session.Role]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.roundsLeft = r.rounds
	return r
}

// Route splits a turn into addressed blocks and panel deliveries. It
// never returns an error; malformed headers surface as Degradations and
// their text joins the unaddressed remainder.
func (r *Router) Route(turn session.Turn) Decision {
	var dec Decision

	matches := headerRe.FindAllStringSubmatchIndex(turn.Raw, -1)
	cursor := 0
	appendImplicit := func(text string) {
		body := strings.TrimSpace(text)
		if body == "" {
			return
		}
		dec.Blocks = append(dec.Blocks, AddressedBlock{
			Sender:    turn.Role,
			Receivers: []session.Role{session.RoleRouter},
			Body:      body,
			Implicit:  true,
		})
	}

	for i, m := range matches {
		if m[0] > cursor {
			appendImplicit(turn.Raw[cursor:m[0]])
		}
		end := len(turn.Raw)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		body := strings.TrimSpace(turn.Raw[m[1]:end])
		header := strings.TrimSpace(turn.Raw[m[0]:m[1]])
		senderName := turn.Raw[m[2]:m[3]]
		targetName := turn.Raw[m[4]:m[5]]
		cursor = end

		sender, ok := session.ParseRole(senderName)
		if !ok {
			dec.Degraded = append(dec.Degraded, Degradation{Header: header, Reason: "unknown sender role"})
			appendImplicit(body)
			continue
		}
		if sender != turn.Role {
			dec.Degraded = append(dec.Degraded, Degradation{Header: header, Reason: "sender does not match turn author"})
			appendImplicit(body)
			continue
		}

		block := AddressedBlock{Sender: sender, Body: body}
		if strings.EqualFold(strings.TrimSpace(targetName), allTarget) {
			block.Broadcast = true
			for _, role := range session.Roles() {
				if role != sender {
					block.Receivers = append(block.Receivers, role)
				}
			}
		} else {
			target, ok := session.ParseRole(targetName)
			if !ok {
				dec.Degraded = append(dec.Degraded, Degradation{Header: header, Reason: "unknown receiver role"})
				appendImplicit(body)
				continue
			}
			block.Receivers = []session.Role{target}
		}
		dec.Blocks = append(dec.Blocks, block)
	}
	if cursor < len(turn.Raw) {
		appendImplicit(turn.Raw[cursor:])
	}

	dec.Deliveries = r.deliveries(dec.Blocks)
	r.trackDiscipline(turn, &dec)
	return dec
}

func (r *Router) deliveries(blocks []AddressedBlock) []Delivery {
	var out []Delivery
	for _, block := range blocks {
		seen := make(map[Panel]struct{})
		if block.Broadcast {
			for _, panel := range Panels() {
				out = append(out, Delivery{Panel: panel, Block: block})
			}
			continue
		}
		for _, target := range block.Receivers {
			for _, panel := range r.PanelsForTarget(target) {
				if _, dup := seen[panel]; dup {
					continue
				}
				seen[panel] = struct{}{}
				out = append(out, Delivery{Panel: panel, Block: block})
			}
		}
	}
	return out
}

// PanelsForTarget resolves the panes a role's messages land on.
func (r *Router) PanelsForTarget(role session.Role) []Panel {
	if panels, ok := r.panelTable[role]; ok {
		return panels
	}
	return []Panel{PanelExecutor}
}

// trackDiscipline updates unaddressed streaks and decides whether a
// reminder is due. Synthetic turns and operator turns are exempt; the
// operator types free text.
func (r *Router) trackDiscipline(turn session.Turn, dec *Decision) {
	if turn.Synthetic() || turn.Role == session.RoleOperator {
		return
	}
	addressed := false
	for _, b := range dec.Blocks {
		if !b.Implicit {
			addressed = true
			break
		}
	}
	if addressed {
		r.missStreak[turn.Role] = 0
		return
	}
	r.missStreak[turn.Role]++
	if r.missStreak[turn.Role] >= r.reminderAfter && r.remindersSent < r.reminderCap {
		r.remindersSent++
		// The streak keeps running until the role actually addresses a
		// block again; a reminder alone is not compliance.
		dec.RemindRole = turn.Role
		dec.Reminder = strings.Replace(reminderTemplate, "%s", string(turn.Role), 1)
	}
}

// BeginCycle resets the consultation budget; called when a fresh
// operator turn starts a cycle.
func (r *Router) BeginCycle() {
	r.roundsLeft = r.rounds
}

// AllowConsultation consumes one supervisor consultation round. When it
// returns false, control must come back to the operator.
func (r *Router) AllowConsultation() bool {
	if r.roundsLeft <= 0 {
		return false
	}
	r.roundsLeft--
	return true
}
