// internal/tui/app.go
//
// This is the operator console for Colloquy.
// It uses bubbletea, which follows The Elm Architecture:
//
// 1. Model: Your application state
// 2. Update: A function that updates state based on messages
// 3. View: A function that renders state to a string
//
// Three panes mirror the session panels. The operator pane carries
// everything addressed to the operator, the supervisor pane carries the
// review channel, and the executor pane carries the raw working stream.

package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ajankowski/colloquy/internal/bus"
	"github.com/ajankowski/colloquy/internal/permission"
	"github.com/ajankowski/colloquy/internal/protocol"
	"github.com/ajankowski/colloquy/internal/watchdog"
)

const (
	paneHistoryLimit = 400
	statusPollEvery  = 2 * time.Second
)

// Runner drives conversation cycles. The orchestrator satisfies it; tests
// substitute a stub.
type Runner interface {
	Cycle(ctx context.Context, operatorText string) error
	ReloadTools() error
	State() watchdog.State
}

type panelEventMsg struct {
	panel protocol.Panel
	event bus.Event
}

type promptMsg struct {
	exchange promptExchange
}

type cycleDoneMsg struct {
	err error
}

type statusTickMsg struct{}

type pane struct {
	title string
	panel protocol.Panel
	view  viewport.Model
	lines []string
}

// App is the console model. It holds all UI state.
type App struct {
	runner Runner
	events *bus.Bus
	bridge *PromptBridge

	panes []pane
	input textinput.Model

	subs []bus.Subscription

	pending   *promptExchange
	busy      bool
	statusMsg string
	rawMode   bool

	width  int
	height int
}

// NewApp wires the console to a runner and the panel bus. The bridge may
// be nil when the gate runs in allow-all mode.
func NewApp(runner Runner, events *bus.Bus, bridge *PromptBridge) *App {
	input := textinput.New()
	input.Placeholder = "Speak to the panel. /reload reloads tools, /quit exits."
	input.Prompt = "> "
	input.CharLimit = 4096
	input.Focus()

	app := &App{
		runner: runner,
		events: events,
		bridge: bridge,
		input:  input,
		panes: []pane{
			{title: "OPERATOR", panel: protocol.PanelOperator, view: viewport.New(60, 12)},
			{title: "SUPERVISOR", panel: protocol.PanelSupervisor, view: viewport.New(60, 6)},
			{title: "EXECUTOR", panel: protocol.PanelExecutor, view: viewport.New(60, 6)},
		},
	}
	for i := range app.panes {
		app.subs = append(app.subs, events.Subscribe(app.panes[i].panel))
	}
	return app
}

// Close releases the bus subscriptions.
func (a *App) Close() {
	for _, sub := range a.subs {
		sub.Close()
	}
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, a.scheduleStatusTick()}
	for i := range a.subs {
		cmds = append(cmds, a.waitForPanel(i))
	}
	if a.bridge != nil {
		cmds = append(cmds, a.waitForPrompt())
	}
	return tea.Batch(cmds...)
}

func (a *App) waitForPanel(idx int) tea.Cmd {
	sub := a.subs[idx]
	panel := a.panes[idx].panel
	return func() tea.Msg {
		event, ok := <-sub.Events
		if !ok {
			return nil
		}
		return panelEventMsg{panel: panel, event: event}
	}
}

func (a *App) waitForPrompt() tea.Cmd {
	return func() tea.Msg {
		exchange, ok := <-a.bridge.exchanges
		if !ok {
			return nil
		}
		return promptMsg{exchange: exchange}
	}
}

func (a *App) scheduleStatusTick() tea.Cmd {
	return tea.Tick(statusPollEvery, func(time.Time) tea.Msg {
		return statusTickMsg{}
	})
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.resizePanes()
		return a, nil

	case panelEventMsg:
		a.appendEvent(msg.panel, msg.event)
		for i := range a.panes {
			if a.panes[i].panel == msg.panel {
				return a, a.waitForPanel(i)
			}
		}
		return a, nil

	case promptMsg:
		exchange := msg.exchange
		a.pending = &exchange
		return a, nil

	case cycleDoneMsg:
		a.busy = false
		if msg.err != nil {
			a.statusMsg = fmt.Sprintf("cycle ended: %v", msg.err)
		}
		return a, nil

	case statusTickMsg:
		return a, a.scheduleStatusTick()

	case tea.KeyMsg:
		if a.pending != nil {
			return a.answerPrompt(msg)
		}
		switch msg.String() {
		case "ctrl+c":
			return a, tea.Quit
		case "ctrl+r":
			a.rawMode = !a.rawMode
			a.redrawAll()
			return a, nil
		case "enter":
			return a.submitInput()
		case "pgup":
			a.panes[0].view.HalfViewUp()
			return a, nil
		case "pgdown":
			a.panes[0].view.HalfViewDown()
			return a, nil
		}
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

// answerPrompt turns a keypress into the pending permission response.
// y grants once, s grants for the session, a grants everything for the
// rest of the session; n and esc deny, anything else keeps waiting.
func (a *App) answerPrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	exchange := a.pending
	var resp permission.Response
	switch msg.String() {
	case "y":
		resp = permission.Response{Granted: true, Durability: permission.DurabilityOnce}
	case "s":
		resp = permission.Response{Granted: true, Durability: permission.DurabilitySession}
	case "a":
		resp = permission.Response{Granted: true, Durability: permission.DurabilityGlobal}
	case "n", "esc":
		resp = permission.Response{Granted: false}
	default:
		return a, nil
	}
	a.pending = nil
	exchange.reply <- resp
	verdict := "denied"
	if resp.Granted {
		verdict = fmt.Sprintf("granted (%s)", resp.Durability)
	}
	a.statusMsg = fmt.Sprintf("%s %s: %s", exchange.req.Class, exchange.req.Scope, verdict)
	return a, a.waitForPrompt()
}

func (a *App) submitInput() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(a.input.Value())
	if text == "" {
		return a, nil
	}
	a.input.SetValue("")

	switch text {
	case "/quit", "/exit":
		return a, tea.Quit
	case "/reload":
		if err := a.runner.ReloadTools(); err != nil {
			a.statusMsg = fmt.Sprintf("reload failed: %v", err)
		} else {
			a.statusMsg = "tool registry reloaded"
		}
		return a, nil
	case "/raw":
		a.rawMode = !a.rawMode
		a.redrawAll()
		return a, nil
	}

	if a.busy {
		a.statusMsg = "a cycle is still running; wait for it before the next turn"
		return a, nil
	}
	a.busy = true
	a.statusMsg = "working"
	runner := a.runner
	return a, func() tea.Msg {
		return cycleDoneMsg{err: runner.Cycle(context.Background(), text)}
	}
}

// appendEvent renders one bus event into its pane. On the operator pane,
// bodies flagged unreadable collapse to a summary line unless raw mode
// is on.
func (a *App) appendEvent(panel protocol.Panel, event bus.Event) {
	for i := range a.panes {
		if a.panes[i].panel != panel {
			continue
		}
		line := a.renderEvent(panel, event)
		a.panes[i].lines = append(a.panes[i].lines, line)
		if len(a.panes[i].lines) > paneHistoryLimit {
			a.panes[i].lines = a.panes[i].lines[len(a.panes[i].lines)-paneHistoryLimit:]
		}
		a.panes[i].view.SetContent(strings.Join(a.panes[i].lines, "\n"))
		a.panes[i].view.GotoBottom()
		return
	}
}

func (a *App) renderEvent(panel protocol.Panel, event bus.Event) string {
	body := strings.TrimSpace(event.Body)
	if panel == protocol.PanelOperator && !event.Readable && !a.rawMode {
		body = fmt.Sprintf("[technical output, %d chars; Ctrl+R to reveal]", len(body))
	}
	label := string(event.Role)
	if event.Type == bus.TypeStatus {
		label = "status"
	}
	if event.Type == bus.TypeDenial {
		label = "denied"
	}
	return fmt.Sprintf("%s %s", roleStyle(event.Type).Render(label+":"), body)
}

func (a *App) redrawAll() {
	for i := range a.panes {
		a.panes[i].view.SetContent(strings.Join(a.panes[i].lines, "\n"))
		a.panes[i].view.GotoBottom()
	}
}

func (a *App) resizePanes() {
	width := max(40, a.width-4)
	operatorHeight := max(6, (a.height-10)/2)
	sideHeight := max(3, (a.height-10)/4)
	a.panes[0].view.Width = width
	a.panes[0].view.Height = operatorHeight
	for i := 1; i < len(a.panes); i++ {
		a.panes[i].view.Width = width
		a.panes[i].view.Height = sideHeight
	}
	a.input.Width = max(20, width-4)
}

// View renders the console.
func (a *App) View() string {
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render("⬡ COLLOQUY")

	sections := []string{header}
	for i := range a.panes {
		sections = append(sections, a.renderPane(&a.panes[i]))
	}
	if a.pending != nil {
		sections = append(sections, a.renderPromptModal())
	}
	sections = append(sections, a.input.View(), a.renderStatusBar())
	return strings.Join(sections, "\n")
}

func (a *App) renderPane(p *pane) string {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#AAAAAA")).
		Render(p.title)
	body := p.view.View()
	if len(p.lines) == 0 {
		body = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")).Render("quiet")
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(lipgloss.JoinVertical(lipgloss.Left, title, body))
}

func (a *App) renderPromptModal() string {
	req := a.pending.req
	text := fmt.Sprintf("Permission requested: %s on %q\nReason: %s\n[y] allow once   [s] allow for session   [a] allow everything   [n] deny",
		req.Class, req.Scope, strings.TrimSpace(req.Reason))
	return lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(lipgloss.Color("#FFB86C")).
		Padding(0, 1).
		Render(text)
}

func (a *App) renderStatusBar() string {
	state := string(a.runner.State())
	parts := []string{fmt.Sprintf("state: %s", state)}
	if a.busy {
		parts = append(parts, "cycle running")
	}
	if a.rawMode {
		parts = append(parts, "raw output on")
	}
	if a.statusMsg != "" {
		parts = append(parts, a.statusMsg)
	}
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		Render(strings.Join(parts, " · "))
}

func roleStyle(t bus.EventType) lipgloss.Style {
	switch t {
	case bus.TypeStatus:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB86C"))
	case bus.TypeDenial:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
