// cmd/colloquy/main.go
//
// This is the entry point for the Colloquy console.
// When you run `colloquy` from a workspace directory, this is what
// executes.
//
// Flow:
// 1. Initialize the .colloquy folder and load the workspace config
// 2. Wire the runtime: backend, router, gate, tools, watchdog, queue
// 3. Launch the operator console

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ajankowski/colloquy/internal/admission"
	"github.com/ajankowski/colloquy/internal/audit"
	"github.com/ajankowski/colloquy/internal/backend"
	"github.com/ajankowski/colloquy/internal/bus"
	"github.com/ajankowski/colloquy/internal/config"
	"github.com/ajankowski/colloquy/internal/engine"
	"github.com/ajankowski/colloquy/internal/logging"
	"github.com/ajankowski/colloquy/internal/orchestrator"
	"github.com/ajankowski/colloquy/internal/permission"
	"github.com/ajankowski/colloquy/internal/protocol"
	"github.com/ajankowski/colloquy/internal/resource"
	"github.com/ajankowski/colloquy/internal/session"
	"github.com/ajankowski/colloquy/internal/shellpolicy"
	"github.com/ajankowski/colloquy/internal/tools"
	"github.com/ajankowski/colloquy/internal/tui"
	"github.com/ajankowski/colloquy/internal/watchdog"
)

const engineSystem = `You are the Primary agent resolving tool calls.
Use the tool results you are given, request further tools with fenced tool_call blocks, and finish with a [Primary -> Operator] summary when the work is done.`

// journalSink forwards gate verdicts into the audit journal.
type journalSink struct {
	journal *audit.Journal
}

func (s journalSink) Record(granted bool, grant permission.Grant) {
	action := audit.ActionDenial
	if granted {
		action = audit.ActionGrant
	}
	s.journal.Record(action, string(session.RoleOperator), string(grant.Class), map[string]string{
		"scope":      grant.Scope,
		"durability": string(grant.Durability),
	})
}

func main() {
	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error getting working directory: %v\n", err)
		os.Exit(1)
	}

	if err := config.InitColloquyDir(cwd); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing .colloquy directory: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.New(cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening log: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	journal, err := audit.New(filepath.Join(cfg.JournalDir(), "journal.jsonl"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening journal: %v\n", err)
		os.Exit(1)
	}

	signal := resource.GPUProbe{}
	policy := shellpolicy.New(cfg.Workspace.Tools.ShellExtraAllow...)
	env := tools.Env{Root: cwd, WorkDir: cfg.WorkDir()}
	registry := tools.NewDefaultRegistry(env, policy, signal)
	loader := tools.Loader{
		RegistryPath: cfg.ToolRegistryPath(),
		SourceDir:    filepath.Join(cfg.StateDir(), "toolsrc"),
	}
	if err := tools.LoadDynamic(registry, loader); err != nil {
		logger.Printf("main: dynamic tools skipped: %v", err)
	}

	bridge := tui.NewPromptBridge()
	gate := permission.NewGate(
		permission.ParseMode(cfg.Workspace.Permission.Mode),
		cwd,
		cfg.Workspace.Permission.AllowAll,
		bridge,
	)
	gate.SetSink(journalSink{journal: journal})

	apiKey := ""
	if envName := cfg.Workspace.Backend.APIKeyEnv; envName != "" {
		apiKey = os.Getenv(envName)
	}
	client := backend.NewOpenAI(
		cfg.Workspace.Backend.BaseURL,
		apiKey,
		cfg.Workspace.Backend.Model,
		cfg.Workspace.Backend.MaxRetries,
		logger,
	)

	log := session.NewLog()
	router := protocol.NewRouter(
		protocol.WithReminderAfter(cfg.Workspace.Router.ReminderAfter),
		protocol.WithReminderCap(cfg.Workspace.Router.ReminderCap),
		protocol.WithConsultationRounds(cfg.Workspace.Router.ConsultationRounds),
	)
	controller := admission.NewController(signal, admission.Options{
		MinFreeMB:   cfg.Workspace.Admission.SupervisorFreeMB,
		MaxAdmitted: cfg.Workspace.Admission.MaxAdmitted,
		Logger:      logger,
	})
	events := bus.New(bus.WithLogger(logger))

	// The engine and watchdog hold callbacks into the orchestrator, so
	// the pointer is declared first and filled in below.
	var orch *orchestrator.Orchestrator
	eng := engine.New(engine.Options{
		Registry:       registry,
		Gate:           gate,
		Client:         client,
		Log:            log,
		Journal:        journal,
		Logger:         logger,
		MaxIterations:  cfg.Workspace.Engine.MaxIterations,
		MaxCorrections: cfg.Workspace.Engine.MaxCorrections,
		System:         engineSystem,
		Emit: func(turn session.Turn) {
			if orch != nil {
				orch.EmitEngineTurn(turn)
			}
		},
	})
	machine := watchdog.NewMachine(watchdog.Options{
		IdleAfter:     time.Duration(cfg.Workspace.Watchdog.IdleSeconds) * time.Second,
		NudgeCap:      cfg.Workspace.Watchdog.NudgeCap,
		PassiveStreak: cfg.Workspace.Watchdog.PassiveStreak,
		Logger:        logger,
		Nudge: func(text string) {
			if orch != nil {
				orch.Nudge(text)
			}
		},
	})
	orch = orchestrator.New(orchestrator.Options{
		Log:       log,
		Router:    router,
		Engine:    eng,
		Machine:   machine,
		Admission: controller,
		Client:    client,
		Bus:       events,
		Journal:   journal,
		Registry:  registry,
		Loader:    loader,
		Signal:    signal,
		Logger:    logger,
	})

	machine.Start()
	defer machine.Stop()

	app := tui.NewApp(orch, events, bridge)
	defer app.Close()

	p := tea.NewProgram(app, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running console: %v\n", err)
		os.Exit(1)
	}
}
