// internal/config/config.go
//
// This package handles configuration and the .colloquy directory structure.
// Every workspace that runs colloquy gets a .colloquy/ folder created in
// its root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// ColloquyDir is the name of the directory we create in each workspace
	ColloquyDir = ".colloquy"
)

const defaultConfigYAML = `# colloquy workspace configuration
version: 1

backend:
  # Any OpenAI-compatible endpoint works here, including a local Ollama.
  base_url: http://localhost:11434/v1
  model: qwen2.5:14b
  api_key_env: COLLOQUY_API_KEY
  max_retries: 3

router:
  # Consecutive unaddressed turns tolerated per role before a reminder.
  reminder_after: 2
  # Reminders injected per session before the router goes quiet.
  reminder_cap: 5
  # Supervisor consultation rounds allowed per cycle.
  consultation_rounds: 1

engine:
  max_iterations: 15
  max_corrections: 2

watchdog:
  idle_seconds: 180
  nudge_cap: 2
  passive_streak: 2

permission:
  # strict, memoized, or plan
  mode: memoized
  allow_all: false

admission:
  # Free accelerator memory required to admit a supervisor review, in MB.
  # Set to 0 to disable the gate.
  supervisor_free_mb: 3000
  max_admitted: 1

tools:
  # Model-created tools land here; see state/tool_registry.yaml.
  registry: state/tool_registry.yaml
  shell_extra_allow: []
`

// BackendConfig selects the inference endpoint.
type BackendConfig struct {
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	APIKeyEnv  string `yaml:"api_key_env"`
	MaxRetries int    `yaml:"max_retries"`
}

// RouterConfig tunes addressing discipline.
type RouterConfig struct {
	ReminderAfter      int `yaml:"reminder_after"`
	ReminderCap        int `yaml:"reminder_cap"`
	ConsultationRounds int `yaml:"consultation_rounds"`
}

// EngineConfig bounds the tool resolution loop.
type EngineConfig struct {
	MaxIterations  int `yaml:"max_iterations"`
	MaxCorrections int `yaml:"max_corrections"`
}

// WatchdogConfig tunes idle detection.
type WatchdogConfig struct {
	IdleSeconds   int `yaml:"idle_seconds"`
	NudgeCap      int `yaml:"nudge_cap"`
	PassiveStreak int `yaml:"passive_streak"`
}

// PermissionConfig selects the gate behavior.
type PermissionConfig struct {
	Mode     string `yaml:"mode"`
	AllowAll bool   `yaml:"allow_all"`
}

// AdmissionConfig gates heavyweight model invocations.
type AdmissionConfig struct {
	SupervisorFreeMB int `yaml:"supervisor_free_mb"`
	MaxAdmitted      int `yaml:"max_admitted"`
}

// ToolsConfig locates the dynamic tool registry.
type ToolsConfig struct {
	Registry        string   `yaml:"registry"`
	ShellExtraAllow []string `yaml:"shell_extra_allow"`
}

// Workspace models .colloquy/config.yaml.
type Workspace struct {
	Version    int              `yaml:"version"`
	Backend    BackendConfig    `yaml:"backend"`
	Router     RouterConfig     `yaml:"router"`
	Engine     EngineConfig     `yaml:"engine"`
	Watchdog   WatchdogConfig   `yaml:"watchdog"`
	Permission PermissionConfig `yaml:"permission"`
	Admission  AdmissionConfig  `yaml:"admission"`
	Tools      ToolsConfig      `yaml:"tools"`
}

// Config holds the runtime configuration for colloquy.
type Config struct {
	// WorkspaceDir is the directory where the user ran `colloquy` from
	WorkspaceDir string

	// ColloquyRoot is WorkspaceDir/.colloquy
	ColloquyRoot string

	Workspace Workspace
}

// InitColloquyDir creates the .colloquy directory structure in the given
// workspace. This is called when the TUI starts up.
//
// Structure created:
// .colloquy/
// ├── logs/      <- runtime log
// ├── journal/   <- append-only activity journal
// ├── state/     <- persisted state, dynamic tool registry and sources
// └── work/      <- the jail for file writes and script runs
func InitColloquyDir(workspaceDir string) error {
	root := filepath.Join(workspaceDir, ColloquyDir)

	dirs := []string{
		filepath.Join(root, "logs"),
		filepath.Join(root, "journal"),
		filepath.Join(root, "state"),
		filepath.Join(root, "state", "toolsrc"),
		filepath.Join(root, "work"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	return ensureConfigFile(filepath.Join(root, "config.yaml"))
}

// New creates a Config populated from .colloquy/config.yaml, falling back
// to defaults when the file is absent.
func New(workspaceDir string) (*Config, error) {
	cfg := &Config{
		WorkspaceDir: workspaceDir,
		ColloquyRoot: filepath.Join(workspaceDir, ColloquyDir),
		Workspace:    defaultWorkspace(),
	}
	if err := cfg.load(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.ColloquyRoot, "logs")
}

// JournalDir returns the path to the activity journal directory.
func (c *Config) JournalDir() string {
	return filepath.Join(c.ColloquyRoot, "journal")
}

// StateDir returns the path to the state directory.
func (c *Config) StateDir() string {
	return filepath.Join(c.ColloquyRoot, "state")
}

// WorkDir returns the jail directory for file writes and script runs.
func (c *Config) WorkDir() string {
	return filepath.Join(c.ColloquyRoot, "work")
}

// ConfigPath returns the on-disk location of the config file.
func (c *Config) ConfigPath() string {
	return filepath.Join(c.ColloquyRoot, "config.yaml")
}

// ToolRegistryPath resolves the dynamic tool registry location.
func (c *Config) ToolRegistryPath() string {
	reg := strings.TrimSpace(c.Workspace.Tools.Registry)
	if reg == "" {
		reg = filepath.Join("state", "tool_registry.yaml")
	}
	if filepath.IsAbs(reg) {
		return filepath.Clean(reg)
	}
	return filepath.Join(c.ColloquyRoot, reg)
}

func (c *Config) load() error {
	path := c.ConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed Workspace
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Workspace = parsed
	return nil
}

func defaultWorkspace() Workspace {
	ws := Workspace{Version: 1}
	ws.applyDefaults()
	return ws
}

func (ws *Workspace) applyDefaults() {
	if ws.Version == 0 {
		ws.Version = 1
	}
	if ws.Backend.BaseURL == "" {
		ws.Backend.BaseURL = "http://localhost:11434/v1"
	}
	if ws.Backend.Model == "" {
		ws.Backend.Model = "qwen2.5:14b"
	}
	if ws.Backend.APIKeyEnv == "" {
		ws.Backend.APIKeyEnv = "COLLOQUY_API_KEY"
	}
	if ws.Backend.MaxRetries == 0 {
		ws.Backend.MaxRetries = 3
	}
	if ws.Router.ReminderAfter == 0 {
		ws.Router.ReminderAfter = 2
	}
	if ws.Router.ReminderCap == 0 {
		ws.Router.ReminderCap = 5
	}
	if ws.Router.ConsultationRounds == 0 {
		ws.Router.ConsultationRounds = 1
	}
	if ws.Engine.MaxIterations == 0 {
		ws.Engine.MaxIterations = 15
	}
	if ws.Engine.MaxCorrections == 0 {
		ws.Engine.MaxCorrections = 2
	}
	if ws.Watchdog.IdleSeconds == 0 {
		ws.Watchdog.IdleSeconds = 180
	}
	if ws.Watchdog.NudgeCap == 0 {
		ws.Watchdog.NudgeCap = 2
	}
	if ws.Watchdog.PassiveStreak == 0 {
		ws.Watchdog.PassiveStreak = 2
	}
	if ws.Permission.Mode == "" {
		ws.Permission.Mode = "memoized"
	}
	if ws.Admission.MaxAdmitted == 0 {
		ws.Admission.MaxAdmitted = 1
	}
	if ws.Tools.Registry == "" {
		ws.Tools.Registry = filepath.Join("state", "tool_registry.yaml")
	}
}

func (ws *Workspace) validate() error {
	if ws.Version < 1 {
		return fmt.Errorf("version must be >= 1")
	}
	switch strings.ToLower(strings.TrimSpace(ws.Permission.Mode)) {
	case "strict", "memoized", "plan":
	default:
		return fmt.Errorf("permission.mode must be 'strict', 'memoized' or 'plan'")
	}
	if ws.Engine.MaxIterations < 1 {
		return fmt.Errorf("engine.max_iterations must be >= 1")
	}
	if ws.Watchdog.IdleSeconds < 1 {
		return fmt.Errorf("watchdog.idle_seconds must be >= 1")
	}
	return nil
}

func ensureConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0o644)
}
