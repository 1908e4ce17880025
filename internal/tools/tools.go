// internal/tools/tools.go
//
// Tool registry and the contract every executor implements. Execution
// failures that belong to the tool (missing file, refused command) go in
// Result.Err; returned errors mean the runtime itself misbehaved.

package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ajankowski/colloquy/internal/permission"
)

// ArgSpec describes one named argument.
type ArgSpec struct {
	Name        string
	Required    bool
	Description string
}

// Spec describes a tool to the model and to the permission gate.
type Spec struct {
	Name        string
	Description string
	Class       permission.Class
	Args        []ArgSpec
}

// Result is what a tool produced.
type Result struct {
	Output string
	Err    string
}

// Tool executes one capability.
type Tool interface {
	Spec() Spec
	Execute(ctx context.Context, args map[string]any) (*Result, error)
}

// Registry holds the live tool set. Dynamic tools register at runtime,
// so access is synchronized.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Names are unique; re-registering replaces the
// previous entry, which is how reloaded dynamic tools update.
func (r *Registry) Register(tool Tool) error {
	name := strings.TrimSpace(tool.Spec().Name)
	if name == "" {
		return fmt.Errorf("tools: tool with empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = tool
	return nil
}

// Get looks a tool up by canonical name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe renders a one-line-per-tool catalog for corrective prompts.
func (r *Registry) Describe() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		spec := r.tools[name].Spec()
		b.WriteString("- ")
		b.WriteString(spec.Name)
		if len(spec.Args) > 0 {
			b.WriteString("(")
			for i, arg := range spec.Args {
				if i > 0 {
					b.WriteString(", ")
				}
				b.WriteString(arg.Name)
				if !arg.Required {
					b.WriteString("?")
				}
			}
			b.WriteString(")")
		}
		if spec.Description != "" {
			b.WriteString(": ")
			b.WriteString(spec.Description)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// MapPositional maps positional values onto the spec's argument order.
// Extra values are dropped; missing required arguments surface later in
// validation.
func MapPositional(spec Spec, positional []any) map[string]any {
	args := make(map[string]any, len(positional))
	for i, value := range positional {
		if i >= len(spec.Args) {
			break
		}
		args[spec.Args[i].Name] = value
	}
	return args
}

// ValidateArgs checks required arguments are present.
func ValidateArgs(spec Spec, args map[string]any) error {
	for _, arg := range spec.Args {
		if !arg.Required {
			continue
		}
		if _, ok := args[arg.Name]; !ok {
			return fmt.Errorf("tools: %s: missing required argument %q", spec.Name, arg.Name)
		}
	}
	return nil
}

func stringArg(args map[string]any, name string) string {
	if v, ok := args[name]; ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}
