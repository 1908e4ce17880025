// internal/tools/dynamic.go
//
// Model-created tools. The registry file maps tool names to Go source
// files under state/toolsrc/; each source is interpreted and must define
// ToolDefinition() returning the metadata and handler. This is the
// mechanism the create-missing-tool plan points the model at: write the
// source with write_file, add a registry entry, reload.

package tools

import (
	"context"
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"gopkg.in/yaml.v3"

	"github.com/ajankowski/colloquy/internal/permission"
)

const toolDefinitionFuncName = "ToolDefinition"

// registryFile models state/tool_registry.yaml.
type registryFile struct {
	Tools []registryEntry `yaml:"tools"`
}

type registryEntry struct {
	Name        string   `yaml:"name"`
	Source      string   `yaml:"source"`
	Description string   `yaml:"description"`
	Class       string   `yaml:"class"`
	Args        []string `yaml:"args"`
}

// Loader materializes dynamic tools from the registry file.
type Loader struct {
	// RegistryPath is the tool_registry.yaml location.
	RegistryPath string
	// SourceDir anchors relative source paths.
	SourceDir string
}

// Load evaluates every registered source and returns the resulting
// tools. A missing registry file is not an error; a broken entry is,
// since the model explicitly asked for it.
func (l Loader) Load() ([]Tool, error) {
	data, err := os.ReadFile(l.RegistryPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("tools: read registry %s: %w", l.RegistryPath, err)
	}
	var reg registryFile
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("tools: parse registry %s: %w", l.RegistryPath, err)
	}

	var loaded []Tool
	for _, entry := range reg.Tools {
		tool, err := l.loadEntry(entry)
		if err != nil {
			return nil, err
		}
		loaded = append(loaded, tool)
	}
	return loaded, nil
}

func (l Loader) loadEntry(entry registryEntry) (Tool, error) {
	name := strings.TrimSpace(entry.Name)
	if name == "" {
		return nil, fmt.Errorf("tools: registry entry with empty name")
	}
	source := strings.TrimSpace(entry.Source)
	if source == "" {
		return nil, fmt.Errorf("tools: %s: registry entry has no source", name)
	}
	if !filepath.IsAbs(source) {
		source = filepath.Join(l.SourceDir, source)
	}

	handler, err := interpretHandler(source)
	if err != nil {
		return nil, fmt.Errorf("tools: %s: %w", name, err)
	}

	spec := Spec{
		Name:        name,
		Description: strings.TrimSpace(entry.Description),
		Class:       classFor(entry.Class),
	}
	for _, arg := range entry.Args {
		arg = strings.TrimSpace(arg)
		required := !strings.HasSuffix(arg, "?")
		arg = strings.TrimSuffix(arg, "?")
		if arg != "" {
			spec.Args = append(spec.Args, ArgSpec{Name: arg, Required: required})
		}
	}
	return &dynamicTool{spec: spec, handler: handler}, nil
}

// classFor defaults unknown or absent classes to exec, the most
// restrictive class the gate prompts for.
func classFor(name string) permission.Class {
	switch strings.TrimSpace(strings.ToLower(name)) {
	case string(permission.ClassDiskRead):
		return permission.ClassDiskRead
	case string(permission.ClassDiskWrite):
		return permission.ClassDiskWrite
	case string(permission.ClassNetLocal):
		return permission.ClassNetLocal
	case string(permission.ClassNetInternet):
		return permission.ClassNetInternet
	case string(permission.ClassCamera):
		return permission.ClassCamera
	case string(permission.ClassMicrophone):
		return permission.ClassMicrophone
	default:
		return permission.ClassProcessExec
	}
}

type handlerFunc func(args map[string]any) (string, error)

func interpretHandler(path string) (handlerFunc, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(code))) == 0 {
		return nil, fmt.Errorf("%s is empty", path)
	}
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("interpreter setup: %w", err)
	}
	if _, err := i.EvalPath(path); err != nil {
		return nil, fmt.Errorf("interpret %s: %w", path, err)
	}
	// yaegi namespaces evaluated symbols by the source file's package,
	// so the lookup must be qualified with that package name.
	parsed, err := parser.ParseFile(token.NewFileSet(), path, code, parser.PackageClauseOnly)
	if err != nil {
		return nil, fmt.Errorf("interpret %s: %w", path, err)
	}
	fnValue, err := i.Eval(parsed.Name.Name + "." + toolDefinitionFuncName)
	if err != nil {
		return nil, fmt.Errorf("%s must define %s() func(map[string]any) (string, error): %w", path, toolDefinitionFuncName, err)
	}
	return wrapHandler(fnValue)
}

// wrapHandler accepts either the handler directly or a zero-arg factory
// returning it.
func wrapHandler(value reflect.Value) (handlerFunc, error) {
	if !value.IsValid() || value.Kind() != reflect.Func {
		return nil, fmt.Errorf("%s is not a function", toolDefinitionFuncName)
	}
	if direct, ok := value.Interface().(func(map[string]any) (string, error)); ok {
		return direct, nil
	}
	if value.Type().NumIn() == 0 {
		results := value.Call(nil)
		if len(results) == 1 {
			if handler, ok := results[0].Interface().(func(map[string]any) (string, error)); ok {
				return handler, nil
			}
		}
	}
	return nil, fmt.Errorf("%s must be or return func(map[string]any) (string, error)", toolDefinitionFuncName)
}

type dynamicTool struct {
	spec    Spec
	handler handlerFunc
}

func (t *dynamicTool) Spec() Spec { return t.spec }

func (t *dynamicTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	out, err := t.handler(args)
	if err != nil {
		return &Result{Err: err.Error()}, nil
	}
	return &Result{Output: out}, nil
}
