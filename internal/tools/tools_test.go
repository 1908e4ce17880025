package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ajankowski/colloquy/internal/permission"
	"github.com/ajankowski/colloquy/internal/resource"
	"github.com/ajankowski/colloquy/internal/shellpolicy"
)

func testEnv(t *testing.T) Env {
	t.Helper()
	root := t.TempDir()
	work := filepath.Join(root, "work")
	if err := os.MkdirAll(work, 0o755); err != nil {
		t.Fatal(err)
	}
	return Env{Root: root, WorkDir: work}
}

func TestReadFileAndListDir(t *testing.T) {
	env := testEnv(t)
	if err := os.WriteFile(filepath.Join(env.Root, "notes.txt"), []byte("two entries"), 0o644); err != nil {
		t.Fatal(err)
	}

	read, err := ReadFile{Env: env}.Execute(context.Background(), map[string]any{"path": "notes.txt"})
	if err != nil {
		t.Fatalf("read execute: %v", err)
	}
	if read.Err != "" || read.Output != "two entries" {
		t.Fatalf("read result = %+v", read)
	}

	list, err := ListDir{Env: env}.Execute(context.Background(), map[string]any{"path": "."})
	if err != nil {
		t.Fatalf("list execute: %v", err)
	}
	if !strings.Contains(list.Output, "work/") || !strings.Contains(list.Output, "notes.txt") {
		t.Fatalf("list output = %q", list.Output)
	}
	// Directories sort before files.
	if strings.Index(list.Output, "work/") > strings.Index(list.Output, "notes.txt") {
		t.Fatalf("directories not listed first: %q", list.Output)
	}
}

func TestReadFileMissingIsToolError(t *testing.T) {
	env := testEnv(t)
	result, err := ReadFile{Env: env}.Execute(context.Background(), map[string]any{"path": "absent.txt"})
	if err != nil {
		t.Fatalf("execute returned runtime error: %v", err)
	}
	if result.Err == "" {
		t.Fatalf("expected tool error for missing file")
	}
}

func TestWriteAndAppendStayInWorkDir(t *testing.T) {
	env := testEnv(t)
	write, err := WriteFile{Env: env}.Execute(context.Background(), map[string]any{
		"path": "out.txt", "content": "alpha",
	})
	if err != nil || write.Err != "" {
		t.Fatalf("write = %+v, %v", write, err)
	}
	app, err := AppendFile{Env: env}.Execute(context.Background(), map[string]any{
		"path": "out.txt", "content": " beta",
	})
	if err != nil || app.Err != "" {
		t.Fatalf("append = %+v, %v", app, err)
	}
	data, err := os.ReadFile(filepath.Join(env.WorkDir, "out.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "alpha beta" {
		t.Fatalf("content = %q", data)
	}
}

func TestWriteFileEscapeIsRefused(t *testing.T) {
	env := testEnv(t)
	for _, path := range []string{"../escape.txt", "/tmp/escape.txt", "a/../../escape.txt"} {
		result, err := WriteFile{Env: env}.Execute(context.Background(), map[string]any{
			"path": path, "content": "nope",
		})
		if err != nil {
			t.Fatalf("execute returned runtime error: %v", err)
		}
		if result.Err == "" {
			t.Fatalf("write to %q was not refused", path)
		}
	}
}

func TestRunShellHonorsPolicy(t *testing.T) {
	env := testEnv(t)
	shell := RunShell{Env: env, Policy: shellpolicy.New()}

	ok, err := shell.Execute(context.Background(), map[string]any{"command": "echo hello"})
	if err != nil || ok.Err != "" {
		t.Fatalf("echo = %+v, %v", ok, err)
	}
	if !strings.Contains(ok.Output, "hello") {
		t.Fatalf("output = %q", ok.Output)
	}

	refused, err := shell.Execute(context.Background(), map[string]any{"command": "rm -rf ."})
	if err != nil {
		t.Fatalf("execute returned runtime error: %v", err)
	}
	if refused.Err == "" {
		t.Fatalf("mutating command was not refused")
	}
}

func TestRegistryDescribeAndNames(t *testing.T) {
	env := testEnv(t)
	registry := NewDefaultRegistry(env, shellpolicy.New(), resource.Fixed{})
	names := registry.Names()
	for _, want := range []string{"read_file", "write_file", "run_shell", "check_capabilities"} {
		found := false
		for _, name := range names {
			if name == want {
				found = true
			}
		}
		if !found {
			t.Fatalf("registry missing %s; have %v", want, names)
		}
	}
	desc := registry.Describe()
	if !strings.Contains(desc, "read_file(path)") {
		t.Fatalf("describe missing arg hints: %q", desc)
	}
}

func TestCheckCapabilitiesReportsHeadroom(t *testing.T) {
	env := testEnv(t)
	registry := NewDefaultRegistry(env, shellpolicy.New(), resource.Fixed{
		Profile: resource.Profile{FreeMB: 4096, TotalMB: 8192, SuggestedCtx: 4096, Known: true},
	})
	tool, ok := registry.Get("check_capabilities")
	if !ok {
		t.Fatalf("check_capabilities not registered")
	}
	result, err := tool.Execute(context.Background(), nil)
	if err != nil || result.Err != "" {
		t.Fatalf("execute = %+v, %v", result, err)
	}
	if !strings.Contains(result.Output, "4096/8192 MB free") {
		t.Fatalf("output = %q", result.Output)
	}
}

func TestMapPositionalAndValidate(t *testing.T) {
	spec := Spec{
		Name:  "read_file",
		Class: permission.ClassDiskRead,
		Args:  []ArgSpec{{Name: "path", Required: true}},
	}
	args := MapPositional(spec, []any{"notes.txt", "extra"})
	if args["path"] != "notes.txt" || len(args) != 1 {
		t.Fatalf("args = %v", args)
	}
	if err := ValidateArgs(spec, args); err != nil {
		t.Fatalf("validate = %v", err)
	}
	if err := ValidateArgs(spec, map[string]any{}); err == nil {
		t.Fatalf("missing required arg not caught")
	}
}

func TestDynamicLoaderRegistersTool(t *testing.T) {
	dir := t.TempDir()
	source := `package tool

import "strings"

func ToolDefinition() func(map[string]any) (string, error) {
	return func(args map[string]any) (string, error) {
		word, _ := args["word"].(string)
		return strings.ToUpper(word), nil
	}
}
`
	if err := os.WriteFile(filepath.Join(dir, "shout.go"), []byte(source), 0o644); err != nil {
		t.Fatal(err)
	}
	registry := `tools:
  - name: shout
    source: shout.go
    description: uppercase a word
    class: disk.read
    args: [word]
`
	regPath := filepath.Join(dir, "tool_registry.yaml")
	if err := os.WriteFile(regPath, []byte(registry), 0o644); err != nil {
		t.Fatal(err)
	}

	loaded, err := Loader{RegistryPath: regPath, SourceDir: dir}.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("len(loaded) = %d, want 1", len(loaded))
	}
	spec := loaded[0].Spec()
	if spec.Name != "shout" || spec.Class != permission.ClassDiskRead {
		t.Fatalf("spec = %+v", spec)
	}
	result, err := loaded[0].Execute(context.Background(), map[string]any{"word": "quiet"})
	if err != nil || result.Err != "" {
		t.Fatalf("execute = %+v, %v", result, err)
	}
	if result.Output != "QUIET" {
		t.Fatalf("output = %q", result.Output)
	}
}

func TestDynamicLoaderMissingRegistryIsQuiet(t *testing.T) {
	loaded, err := Loader{RegistryPath: filepath.Join(t.TempDir(), "absent.yaml")}.Load()
	if err != nil || loaded != nil {
		t.Fatalf("load = %v, %v; want nil, nil", loaded, err)
	}
}
