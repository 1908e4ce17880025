package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/ajankowski/colloquy/internal/permission"
	"github.com/ajankowski/colloquy/internal/shellpolicy"
)

const execTimeout = 30 * time.Second

// RunShell runs a read-only shell command under the allowlist policy.
type RunShell struct {
	Env    Env
	Policy *shellpolicy.Policy
}

func (t RunShell) Spec() Spec {
	return Spec{
		Name:        "run_shell",
		Description: "run a read-only shell command",
		Class:       permission.ClassProcessExec,
		Args:        []ArgSpec{{Name: "command", Required: true}},
	}
}

func (t RunShell) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	command := strings.TrimSpace(stringArg(args, "command"))
	if err := t.Policy.Check(command); err != nil {
		return &Result{Err: err.Error()}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = t.Env.Root
	out, err := cmd.CombinedOutput()
	if err != nil {
		return &Result{Output: string(out), Err: fmt.Sprintf("command failed: %v", err)}, nil
	}
	return &Result{Output: string(out)}, nil
}

// RunScript executes a Python script from the work directory.
type RunScript struct{ Env Env }

func (t RunScript) Spec() Spec {
	return Spec{
		Name:        "run_script",
		Description: "execute a python script from the work directory",
		Class:       permission.ClassProcessExec,
		Args:        []ArgSpec{{Name: "path", Required: true}},
	}
}

func (t RunScript) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	path, err := t.Env.resolve(stringArg(args, "path"), true)
	if err != nil {
		return &Result{Err: err.Error()}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "python3", path)
	cmd.Dir = t.Env.WorkDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return &Result{Output: string(out), Err: fmt.Sprintf("script failed: %v", err)}, nil
	}
	return &Result{Output: string(out)}, nil
}

// CheckSyntax compiles a Python script without running it.
type CheckSyntax struct{ Env Env }

func (t CheckSyntax) Spec() Spec {
	return Spec{
		Name:        "check_syntax",
		Description: "check a python script for syntax errors without running it",
		Class:       permission.ClassDiskRead,
		Args:        []ArgSpec{{Name: "path", Required: true}},
	}
}

func (t CheckSyntax) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	path, err := t.Env.resolve(stringArg(args, "path"), false)
	if err != nil {
		return &Result{Err: err.Error()}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "python3", "-m", "py_compile", path).CombinedOutput()
	if err != nil {
		return &Result{Err: fmt.Sprintf("syntax check failed: %s", strings.TrimSpace(string(out)))}, nil
	}
	return &Result{Output: "syntax ok"}, nil
}
