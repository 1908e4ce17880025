package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ajankowski/colloquy/internal/permission"
)

// maxReadBytes keeps a single read_file result from flooding the model
// context.
const maxReadBytes = 128 * 1024

// Env carries the filesystem boundaries shared by the file tools.
type Env struct {
	// Root is the workspace root; relative paths resolve against it.
	Root string
	// WorkDir is the jail for writes; nothing outside it is mutated.
	WorkDir string
}

// resolve turns a tool path argument into an absolute path. With jail
// set, the result must stay inside the work directory.
func (e Env) resolve(path string, jail bool) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("tools: empty path")
	}
	base := e.Root
	if jail {
		base = e.WorkDir
	}
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(base, abs)
	}
	abs = filepath.Clean(abs)
	if jail {
		rel, err := filepath.Rel(e.WorkDir, abs)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("tools: path %q escapes the work directory", path)
		}
	}
	return abs, nil
}

// ReadFile returns file contents, truncated past maxReadBytes.
type ReadFile struct{ Env Env }

func (t ReadFile) Spec() Spec {
	return Spec{
		Name:        "read_file",
		Description: "read a text file",
		Class:       permission.ClassDiskRead,
		Args:        []ArgSpec{{Name: "path", Required: true}},
	}
}

func (t ReadFile) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	path, err := t.Env.resolve(stringArg(args, "path"), false)
	if err != nil {
		return &Result{Err: err.Error()}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return &Result{Err: fmt.Sprintf("read %s: %v", path, err)}, nil
	}
	out := string(data)
	if len(out) > maxReadBytes {
		out = out[:maxReadBytes] + "\n... (truncated)"
	}
	return &Result{Output: out}, nil
}

// ListDir lists directory entries, directories first.
type ListDir struct{ Env Env }

func (t ListDir) Spec() Spec {
	return Spec{
		Name:        "list_dir",
		Description: "list directory contents",
		Class:       permission.ClassDiskRead,
		Args:        []ArgSpec{{Name: "path", Required: true}},
	}
}

func (t ListDir) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	path, err := t.Env.resolve(stringArg(args, "path"), false)
	if err != nil {
		return &Result{Err: err.Error()}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return &Result{Err: fmt.Sprintf("list %s: %v", path, err)}, nil
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		di := strings.HasSuffix(names[i], "/")
		dj := strings.HasSuffix(names[j], "/")
		if di != dj {
			return di
		}
		return names[i] < names[j]
	})
	return &Result{Output: strings.Join(names, "\n")}, nil
}

// WriteFile creates or replaces a file inside the work directory.
type WriteFile struct{ Env Env }

func (t WriteFile) Spec() Spec {
	return Spec{
		Name:        "write_file",
		Description: "create or overwrite a file in the work directory",
		Class:       permission.ClassDiskWrite,
		Args: []ArgSpec{
			{Name: "path", Required: true},
			{Name: "content", Required: true},
		},
	}
}

func (t WriteFile) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	path, err := t.Env.resolve(stringArg(args, "path"), true)
	if err != nil {
		return &Result{Err: err.Error()}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &Result{Err: fmt.Sprintf("write %s: %v", path, err)}, nil
	}
	content := stringArg(args, "content")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return &Result{Err: fmt.Sprintf("write %s: %v", path, err)}, nil
	}
	return &Result{Output: fmt.Sprintf("wrote %d bytes to %s", len(content), path)}, nil
}

// AppendFile appends to a file inside the work directory.
type AppendFile struct{ Env Env }

func (t AppendFile) Spec() Spec {
	return Spec{
		Name:        "append_file",
		Description: "append to a file in the work directory",
		Class:       permission.ClassDiskWrite,
		Args: []ArgSpec{
			{Name: "path", Required: true},
			{Name: "content", Required: true},
		},
	}
}

func (t AppendFile) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	path, err := t.Env.resolve(stringArg(args, "path"), true)
	if err != nil {
		return &Result{Err: err.Error()}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &Result{Err: fmt.Sprintf("append %s: %v", path, err)}, nil
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return &Result{Err: fmt.Sprintf("append %s: %v", path, err)}, nil
	}
	defer file.Close()
	content := stringArg(args, "content")
	if _, err := file.WriteString(content); err != nil {
		return &Result{Err: fmt.Sprintf("append %s: %v", path, err)}, nil
	}
	return &Result{Output: fmt.Sprintf("appended %d bytes to %s", len(content), path)}, nil
}
