// internal/toolcall/toolcall.go
//
// Parsing and normalization of tool-call declarations embedded in model
// output. Models emit calls in a few shapes (fenced tool_call / json /
// yaml blocks, or a single-line legacy form); everything is normalized
// into a Declaration before the resolution engine sees it.

package toolcall

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Declaration is one parsed tool request. Either Args or Positional is
// populated, never both.
type Declaration struct {
	Tool       string
	Args       map[string]any
	Positional []any
	Intent     string
}

// Key returns a stable identity used for de-duplication within a turn.
func (d Declaration) Key() string {
	var b strings.Builder
	b.WriteString(d.Tool)
	b.WriteString("|")
	fmt.Fprintf(&b, "%v", d.Args)
	fmt.Fprintf(&b, "%v", d.Positional)
	return b.String()
}

var (
	fencedRe = regexp.MustCompile("(?s)```(tool_call|json|yaml)\\s*\n(.*?)```")
	legacyRe = regexp.MustCompile(`(?m)^\[TOOL_CALL\]\s+([A-Za-z0-9_.-]+)\s*(\{.*\})?\s*$`)
)

// fencedPayload is the shape accepted inside a fenced block. Models are
// loose about field names, so a few synonyms are tolerated.
type fencedPayload struct {
	Tool      string `yaml:"tool"`
	Name      string `yaml:"name"`
	Args      any    `yaml:"args"`
	Arguments any    `yaml:"arguments"`
	Intent    string `yaml:"intent"`
}

// Parse extracts every tool-call declaration from a turn's text. Text
// that contains no declaration yields an empty slice; malformed blocks
// are skipped rather than reported, since model output is not trusted
// to be well formed.
func Parse(raw string) []Declaration {
	var decls []Declaration
	seen := make(map[string]struct{})

	add := func(d Declaration) {
		d.Tool = strings.TrimSpace(d.Tool)
		if d.Tool == "" {
			return
		}
		key := d.Key()
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		decls = append(decls, d)
	}

	for _, match := range fencedRe.FindAllStringSubmatch(raw, -1) {
		var payload fencedPayload
		if err := yaml.Unmarshal([]byte(match[2]), &payload); err != nil {
			continue
		}
		tool := payload.Tool
		if tool == "" {
			tool = payload.Name
		}
		args := payload.Args
		if args == nil {
			args = payload.Arguments
		}
		decl := Declaration{Tool: tool, Intent: payload.Intent}
		switch v := args.(type) {
		case map[string]any:
			decl.Args = v
		case []any:
			decl.Positional = v
		case nil:
		default:
			decl.Positional = []any{v}
		}
		add(decl)
	}

	for _, match := range legacyRe.FindAllStringSubmatch(raw, -1) {
		decl := Declaration{Tool: match[1]}
		if match[2] != "" {
			var args map[string]any
			if err := yaml.Unmarshal([]byte(match[2]), &args); err != nil {
				continue
			}
			decl.Args = args
		}
		add(decl)
	}

	return decls
}

// aliases maps historical and colloquial tool names onto canonical ones.
// Canonical names map to themselves implicitly, which keeps
// Canonicalize idempotent.
var aliases = map[string]string{
	"run_command":     "run_shell",
	"execute_command": "run_shell",
	"shell":           "run_shell",
	"exec":            "run_shell",
	"bash":            "run_shell",
	"read":            "read_file",
	"file_read":       "read_file",
	"open_file":       "read_file",
	"write":           "write_file",
	"save_file":       "write_file",
	"append":          "append_file",
	"list":            "list_dir",
	"dir_list":        "list_dir",
	"ls":              "list_dir",
	"list_directory":  "list_dir",
	"run_python":      "run_script",
	"execute_script":  "run_script",
	"check_python_syntax": "check_syntax",
	"fetch_url":       "fetch_web",
	"http_get":        "fetch_web",
	"web_search":      "search_web",
	"search":          "search_web",
	"capabilities":    "check_capabilities",
	"take_photo":      "capture_camera_frame",
	"record_audio":    "record_microphone_clip",
}

// Canonicalize lowercases, trims and resolves aliases. Applying it twice
// always yields the same result.
func Canonicalize(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := aliases[n]; ok {
		return canonical
	}
	return n
}
