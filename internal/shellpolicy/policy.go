// internal/shellpolicy/policy.go
//
// Read-only shell policy for the run_shell tool. The executing agent may
// inspect the machine freely but anything that mutates state has to go
// through the dedicated file tools, where the permission gate and the
// workspace jail apply.

package shellpolicy

import (
	"fmt"
	"strings"
)

// Policy decides whether a shell command line is acceptable.
type Policy struct {
	allow map[string]struct{}
}

var defaultAllow = []string{
	"ls", "cat", "head", "tail", "wc", "grep", "find", "file", "stat",
	"pwd", "echo", "date", "uname", "whoami", "id", "env", "which",
	"df", "du", "free", "ps", "uptime", "hostname", "sort", "uniq",
	"cut", "tr", "diff", "basename", "dirname", "realpath", "nproc",
	"nvidia-smi",
}

// Disallowed shell metacharacters. Pipes between allowed commands are
// fine; redirection and command substitution are not.
var forbiddenTokens = []string{">", ">>", "<", "$(", "`", "&&", "||", ";"}

// New creates a policy with the default allowlist plus any extras from
// configuration.
func New(extra ...string) *Policy {
	p := &Policy{allow: make(map[string]struct{}, len(defaultAllow)+len(extra))}
	for _, cmd := range defaultAllow {
		p.allow[cmd] = struct{}{}
	}
	for _, cmd := range extra {
		cmd = strings.TrimSpace(strings.ToLower(cmd))
		if cmd != "" {
			p.allow[cmd] = struct{}{}
		}
	}
	return p
}

// Check returns nil when the command line is acceptable, otherwise an
// error naming the first offending segment.
func (p *Policy) Check(commandLine string) error {
	line := strings.TrimSpace(commandLine)
	if line == "" {
		return fmt.Errorf("shellpolicy: empty command")
	}
	for _, tok := range forbiddenTokens {
		if strings.Contains(line, tok) {
			return fmt.Errorf("shellpolicy: %q is not permitted in read-only shell commands", tok)
		}
	}
	// Each pipeline segment must start with an allowed binary.
	for _, segment := range strings.Split(line, "|") {
		fields := strings.Fields(segment)
		if len(fields) == 0 {
			return fmt.Errorf("shellpolicy: empty pipeline segment")
		}
		name := baseCommand(fields[0])
		if _, ok := p.allow[name]; !ok {
			return fmt.Errorf("shellpolicy: command %q is not on the read-only allowlist", name)
		}
	}
	return nil
}

// Allowlist returns the permitted command names in no particular order.
func (p *Policy) Allowlist() []string {
	out := make([]string, 0, len(p.allow))
	for cmd := range p.allow {
		out = append(out, cmd)
	}
	return out
}

func baseCommand(token string) string {
	token = strings.ToLower(token)
	if idx := strings.LastIndexByte(token, '/'); idx >= 0 {
		token = token[idx+1:]
	}
	return token
}
