// internal/resource/signal.go
//
// Scarce-resource signal. The admission controller and the backend both
// consult it: the former to gate heavyweight invocations, the latter to
// size the inference context.

package resource

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Profile describes currently available headroom. Known is false when no
// probe could produce a reading; consumers treat that as unconstrained.
type Profile struct {
	FreeMB       int
	TotalMB      int
	SuggestedCtx int
	Known        bool
}

// Signal reports resource headroom.
type Signal interface {
	Headroom() Profile
}

// Fixed is a Signal that always returns the same profile. Used for tests
// and for config-forced overrides.
type Fixed struct {
	Profile Profile
}

func (f Fixed) Headroom() Profile { return f.Profile }

// GPUProbe samples free accelerator memory through nvidia-smi. Absence
// of the utility is not an error; the probe reports an unknown profile
// and the rest of the system proceeds unconstrained.
type GPUProbe struct {
	Timeout time.Duration
}

// Headroom runs one sample.
func (p GPUProbe) Headroom() Profile {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=memory.free,memory.total",
		"--format=csv,noheader,nounits",
	).Output()
	if err != nil {
		return Profile{}
	}
	return parseSample(string(out))
}

func parseSample(out string) Profile {
	line := strings.TrimSpace(out)
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	parts := strings.Split(line, ",")
	if len(parts) != 2 {
		return Profile{}
	}
	free, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	total, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return Profile{}
	}
	return Profile{
		FreeMB:       free,
		TotalMB:      total,
		SuggestedCtx: suggestedContext(free),
		Known:        true,
	}
}

// suggestedContext maps free memory to a context-window size the local
// model can afford.
func suggestedContext(freeMB int) int {
	switch {
	case freeMB < 2048:
		return 1024
	case freeMB < 4096:
		return 2048
	case freeMB < 8192:
		return 4096
	default:
		return 8192
	}
}
