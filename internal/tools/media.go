package tools

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ajankowski/colloquy/internal/permission"
	"github.com/ajankowski/colloquy/internal/resource"
)

// CaptureCameraFrame grabs one frame from the default video device via
// ffmpeg. Missing hardware or a missing ffmpeg is a tool-level failure.
type CaptureCameraFrame struct{ Env Env }

func (t CaptureCameraFrame) Spec() Spec {
	return Spec{
		Name:        "capture_camera_frame",
		Description: "capture one frame from the camera into the work directory",
		Class:       permission.ClassCamera,
		Args:        []ArgSpec{{Name: "path", Description: "output file, defaults to frame.jpg"}},
	}
}

func (t CaptureCameraFrame) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	out := stringArg(args, "path")
	if out == "" {
		out = "frame.jpg"
	}
	path, err := t.Env.resolve(out, true)
	if err != nil {
		return &Result{Err: err.Error()}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "ffmpeg", "-y",
		"-f", "v4l2", "-i", "/dev/video0",
		"-frames:v", "1", path)
	if output, err := cmd.CombinedOutput(); err != nil {
		return &Result{Err: fmt.Sprintf("camera capture failed: %v: %s", err, tailOf(output))}, nil
	}
	return &Result{Output: "captured frame to " + path}, nil
}

// RecordMicrophoneClip records a short clip from the default audio
// source via ffmpeg.
type RecordMicrophoneClip struct{ Env Env }

func (t RecordMicrophoneClip) Spec() Spec {
	return Spec{
		Name:        "record_microphone_clip",
		Description: "record a short microphone clip into the work directory",
		Class:       permission.ClassMicrophone,
		Args: []ArgSpec{
			{Name: "seconds", Description: "clip length, defaults to 5"},
			{Name: "path", Description: "output file, defaults to clip.wav"},
		},
	}
}

func (t RecordMicrophoneClip) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	seconds := 5
	if raw := stringArg(args, "seconds"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 60 {
			seconds = n
		}
	}
	out := stringArg(args, "path")
	if out == "" {
		out = "clip.wav"
	}
	path, err := t.Env.resolve(out, true)
	if err != nil {
		return &Result{Err: err.Error()}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(seconds+10)*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "ffmpeg", "-y",
		"-f", "alsa", "-i", "default",
		"-t", strconv.Itoa(seconds), path)
	if output, err := cmd.CombinedOutput(); err != nil {
		return &Result{Err: fmt.Sprintf("microphone capture failed: %v: %s", err, tailOf(output))}, nil
	}
	return &Result{Output: fmt.Sprintf("recorded %ds clip to %s", seconds, path)}, nil
}

// CheckCapabilities reports the live tool catalog and resource headroom
// so the model can plan within its means.
type CheckCapabilities struct {
	Registry *Registry
	Signal   resource.Signal
	WorkDir  string
}

func (t CheckCapabilities) Spec() Spec {
	return Spec{
		Name:        "check_capabilities",
		Description: "report available tools and resource headroom",
		Class:       permission.ClassDiskRead,
	}
}

func (t CheckCapabilities) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	report := "tools:\n" + t.Registry.Describe()
	report += "\nwork directory: " + filepath.Clean(t.WorkDir)
	if t.Signal != nil {
		if profile := t.Signal.Headroom(); profile.Known {
			report += fmt.Sprintf("\naccelerator: %d/%d MB free, suggested context %d",
				profile.FreeMB, profile.TotalMB, profile.SuggestedCtx)
		} else {
			report += "\naccelerator: no reading available"
		}
	}
	return &Result{Output: report}, nil
}

func tailOf(output []byte) string {
	const keep = 300
	s := string(output)
	if len(s) > keep {
		s = s[len(s)-keep:]
	}
	return s
}
