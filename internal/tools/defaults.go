package tools

import (
	"github.com/ajankowski/colloquy/internal/resource"
	"github.com/ajankowski/colloquy/internal/shellpolicy"
)

// NewDefaultRegistry wires the built-in tool set for a workspace.
func NewDefaultRegistry(env Env, policy *shellpolicy.Policy, signal resource.Signal) *Registry {
	registry := NewRegistry()
	builtins := []Tool{
		ReadFile{Env: env},
		ListDir{Env: env},
		WriteFile{Env: env},
		AppendFile{Env: env},
		RunShell{Env: env, Policy: policy},
		RunScript{Env: env},
		CheckSyntax{Env: env},
		FetchWeb{},
		SearchWeb{},
		CaptureCameraFrame{Env: env},
		RecordMicrophoneClip{Env: env},
	}
	for _, tool := range builtins {
		_ = registry.Register(tool)
	}
	// check_capabilities reports on the registry itself, so it goes in
	// last with a reference back to it.
	_ = registry.Register(CheckCapabilities{Registry: registry, Signal: signal, WorkDir: env.WorkDir})
	return registry
}

// LoadDynamic loads registry-file tools into an existing registry.
func LoadDynamic(registry *Registry, loader Loader) error {
	loaded, err := loader.Load()
	if err != nil {
		return err
	}
	for _, tool := range loaded {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}
	return nil
}
