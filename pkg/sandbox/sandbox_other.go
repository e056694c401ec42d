//go:build !darwin && !windows

package sandbox

import (
	"context"
	"fmt"
	"os/exec"
)

// EngineProfile is the confinement profile for llama.cpp engine processes.
// Non-Darwin POSIX platforms only scope the process lifetime, so the profile
// is empty.
const EngineProfile = ``

func create(ctx context.Context, _ string, modifier func(*exec.Cmd), _, name string, args ...string) (Sandbox, error) {
	ctx, cancel := context.WithCancel(ctx)

	command := exec.CommandContext(ctx, name, args...)
	if modifier != nil {
		modifier(command)
	}

	if err := command.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("starting process: %w", err)
	}
	return &process{cancel: cancel, command: command}, nil
}
