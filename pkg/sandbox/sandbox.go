// Package sandbox starts inference engine processes under OS-level
// confinement. An engine parses untrusted model weights, so it gets no
// network access beyond its IPC socket and no reach into user data.
package sandbox

import (
	"context"
	"os/exec"
)

// Sandbox is a single running confined process.
type Sandbox interface {
	// Command returns the running process handle.
	Command() *exec.Cmd
	// Close releases the sandbox, terminating the process if it is still
	// running.
	Close() error
}

// process is the Sandbox implementation for platforms that scope the engine
// to a cancelable context.
type process struct {
	cancel  context.CancelFunc
	command *exec.Cmd
}

func (p *process) Command() *exec.Cmd {
	return p.command
}

func (p *process) Close() error {
	p.cancel()
	return nil
}

// Create starts name with args inside the platform sandbox. The profile
// selects a confinement profile, normally EngineProfile; an empty profile
// still scopes the process lifetime. The modifier, when non-nil, adjusts the
// command before it starts. engineDir is the directory holding the engine
// binary and its libraries, which confining platforms grant read and execute
// access to.
func Create(ctx context.Context, profile string, modifier func(*exec.Cmd), engineDir, name string, args ...string) (Sandbox, error) {
	return create(ctx, profile, modifier, engineDir, name, args...)
}
