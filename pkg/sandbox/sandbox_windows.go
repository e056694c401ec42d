package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"

	"github.com/kolesnikovae/go-winjob"
)

// EngineProfile is the confinement profile for llama.cpp engine processes.
// On Windows a profile is a list of job object limit tokens.
const EngineProfile = `(WithDesktopLimit)
(WithDieOnUnhandledException)
(WithDisplaySettingsLimit)
(WithExitWindowsLimit)
(WithGlobalAtomsLimit)
(WithHandlesLimit)
(WithDisableOutgoingNetworking)
(WithReadClipboardLimit)
(WithSystemParametersLimit)
(WithWriteClipboardLimit)
`

// limitPattern extracts limit tokens from a profile.
var limitPattern = regexp.MustCompile(`\(With[a-zA-Z]+\)`)

// limitsByToken maps profile tokens to job object limit constructors.
var limitsByToken = map[string]func() winjob.Limit{
	"(WithDesktopLimit)":            winjob.WithDesktopLimit,
	"(WithDieOnUnhandledException)": winjob.WithDieOnUnhandledException,
	"(WithDisplaySettingsLimit)":    winjob.WithDisplaySettingsLimit,
	"(WithExitWindowsLimit)":        winjob.WithExitWindowsLimit,
	"(WithGlobalAtomsLimit)":        winjob.WithGlobalAtomsLimit,
	"(WithHandlesLimit)":            winjob.WithHandlesLimit,
	"(WithDisableOutgoingNetworking)": func() winjob.Limit {
		return winjob.WithOutgoingBandwidthLimit(0)
	},
	"(WithReadClipboardLimit)":    winjob.WithReadClipboardLimit,
	"(WithSystemParametersLimit)": winjob.WithSystemParametersLimit,
	"(WithWriteClipboardLimit)":   winjob.WithWriteClipboardLimit,
}

// jobSandbox confines the engine inside a Windows job object. Closing the
// job kills the process.
type jobSandbox struct {
	job     *winjob.JobObject
	command *exec.Cmd
}

func (s *jobSandbox) Command() *exec.Cmd {
	return s.command
}

func (s *jobSandbox) Close() error {
	return s.job.Close()
}

func create(ctx context.Context, profile string, modifier func(*exec.Cmd), _, name string, args ...string) (Sandbox, error) {
	limits := []winjob.Limit{winjob.WithKillOnJobClose()}
	for _, token := range limitPattern.FindAllString(profile, -1) {
		constructor, ok := limitsByToken[token]
		if !ok {
			return nil, fmt.Errorf("unknown limit token: %q", token)
		}
		limits = append(limits, constructor())
	}

	command := exec.CommandContext(ctx, name, args...)
	if modifier != nil {
		modifier(command)
	}

	job, err := winjob.Start(command, limits...)
	if err != nil {
		return nil, fmt.Errorf("starting sandboxed process: %w", err)
	}
	return &jobSandbox{job: job, command: command}, nil
}
