package sandbox

import (
	"bytes"
	"os/exec"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// probeCommand returns a short-lived command that exists on the platform.
func probeCommand() (string, []string) {
	if runtime.GOOS == "windows" {
		return "cmd", []string{"/c", "ver"}
	}
	return "date", nil
}

func TestCreateRunsProcess(t *testing.T) {
	name, args := probeCommand()
	box, err := Create(t.Context(), EngineProfile, nil, "", name, args...)
	require.NoError(t, err)
	require.NoError(t, box.Command().Wait())
	require.NoError(t, box.Close())
}

func TestCreateAppliesModifier(t *testing.T) {
	var output bytes.Buffer
	name, args := probeCommand()
	box, err := Create(t.Context(), EngineProfile, func(command *exec.Cmd) {
		command.Stdout = &output
		command.Stderr = &output
	}, "", name, args...)
	require.NoError(t, err)
	require.NoError(t, box.Command().Wait())
	require.NoError(t, box.Close())
	require.NotEmpty(t, output.String())
}
