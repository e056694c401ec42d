package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strings"
)

// EngineProfile is the sandbox-exec profile for llama.cpp engine processes.
//
// It keeps seatbelt's default allow policy, since enumerating everything DYLD
// and Metal need is impractical, and instead denies the facilities an engine
// never legitimately uses. The engine only needs its binary, its weights and
// its IPC socket: no network otherwise, no user files, no runtime code
// generation, no system services. llama.cpp is known to require the
// authorization, darwin, iokit, mach, socket, syscall and process classes at
// some level, which is why those stay on the allow side.
const EngineProfile = `(version 1)

(allow default)

;;; The only network access an engine gets is binding the per-slot IPC socket
;;; the scheduler assigned to it.
(deny network*)
(allow network-bind network-inbound
    (regex #"openllm-instance-[0-9]+\.sock$"))

;;; Camera, microphone and other devices.
(deny device*)

;;; NVRAM settings.
(deny nvram*)

;;; System-level privileges and job creation.
(deny system*)
(deny job-creation)

;;; No new executable code in memory at runtime.
(deny dynamic-code-generation)

;;; User preferences.
(deny user-preference*)

;;; File access. A blanket (deny file-read*) breaks llama.cpp, so deny the
;;; directories that hold sensitive data and allow the engine install, the
;;; daemon state directory and the working directory, where instance sockets
;;; live. The (home-subpath ...) predicate of system profiles does not work
;;; under sandbox-exec, hence the substituted absolute paths.
(deny file-map-executable)
(deny file-write*)
(deny file-read*
    (subpath "/Applications")
    (subpath "/private/etc")
    (subpath "/Library")
    (subpath "/Users")
    (subpath "/Volumes"))
(allow file-read* file-map-executable
    (subpath "/usr")
    (subpath "/System")
    (subpath "[ENGINEDIR]")
    (subpath "[ENGINELIBDIR]"))
(allow file-write*
    (literal "/dev/null")
    (subpath "/private/var")
    (subpath "[HOMEDIR]/.openllm")
    (subpath "[WORKDIR]"))
(allow file-read*
    (subpath "[HOMEDIR]/.openllm")
    (subpath "[WORKDIR]"))
`

func create(ctx context.Context, profile string, modifier func(*exec.Cmd), engineDir, name string, args ...string) (Sandbox, error) {
	currentUser, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	workDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("determining working directory: %w", err)
	}

	// Plain substitution carries the profile's few placeholders; switch to
	// text/template if the profile grows real structure.
	profile = strings.ReplaceAll(profile, "[HOMEDIR]", currentUser.HomeDir)
	profile = strings.ReplaceAll(profile, "[WORKDIR]", workDir)
	profile = strings.ReplaceAll(profile, "[ENGINEDIR]", engineDir)
	profile = strings.ReplaceAll(profile, "[ENGINELIBDIR]", filepath.Join(engineDir, "lib"))

	ctx, cancel := context.WithCancel(ctx)

	confined := make([]string, 0, len(args)+3)
	confined = append(confined, "-p", profile, name)
	confined = append(confined, args...)
	command := exec.CommandContext(ctx, "sandbox-exec", confined...)
	if modifier != nil {
		modifier(command)
	}

	if err := command.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("starting sandboxed process: %w", err)
	}
	return &process{cancel: cancel, command: command}, nil
}
