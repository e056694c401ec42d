// Package vllm implements the vLLM-based inference backend. It serves
// safetensors models through an externally provisioned vLLM environment,
// exposing the OpenAI API over a Unix domain socket.
package vllm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/Vortextech01/OpenLLM/pkg/artifact"
	"github.com/Vortextech01/OpenLLM/pkg/diskusage"
	"github.com/Vortextech01/OpenLLM/pkg/hub"
	"github.com/Vortextech01/OpenLLM/pkg/inference"
	"github.com/Vortextech01/OpenLLM/pkg/logging"
	"github.com/Vortextech01/OpenLLM/pkg/sandbox"
	"github.com/Vortextech01/OpenLLM/pkg/tailbuffer"
)

const (
	// Name is the backend name.
	Name = "vllm"
	// formatSafetensors is the artifact format this backend produces and
	// serves.
	formatSafetensors = "safetensors"
)

// vLLM is the vLLM-based backend implementation.
type vLLM struct {
	// log is the associated logger.
	log logging.Logger
	// serverLog is the logger to use for the vLLM server process.
	serverLog logging.Logger
	// hubClient fetches model files during classification and import.
	hubClient *hub.Client
	// servePath is the directory under which serving directories are
	// materialized when models are loaded.
	servePath string
	// config is the configuration for the vLLM backend.
	config *Config
	// status is the state in which the vLLM backend is in.
	status string
	// installed records whether Install has completed successfully.
	installed bool
}

// New creates a new vLLM-based backend.
func New(log, serverLog logging.Logger, hubClient *hub.Client, servePath string, conf *Config) inference.Backend {
	// If no config is provided, use the default configuration
	if conf == nil {
		conf = NewDefaultConfig()
	}

	return &vLLM{
		log:       log,
		serverLog: serverLog,
		hubClient: hubClient,
		servePath: servePath,
		config:    conf,
		status:    "not installed",
	}
}

// Name implements inference.Backend.Name.
func (v *vLLM) Name() string {
	return Name
}

// UsesExternalEngine implements inference.Backend.UsesExternalEngine.
func (v *vLLM) UsesExternalEngine() bool {
	return false
}

// Status implements inference.Backend.Status.
func (v *vLLM) Status() string {
	return v.status
}

// GetDiskUsage implements inference.Backend.GetDiskUsage. The vLLM
// environment itself is provisioned out of band, so only the serving
// directories owned by this backend are reported.
func (v *vLLM) GetDiskUsage() (int64, error) {
	if _, err := os.Stat(v.servePath); errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	size, err := diskusage.Size(v.servePath)
	if err != nil {
		return 0, fmt.Errorf("error while getting serving directory size: %w", err)
	}
	return size, nil
}

// binaryPath returns the path of the vllm binary inside the environment.
func (v *vLLM) binaryPath() string {
	return filepath.Join(v.config.EnvPath, "bin", "vllm")
}

// Install implements inference.Backend.Install. The vLLM environment is a
// Python installation provisioned out of band, so installation reduces to
// probing for it.
func (v *vLLM) Install(ctx context.Context, httpClient *http.Client) error {
	if runtime.GOOS != "linux" {
		v.status = "platform not supported"
		return errors.New("platform not supported")
	}
	binary := v.binaryPath()
	if _, err := os.Stat(binary); err != nil {
		v.status = "vllm environment not found"
		return fmt.Errorf("vllm binary not found at %s: %w", binary, err)
	}
	v.installed = true
	v.status = fmt.Sprintf("running vllm %s", vllmVersion(binary))
	return nil
}

// Load implements inference.Backend.Load.
func (v *vLLM) Load(ctx context.Context, art *artifact.Artifact, params map[string]any, extra ...any) (inference.Model, error) {
	config := art.Config()
	if config.Format != formatSafetensors {
		return nil, fmt.Errorf("artifact %s has format %q, expected %q", art.Tag(), config.Format, formatSafetensors)
	}
	weights := art.Weights()
	if len(weights) == 0 {
		return nil, fmt.Errorf("artifact %s: %w: no weight files", art.Tag(), artifact.ErrCorrupt)
	}
	for _, weight := range weights {
		if _, err := os.Stat(weight.Path); err != nil {
			return nil, fmt.Errorf("artifact %s: %w: %v", art.Tag(), artifact.ErrCorrupt, err)
		}
	}

	dir, err := v.servingDir(art)
	if err != nil {
		return nil, err
	}

	meta := map[string]string{
		"family":     config.Family,
		"pretrained": config.Pretrained,
	}
	if config.Architecture != "" {
		meta["architecture"] = config.Architecture
	}
	if config.Quantization != "" {
		meta["quantization"] = config.Quantization
	}
	if config.ContextSize > 0 {
		meta["context_size"] = strconv.FormatUint(config.ContextSize, 10)
	}
	// Load-time parameters override the stored configuration.
	if raw, ok := params["context_size"]; ok {
		meta["context_size"] = fmt.Sprint(raw)
	}

	return &safetensorsModel{path: filepath.Join(dir, weights[0].Name), meta: meta}, nil
}

// servingDir materializes a directory holding the artifact's files under
// their original names, which is the layout vllm serve expects. The blobs
// stay in the store; the directory holds symlinks and is keyed by artifact
// ID, so repeated loads of the same artifact converge on the same path.
func (v *vLLM) servingDir(art *artifact.Artifact) (string, error) {
	dir := filepath.Join(v.servePath, art.ID().Encoded())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("unable to create serving directory: %w", err)
	}
	sources := art.Weights()
	for _, src := range art.CustomObjects() {
		sources = append(sources, src)
	}
	for _, src := range sources {
		name := filepath.FromSlash(src.Name)
		if !filepath.IsLocal(name) {
			return "", fmt.Errorf("unsafe artifact filename %q", src.Name)
		}
		link := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
			return "", fmt.Errorf("unable to create serving directory: %w", err)
		}
		if err := os.Symlink(src.Path, link); err != nil && !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("unable to link %s: %w", src.Name, err)
		}
	}
	return dir, nil
}

// LoadTokenizer implements inference.Backend.LoadTokenizer.
func (v *vLLM) LoadTokenizer(ctx context.Context, path string, params map[string]any) (inference.Tokenizer, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("tokenizer payload: %w", err)
	}
	return &safetensorsTokenizer{path: path, params: maps.Clone(params)}, nil
}

// Run implements inference.Backend.Run.
func (v *vLLM) Run(ctx context.Context, socket string, model inference.Model, mode inference.BackendMode) error {
	if !v.installed {
		return inference.ErrBackendNotInstalled
	}

	if err := os.RemoveAll(socket); err != nil && !errors.Is(err, fs.ErrNotExist) {
		v.log.Warnf("failed to remove socket file %s: %v", socket, err)
		v.log.Warnln("vLLM may not be able to start")
	}

	args, err := v.config.GetArgs(model, socket, mode)
	if err != nil {
		return err
	}
	v.log.Infof("vLLM args: %v", args)

	tailBuf := tailbuffer.New(1024)
	serverLogStream := v.serverLog.Writer()
	out := io.MultiWriter(serverLogStream, tailBuf)
	vllmSandbox, err := sandbox.Create(
		ctx,
		"",
		func(command *exec.Cmd) {
			command.Cancel = func() error {
				if runtime.GOOS == "windows" {
					return command.Process.Kill()
				}
				return command.Process.Signal(os.Interrupt)
			}
			command.Stdout = serverLogStream
			command.Stderr = out
		},
		filepath.Dir(v.binaryPath()),
		v.binaryPath(),
		args...,
	)
	if err != nil {
		return fmt.Errorf("unable to start vLLM: %w", err)
	}
	defer vllmSandbox.Close()

	vllmErrors := make(chan error, 1)
	go func() {
		vllmErr := vllmSandbox.Command().Wait()
		serverLogStream.Close()

		errOutput := new(strings.Builder)
		if _, err := io.Copy(errOutput, tailBuf); err != nil {
			v.log.Warnf("failed to read server output tail: %v", err)
		}

		if len(errOutput.String()) != 0 {
			vllmErr = fmt.Errorf("vLLM exit status: %w\nwith output: %s", vllmErr, errOutput.String())
		} else {
			vllmErr = fmt.Errorf("vLLM exit status: %w", vllmErr)
		}

		vllmErrors <- vllmErr
		close(vllmErrors)
		if err := os.Remove(socket); err != nil && !errors.Is(err, fs.ErrNotExist) {
			v.log.Warnf("failed to remove socket file %s on exit: %v", socket, err)
		}
	}()
	defer func() {
		<-vllmErrors
	}()

	select {
	case <-ctx.Done():
		return nil
	case vllmErr := <-vllmErrors:
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		return fmt.Errorf("vLLM terminated unexpectedly: %w", vllmErr)
	}
}

// GetRequiredMemoryForModel implements
// inference.Backend.GetRequiredMemoryForModel. There is no offline estimator
// for safetensors checkpoints, so requirements are reported as unknown.
func (v *vLLM) GetRequiredMemoryForModel(ctx context.Context, model inference.Model) (*inference.RequiredMemory, error) {
	return &inference.RequiredMemory{
		RAM:  1,
		VRAM: 1,
	}, nil
}

// vllmVersion asks the vllm binary for its version.
func vllmVersion(binaryPath string) string {
	output, err := exec.Command(binaryPath, "--version").CombinedOutput()
	if err != nil {
		return "unknown"
	}
	version := strings.TrimSpace(string(output))
	if version == "" {
		return "unknown"
	}
	return version
}

// safetensorsModel is the model handle produced by Load.
type safetensorsModel struct {
	path string
	meta map[string]string
}

// Path implements inference.Model.Path.
func (m *safetensorsModel) Path() string {
	return m.path
}

// Meta implements inference.Model.Meta.
func (m *safetensorsModel) Meta() map[string]string {
	return m.meta
}

// safetensorsTokenizer is the tokenizer handle produced by LoadTokenizer.
type safetensorsTokenizer struct {
	path   string
	params map[string]any
}

// Path implements inference.Tokenizer.Path.
func (t *safetensorsTokenizer) Path() string {
	return t.path
}

// Params implements inference.Tokenizer.Params.
func (t *safetensorsTokenizer) Params() map[string]any {
	return t.params
}
