// Package llamacpp implements the llama.cpp-based inference backend. It
// serves GGUF models through a sandboxed llama-server engine process speaking
// the OpenAI API over a Unix domain socket.
package llamacpp

import (
	"bufio"
	"bytes"
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
	"regexp"
	"runtime"
	"strconv"
	"strings"

	parser "github.com/gpustack/gguf-parser-go"

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
	Name = "llamacpp"
	// engineBinary is the engine server binary name.
	engineBinary = "com.openllm.llama-server"
	// defaultEngineImage is the OCI image engine binaries are pulled from.
	defaultEngineImage = "ghcr.io/vortextech01/openllm/llama-server:latest"
	// formatGGUF is the artifact format this backend produces and serves.
	formatGGUF = "gguf"
)

// llamaCpp is the llama.cpp-based backend implementation.
type llamaCpp struct {
	// log is the associated logger.
	log logging.Logger
	// serverLog is the logger to use for the llama-server engine process.
	serverLog logging.Logger
	// hubClient fetches model files during classification and import.
	hubClient *hub.Client
	// enginePath is the directory holding the installed engine, with the
	// server binary under bin/ and its libraries under lib/.
	enginePath string
	// config is the configuration for the llama.cpp backend.
	config *Config
	// status is the state in which the llama.cpp backend is in.
	status string
	// installed records whether Install has completed successfully.
	installed bool
	// gpuSupported indicates whether the installed llama-server is built with
	// GPU support.
	gpuSupported bool
}

// New creates a new llama.cpp-based backend.
func New(log, serverLog logging.Logger, hubClient *hub.Client, enginePath string, conf *Config) inference.Backend {
	// If no config is provided, use the default configuration
	if conf == nil {
		conf = NewDefaultConfig()
	}

	return &llamaCpp{
		log:        log,
		serverLog:  serverLog,
		hubClient:  hubClient,
		enginePath: enginePath,
		config:     conf,
		status:     "not installed",
	}
}

// Name implements inference.Backend.Name.
func (l *llamaCpp) Name() string {
	return Name
}

// UsesExternalEngine implements inference.Backend.UsesExternalEngine.
func (l *llamaCpp) UsesExternalEngine() bool {
	return false
}

// Status implements inference.Backend.Status.
func (l *llamaCpp) Status() string {
	return l.status
}

// GetDiskUsage implements inference.Backend.GetDiskUsage.
func (l *llamaCpp) GetDiskUsage() (int64, error) {
	size, err := diskusage.Size(l.enginePath)
	if err != nil {
		return 0, fmt.Errorf("error while getting engine size: %w", err)
	}
	return size, nil
}

// engineBinaryPath returns the path of the installed server binary.
func (l *llamaCpp) engineBinaryPath() string {
	binary := engineBinary
	if runtime.GOOS == "windows" {
		binary += ".exe"
	}
	return filepath.Join(l.enginePath, "bin", binary)
}

// Load implements inference.Backend.Load.
func (l *llamaCpp) Load(ctx context.Context, art *artifact.Artifact, params map[string]any, extra ...any) (inference.Model, error) {
	config := art.Config()
	if config.Format != formatGGUF {
		return nil, fmt.Errorf("artifact %s has format %q, expected %q", art.Tag(), config.Format, formatGGUF)
	}
	weights := art.WeightPaths()
	if len(weights) == 0 {
		return nil, fmt.Errorf("artifact %s: %w: no weight files", art.Tag(), artifact.ErrCorrupt)
	}
	for _, path := range weights {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("artifact %s: %w: %v", art.Tag(), artifact.ErrCorrupt, err)
		}
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

	return &ggufModel{path: weights[0], meta: meta}, nil
}

// LoadTokenizer implements inference.Backend.LoadTokenizer.
func (l *llamaCpp) LoadTokenizer(ctx context.Context, path string, params map[string]any) (inference.Tokenizer, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("tokenizer payload: %w", err)
	}
	return &ggufTokenizer{path: path, params: maps.Clone(params)}, nil
}

// Run implements inference.Backend.Run.
func (l *llamaCpp) Run(ctx context.Context, socket string, model inference.Model, mode inference.BackendMode) error {
	if !l.installed {
		return inference.ErrBackendNotInstalled
	}

	if err := os.RemoveAll(socket); err != nil && !errors.Is(err, fs.ErrNotExist) {
		l.log.Warnf("failed to remove socket file %s: %v", socket, err)
		l.log.Warnln("llama-server may not be able to start")
	}

	args := l.config.GetArgs(model, socket, mode)
	l.log.Infof("llama-server args: %v", args)

	tailBuf := tailbuffer.New(1024)
	serverLogStream := l.serverLog.Writer()
	out := io.MultiWriter(serverLogStream, tailBuf)
	engineSandbox, err := sandbox.Create(
		ctx,
		sandbox.EngineProfile,
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
		l.enginePath,
		l.engineBinaryPath(),
		args...,
	)
	if err != nil {
		return fmt.Errorf("unable to start llama-server: %w", err)
	}
	defer engineSandbox.Close()

	engineErrors := make(chan error, 1)
	go func() {
		engineErr := engineSandbox.Command().Wait()
		serverLogStream.Close()

		errOutput := new(strings.Builder)
		if _, err := io.Copy(errOutput, tailBuf); err != nil {
			l.log.Warnf("failed to read server output tail: %v", err)
		}

		if len(errOutput.String()) != 0 {
			engineErr = fmt.Errorf("llama-server exit status: %w\nwith output: %s", engineErr, errOutput.String())
		} else {
			engineErr = fmt.Errorf("llama-server exit status: %w", engineErr)
		}

		engineErrors <- engineErr
		close(engineErrors)
		if err := os.Remove(socket); err != nil && !errors.Is(err, fs.ErrNotExist) {
			l.log.Warnf("failed to remove socket file %s on exit: %v", socket, err)
		}
	}()
	defer func() {
		<-engineErrors
	}()

	select {
	case <-ctx.Done():
		return nil
	case engineErr := <-engineErrors:
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		return fmt.Errorf("llama-server terminated unexpectedly: %w", engineErr)
	}
}

// GetRequiredMemoryForModel implements
// inference.Backend.GetRequiredMemoryForModel.
func (l *llamaCpp) GetRequiredMemoryForModel(ctx context.Context, model inference.Model) (*inference.RequiredMemory, error) {
	modelGGUF, err := parser.ParseGGUFFile(model.Path())
	if err != nil {
		return nil, &inference.ErrGGUFParse{Err: err}
	}

	contextSize := contextSizeFor(model)

	ngl := uint64(0)
	if l.gpuSupported {
		ngl = 999
	}

	// Sum up weights + kv cache + computation for an estimate of the memory
	// needed while running inference with the given model. Device 0 is host
	// RAM; further devices are GPUs.
	estimate := modelGGUF.EstimateLLaMACppRun(
		parser.WithLLaMACppContextSize(int32(contextSize)),
		parser.WithLLaMACppLogicalBatchSize(2048),
		parser.WithLLaMACppOffloadLayers(ngl))
	ram := uint64(estimate.Devices[0].Weight.Sum() + estimate.Devices[0].KVCache.Sum() + estimate.Devices[0].Computation.Sum())
	var vram uint64
	if len(estimate.Devices) > 1 {
		vram = uint64(estimate.Devices[1].Weight.Sum() + estimate.Devices[1].KVCache.Sum() + estimate.Devices[1].Computation.Sum())
	}

	return &inference.RequiredMemory{
		RAM:  ram,
		VRAM: vram,
	}, nil
}

// checkGPUSupport probes the installed engine for usable GPU devices.
func (l *llamaCpp) checkGPUSupport(ctx context.Context) bool {
	var output bytes.Buffer
	engineSandbox, err := sandbox.Create(
		ctx,
		sandbox.EngineProfile,
		func(command *exec.Cmd) {
			command.Stdout = &output
			command.Stderr = &output
		},
		l.enginePath,
		l.engineBinaryPath(),
		"--list-devices",
	)
	if err != nil {
		l.log.Warnf("Failed to start sandboxed llama-server process to probe GPU support: %v", err)
		return false
	}
	defer engineSandbox.Close()
	if err := engineSandbox.Command().Wait(); err != nil {
		l.log.Warnf("Failed to determine if llama-server is built with GPU support: %v", err)
		return false
	}
	sc := bufio.NewScanner(strings.NewReader(output.String()))
	expectDev := false
	devRe := regexp.MustCompile(`\s{2}.*:\s`)
	ndevs := 0
	for sc.Scan() {
		if expectDev {
			if devRe.MatchString(sc.Text()) {
				ndevs += 1
			}
		} else {
			expectDev = strings.HasPrefix(sc.Text(), "Available devices:")
		}
	}
	return ndevs > 0
}

// Install implements inference.Backend.Install.
func (l *llamaCpp) Install(ctx context.Context, httpClient *http.Client) error {
	// We'll likely never support this backend on Intel Macs.
	if runtime.GOOS == "darwin" && runtime.GOARCH == "amd64" {
		l.status = "platform not supported"
		return errors.New("platform not supported")
	}

	l.status = "installing"
	if err := l.ensureLatestEngine(ctx, httpClient); err != nil {
		l.status = fmt.Sprintf("failed to install llama-server: %v", err)
		return err
	}
	l.installed = true

	l.gpuSupported = l.checkGPUSupport(ctx)
	l.status = fmt.Sprintf("running llama-server %s with gpuSupport=%t",
		engineVersion(l.engineBinaryPath()), l.gpuSupported)
	l.log.Infof("installed llama-server with gpuSupport=%t", l.gpuSupported)

	return nil
}

// engineVersion asks the installed server binary for its build version.
func engineVersion(binaryPath string) string {
	output, err := exec.Command(binaryPath, "--version").CombinedOutput()
	if err != nil {
		return "unknown"
	}
	re := regexp.MustCompile(`version: \d+ \((\w+)\)`)
	matches := re.FindStringSubmatch(string(output))
	if len(matches) == 2 {
		return matches[1]
	}
	return "unknown"
}

// ggufModel is the model handle produced by Load.
type ggufModel struct {
	path string
	meta map[string]string
}

// Path implements inference.Model.Path.
func (m *ggufModel) Path() string {
	return m.path
}

// Meta implements inference.Model.Meta.
func (m *ggufModel) Meta() map[string]string {
	return m.meta
}

// ggufTokenizer is the tokenizer handle produced by LoadTokenizer.
type ggufTokenizer struct {
	path   string
	params map[string]any
}

// Path implements inference.Tokenizer.Path.
func (t *ggufTokenizer) Path() string {
	return t.path
}

// Params implements inference.Tokenizer.Params.
func (t *ggufTokenizer) Params() map[string]any {
	return t.params
}
