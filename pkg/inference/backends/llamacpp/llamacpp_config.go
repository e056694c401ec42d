package llamacpp

import (
	"runtime"
	"slices"
	"strconv"

	"github.com/Vortextech01/OpenLLM/pkg/inference"
)

// defaultContextSize is the context window used when neither the artifact
// configuration nor the load parameters carry one.
const defaultContextSize = 4096

// Config is the configuration for the llama.cpp backend.
type Config struct {
	// Args are the base arguments that are always included.
	Args []string
	// EngineImage is the OCI image providing the engine binaries. The image
	// tag is suffixed with the platform variant at install time.
	EngineImage string
}

// NewDefaultConfig creates a Config with default values.
func NewDefaultConfig() *Config {
	args := []string{"--jinja", "-ngl", "100", "--metrics"}

	// Special case for Windows ARM64
	if runtime.GOOS == "windows" && runtime.GOARCH == "arm64" {
		// Using a thread count equal to core count results in bad performance,
		// and there seems to be little to no gain in going beyond
		// core_count/2.
		if !slices.Contains(args, "--threads") {
			nThreads := max(2, runtime.NumCPU()/2)
			args = append(args, "--threads", strconv.Itoa(nThreads))
		}
	}

	return &Config{
		Args:        args,
		EngineImage: defaultEngineImage,
	}
}

// GetArgs assembles the engine command line for serving model on socket.
func (c *Config) GetArgs(model inference.Model, socket string, mode inference.BackendMode) []string {
	args := append([]string{}, c.Args...)

	args = append(args, "--model", model.Path(), "--host", socket)

	if mode == inference.BackendModeEmbedding {
		args = append(args, "--embeddings")
	}

	args = append(args, "--ctx-size", strconv.FormatUint(contextSizeFor(model), 10))

	return args
}

// contextSizeFor returns the context window to serve model with. Model
// metadata wins over the compiled-in default.
func contextSizeFor(model inference.Model) uint64 {
	if raw, ok := model.Meta()["context_size"]; ok {
		if size, err := strconv.ParseUint(raw, 10, 64); err == nil && size > 0 {
			return size
		}
	}
	return defaultContextSize
}
