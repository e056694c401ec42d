package vllm

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/Vortextech01/OpenLLM/pkg/inference"
)

// Config is the configuration for the vLLM backend.
type Config struct {
	// Args are the base arguments that are always included.
	Args []string
	// EnvPath is the root of the externally provisioned vLLM environment,
	// with the vllm binary under bin/.
	EnvPath string
}

// NewDefaultConfig creates a new Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Args:    []string{},
		EnvPath: "/opt/vllm-env",
	}
}

// GetArgs returns the vllm serve invocation for the given model handle.
func (c *Config) GetArgs(model inference.Model, socket string, mode inference.BackendMode) ([]string, error) {
	// Start with the arguments from Config
	args := append([]string{}, c.Args...)

	// vLLM serves the directory containing the safetensors files, so hand it
	// the parent of the primary weights file.
	args = append(args, "serve", filepath.Dir(model.Path()))

	// Add socket arguments
	args = append(args, "--uds", socket)

	meta := model.Meta()
	if pretrained := meta["pretrained"]; pretrained != "" {
		args = append(args, "--served-model-name", pretrained)
	}

	// Add mode-specific arguments
	switch mode {
	case inference.BackendModeCompletion:
		// Default mode for vLLM
	case inference.BackendModeEmbedding:
		// vLLM doesn't have a specific embedding flag like llama.cpp.
		// Embedding models are detected automatically.
	default:
		return nil, fmt.Errorf("unsupported backend mode %q", mode)
	}

	// Cap the model length when the model carries a context size. If absent,
	// vLLM derives it from the model configuration.
	if raw := meta["context_size"]; raw != "" {
		if contextSize, err := strconv.ParseUint(raw, 10, 64); err == nil {
			args = append(args, "--max-model-len", strconv.FormatUint(contextSize, 10))
		}
	}

	return args, nil
}
