// Package mlx reserves a backend slot for MLX serving on Apple silicon.
// Classification works so that MLX-converted repositories resolve to the
// right task, but import and serving are not implemented yet.
package mlx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strings"

	"github.com/Vortextech01/OpenLLM/pkg/artifact"
	"github.com/Vortextech01/OpenLLM/pkg/hub"
	"github.com/Vortextech01/OpenLLM/pkg/inference"
	"github.com/Vortextech01/OpenLLM/pkg/logging"
)

const (
	// Name is the backend name.
	Name = "mlx"
)

// errNotImplemented is returned by every serving operation.
var errNotImplemented = errors.New("mlx backend is not implemented")

// mlx is the MLX-based backend implementation.
type mlx struct {
	// log is the associated logger.
	log logging.Logger
	// hubClient fetches model configuration during classification.
	hubClient *hub.Client
}

// New creates a new MLX-based backend.
func New(log logging.Logger, hubClient *hub.Client) inference.Backend {
	return &mlx{log: log, hubClient: hubClient}
}

// Name implements inference.Backend.Name.
func (m *mlx) Name() string {
	return Name
}

// UsesExternalEngine implements inference.Backend.UsesExternalEngine.
func (m *mlx) UsesExternalEngine() bool {
	return false
}

// Install implements inference.Backend.Install.
func (m *mlx) Install(ctx context.Context, httpClient *http.Client) error {
	if runtime.GOOS != "darwin" {
		return errors.New("platform not supported")
	}
	// TODO: Implement.
	return errNotImplemented
}

// Status implements inference.Backend.Status.
func (m *mlx) Status() string {
	return "not implemented"
}

// GetDiskUsage implements inference.Backend.GetDiskUsage.
func (m *mlx) GetDiskUsage() (int64, error) {
	return 0, nil
}

// Classify implements inference.Backend.Classify. MLX conversions keep the
// source repository's layout, so the architecture class still comes from
// config.json.
func (m *mlx) Classify(ctx context.Context, req inference.ImportRequest) (inference.TaskKind, error) {
	raw, err := m.hubClient.GetFile(ctx, req.Reference, "config.json")
	if err != nil {
		return inference.TaskUnknown, err
	}
	var config struct {
		Architectures []string `json:"architectures"`
	}
	if err := json.Unmarshal(raw, &config); err != nil {
		return inference.TaskUnknown, err
	}
	for _, arch := range config.Architectures {
		switch {
		case strings.HasSuffix(arch, "ForConditionalGeneration"):
			return inference.TaskText2TextGeneration, nil
		case strings.HasSuffix(arch, "ForCausalLM"):
			return inference.TaskTextGeneration, nil
		}
	}
	return inference.TaskUnknown, &inference.UnsupportedModelError{
		Reference: req.Reference,
		Backend:   Name,
	}
}

// Import implements inference.Backend.Import.
func (m *mlx) Import(ctx context.Context, req inference.ImportRequest) (*inference.ImportResult, error) {
	return nil, errNotImplemented
}

// Load implements inference.Backend.Load.
func (m *mlx) Load(ctx context.Context, art *artifact.Artifact, params map[string]any, extra ...any) (inference.Model, error) {
	return nil, errNotImplemented
}

// LoadTokenizer implements inference.Backend.LoadTokenizer.
func (m *mlx) LoadTokenizer(ctx context.Context, path string, params map[string]any) (inference.Tokenizer, error) {
	return nil, errNotImplemented
}

// Run implements inference.Backend.Run.
func (m *mlx) Run(ctx context.Context, socket string, model inference.Model, mode inference.BackendMode) error {
	// TODO: Implement.
	m.log.Warn("MLX backend is not yet supported")
	return errNotImplemented
}

// GetRequiredMemoryForModel implements
// inference.Backend.GetRequiredMemoryForModel.
func (m *mlx) GetRequiredMemoryForModel(ctx context.Context, model inference.Model) (*inference.RequiredMemory, error) {
	return &inference.RequiredMemory{
		RAM:  1,
		VRAM: 1,
	}, nil
}
