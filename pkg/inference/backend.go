package inference

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Vortextech01/OpenLLM/pkg/artifact"
)

// BackendMode encodes the mode in which a backend engine should operate.
type BackendMode uint8

const (
	// BackendModeCompletion indicates that the engine should serve text
	// completion requests.
	BackendModeCompletion BackendMode = iota
	// BackendModeEmbedding indicates that the engine should serve embedding
	// requests.
	BackendModeEmbedding
)

// String implements Stringer.String for BackendMode.
func (m BackendMode) String() string {
	switch m {
	case BackendModeCompletion:
		return "completion"
	case BackendModeEmbedding:
		return "embedding"
	default:
		return "unknown"
	}
}

// ErrBackendNotInstalled indicates an operation that needs the backend's
// engine binaries before they have been installed.
var ErrBackendNotInstalled = errors.New("backend is not installed")

// ErrGGUFParse indicates a weights file that could not be parsed as GGUF.
type ErrGGUFParse struct {
	Err error
}

func (e *ErrGGUFParse) Error() string {
	return "failed to parse GGUF: " + e.Err.Error()
}

func (e *ErrGGUFParse) Unwrap() error {
	return e.Err
}

// UnsupportedModelError indicates a pretrained model whose architecture maps
// to no task the backend knows how to serve.
type UnsupportedModelError struct {
	// Reference is the pretrained reference that failed classification.
	Reference string
	// Architecture is the architecture reported by the model metadata, if any.
	Architecture string
	// Backend is the name of the backend that rejected the model.
	Backend string
}

func (e *UnsupportedModelError) Error() string {
	if e.Architecture == "" {
		return fmt.Sprintf("model %q is not supported by the %s backend", e.Reference, e.Backend)
	}
	return fmt.Sprintf("model %q with architecture %q is not supported by the %s backend", e.Reference, e.Architecture, e.Backend)
}

// RequiredMemory describes the working memory an engine needs for a model. A
// sentinel value of 1 means the requirement is unknown.
type RequiredMemory struct {
	RAM  uint64
	VRAM uint64
}

// Model is an opaque handle onto weights a backend has prepared for serving.
// Handles are cheap views over store-managed files; they do not own the
// underlying blobs.
type Model interface {
	// Path returns the primary weights file path.
	Path() string
	// Meta returns backend-specific metadata describing the prepared model.
	Meta() map[string]string
}

// Tokenizer is an opaque handle onto a loaded tokenizer payload.
type Tokenizer interface {
	// Path returns the tokenizer payload path.
	Path() string
	// Params returns the parameters the tokenizer was loaded with.
	Params() map[string]any
}

// ImportRequest describes a pretrained model to classify or import.
type ImportRequest struct {
	// Reference is the pretrained model reference, either a hub repository
	// (e.g. "google/flan-t5-large") or a local file path.
	Reference string
	// TrustRemoteCode permits fetching model definition code alongside the
	// weights. Backends that never execute remote code may ignore it.
	TrustRemoteCode bool
	// ModelParams are model-scoped keyword parameters.
	ModelParams map[string]any
	// TokenizerParams are tokenizer-scoped keyword parameters.
	TokenizerParams map[string]any
	// WorkDir is the staging directory the import downloads into. The caller
	// owns its lifecycle.
	WorkDir string
}

// ImportedFile names one file staged by an import.
type ImportedFile struct {
	Name string
	Path string
}

// ImportResult describes the staged outcome of an import: classification
// metadata plus the files to be handed to the artifact store.
type ImportResult struct {
	Task         TaskKind
	Format       string
	Architecture string
	Quantization string
	ContextSize  uint64
	// Weights are the staged weight files, in load order.
	Weights []ImportedFile
	// CustomObjects are named auxiliary payloads. Imports are expected to
	// stage the tokenizer payload under artifact.TokenizerObject.
	CustomObjects map[string]ImportedFile
}

// Backend is the interface implemented by inference backends. Backend
// implementations need not be safe for concurrent invocation of the following
// methods, though the engine servers they spawn do need to support concurrent
// API requests.
type Backend interface {
	// Name returns the backend name. It must be all lowercase and usable as a
	// path component in an HTTP request path, a Unix domain socket path and an
	// artifact tag. The package providing the backend implementation should
	// also expose a constant called Name which matches the value returned by
	// this method.
	Name() string
	// UsesExternalEngine should return true if the backend serves through an
	// engine process outside this daemon's lifecycle and false if the backend
	// spawns and owns its engine processes.
	UsesExternalEngine() bool
	// Install ensures that the backend's engine binaries are installed. It
	// should return a nil error if installation succeeds or if the backend is
	// already installed. The provided HTTP client should be used for any HTTP
	// operations.
	Install(ctx context.Context, httpClient *http.Client) error
	// Status returns a description of the backend's state.
	Status() string
	// GetDiskUsage returns the disk usage of the backend's engine binaries.
	GetDiskUsage() (int64, error)
	// Classify determines the task kind for a pretrained reference without
	// importing it. It should return an *UnsupportedModelError when the model
	// architecture maps to no known task.
	Classify(ctx context.Context, req ImportRequest) (TaskKind, error)
	// Import stages the model's weights and tokenizer payload under
	// req.WorkDir and returns their descriptions. It must not mutate the
	// artifact store and must not retry on failure.
	Import(ctx context.Context, req ImportRequest) (*ImportResult, error)
	// Load prepares a stored artifact for serving and returns an opaque model
	// handle. Load must not start any server process.
	Load(ctx context.Context, art *artifact.Artifact, params map[string]any, extra ...any) (Model, error)
	// LoadTokenizer materializes the tokenizer payload at path into an opaque
	// tokenizer handle.
	LoadTokenizer(ctx context.Context, path string, params map[string]any) (Tokenizer, error)
	// Run runs an OpenAI-compatible web server on the specified Unix domain
	// socket for the specified model. It should start any process(es)
	// necessary for the backend to function for the model. It should not
	// return until either the process(es) fail or the provided context is
	// cancelled. By the time Run returns, any process(es) it has spawned must
	// terminate.
	//
	// Backend implementations should be "one-shot" (i.e. returning from Run
	// after the failure of an underlying process). Backends should not attempt
	// to perform restarts on failure. Backends should only return a nil error
	// in the case of context cancellation, otherwise they should return the
	// error that caused them to fail.
	Run(ctx context.Context, socket string, model Model, mode BackendMode) error
	// GetRequiredMemoryForModel returns the required working memory for a
	// prepared model.
	GetRequiredMemoryForModel(ctx context.Context, model Model) (*RequiredMemory, error)
}
