package scheduling

import (
	"encoding/json"
	"errors"
	"maps"
	"net/http"
	"time"

	"github.com/Vortextech01/OpenLLM/pkg/artifact"
	"github.com/Vortextech01/OpenLLM/pkg/inference"
	"github.com/Vortextech01/OpenLLM/pkg/llm"
	"github.com/Vortextech01/OpenLLM/pkg/runner"
)

const (
	// maximumGenerateRequestSize is the maximum generation request size that
	// the scheduler will accept. This should be large enough to encompass any
	// real-world prompt but also small enough to avoid DoS attacks.
	maximumGenerateRequestSize = 10 * 1024 * 1024
)

// CreateRunnerRequest represents a runner creation request. Family is
// required; everything else falls back to family or runner defaults.
type CreateRunnerRequest struct {
	// Family is the model family name, e.g. "llama".
	Family string `json:"family"`
	// Pretrained optionally overrides the family's default model.
	Pretrained string `json:"pretrained,omitempty"`
	// Backend optionally overrides the default implementation kind.
	Backend string `json:"backend,omitempty"`
	// Name optionally overrides the default llm-<family>-runner name.
	Name string `json:"name,omitempty"`
	// TrustRemoteCode optionally overrides the family's trust default.
	TrustRemoteCode *bool `json:"trust_remote_code,omitempty"`
	// Params are keyword parameters; keys carrying the tokenizer prefix are
	// tokenizer-scoped.
	Params map[string]any `json:"params,omitempty"`
	// MaxBatchSize optionally caps how many requests a worker may batch.
	MaxBatchSize int `json:"max_batch_size,omitempty"`
	// MaxLatencyMS optionally bounds how long a worker may hold requests
	// while filling a batch, in milliseconds.
	MaxLatencyMS int64 `json:"max_latency_ms,omitempty"`
}

// descriptorOptions converts the request's model fields into descriptor
// options, leaving omitted fields to their defaults.
func (r CreateRunnerRequest) descriptorOptions() []llm.DescriptorOption {
	var opts []llm.DescriptorOption
	if r.Pretrained != "" {
		opts = append(opts, llm.WithPretrained(r.Pretrained))
	}
	if r.Backend != "" {
		opts = append(opts, llm.WithBackend(r.Backend))
	}
	if r.TrustRemoteCode != nil {
		opts = append(opts, llm.WithTrustRemoteCode(*r.TrustRemoteCode))
	}
	if len(r.Params) > 0 {
		opts = append(opts, llm.WithParams(r.Params))
	}
	return opts
}

// runnerOptions converts the request's runner fields into descriptor build
// options.
func (r CreateRunnerRequest) runnerOptions() []runner.Option {
	var opts []runner.Option
	if r.Name != "" {
		opts = append(opts, runner.WithName(r.Name))
	}
	if r.MaxBatchSize > 0 {
		opts = append(opts, runner.WithMaxBatchSize(r.MaxBatchSize))
	}
	if r.MaxLatencyMS > 0 {
		opts = append(opts, runner.WithMaxLatency(time.Duration(r.MaxLatencyMS)*time.Millisecond))
	}
	return opts
}

// MethodState describes one runner method's execution contract.
type MethodState struct {
	// Batchable marks the method safe to batch across requests.
	Batchable bool `json:"batchable"`
	// BatchDim is the dimension requests are batched along.
	BatchDim int `json:"batch_dim"`
}

// RunnerState represents an active runner.
type RunnerState struct {
	// Name is the runner name.
	Name string `json:"name"`
	// Family is the model family name.
	Family string `json:"family"`
	// Tag is the resolved model artifact tag.
	Tag string `json:"tag"`
	// Backend is the implementation kind serving the runner.
	Backend string `json:"backend"`
	// Artifacts are the tags of every artifact the runner serves from, the
	// model first.
	Artifacts []string `json:"artifacts,omitempty"`
	// Methods are the runner's method contracts.
	Methods map[string]MethodState `json:"methods"`
	// MaxBatchSize is the batch size cap, zero meaning unset.
	MaxBatchSize int `json:"max_batch_size,omitempty"`
	// MaxLatencyMS is the batching latency bound in milliseconds, zero
	// meaning unset.
	MaxLatencyMS int64 `json:"max_latency_ms,omitempty"`
	// Created is when the runner was created.
	Created time.Time `json:"created"`
}

// GenerateRequest represents a generation request against a runner.
type GenerateRequest struct {
	// Prompt is the completion prompt.
	Prompt string `json:"prompt"`
	// Options are engine sampling options passed through to the backend,
	// e.g. "max_tokens", "temperature".
	Options map[string]any `json:"options,omitempty"`
}

// Usage reports token accounting for a generation.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// GenerateResponse represents a completed generation.
type GenerateResponse struct {
	// ID uniquely identifies the generation.
	ID string `json:"id"`
	// Text is the generated completion text.
	Text string `json:"text"`
	// Usage is the token accounting reported by the engine.
	Usage Usage `json:"usage"`
}

// StreamChunk is one server-sent event of a streamed generation.
type StreamChunk struct {
	// ID identifies the generation the chunk belongs to.
	ID string `json:"id"`
	// Text is the incremental completion text.
	Text string `json:"text"`
}

// BackendState describes one backend's condition.
type BackendState struct {
	// Install is the installation state: "installing", "installed" or
	// "failed".
	Install string `json:"install"`
	// Detail is the backend's own status description.
	Detail string `json:"detail,omitempty"`
}

// StatusResponse represents the daemon status.
type StatusResponse struct {
	// Status is the daemon state.
	Status string `json:"status"`
	// Backends maps backend names to their condition.
	Backends map[string]BackendState `json:"backends"`
}

// engineCompletion mirrors the portion of an OpenAI completion response the
// scheduler consumes.
type engineCompletion struct {
	Choices []engineChoice `json:"choices"`
	Usage   Usage          `json:"usage"`
}

type engineChoice struct {
	Text string `json:"text"`
}

// completionBody builds an OpenAI completion request body for the engine.
// Reserved keys win over caller options.
func completionBody(model, prompt string, stream bool, options map[string]any) ([]byte, error) {
	body := make(map[string]any, len(options)+3)
	maps.Copy(body, options)
	body["model"] = model
	body["prompt"] = prompt
	body["stream"] = stream
	return json.Marshal(body)
}

// statusForError maps scheduling errors onto HTTP response codes.
func statusForError(err error) int {
	var configErr *llm.ConfigurationError
	var importErr *llm.ImportError
	var unsupportedErr *inference.UnsupportedModelError
	switch {
	case errors.Is(err, ErrRunnerNotFound), errors.Is(err, ErrBackendNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRunnerExists):
		return http.StatusConflict
	case errors.Is(err, artifact.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, artifact.ErrInvalidTag):
		return http.StatusBadRequest
	case errors.Is(err, inference.ErrBackendNotInstalled), errors.Is(err, errLoadsDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, errModelTooBig):
		return http.StatusInsufficientStorage
	case errors.As(err, &unsupportedErr):
		return http.StatusBadRequest
	case errors.As(err, &configErr):
		// Unknown families read as absent resources; the rest is caller
		// error.
		if configErr.Field == "family" {
			return http.StatusNotFound
		}
		return http.StatusBadRequest
	case errors.As(err, &importErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
