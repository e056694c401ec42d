package models

import (
	"time"

	"github.com/Vortextech01/OpenLLM/pkg/artifact"
	"github.com/Vortextech01/OpenLLM/pkg/llm"
)

// ImportRequest represents a model import request. Family is required;
// everything else falls back to family defaults the same way descriptor
// construction does.
type ImportRequest struct {
	// Family is the model family name, e.g. "flan-t5".
	Family string `json:"family"`
	// Pretrained optionally overrides the family's default model.
	Pretrained string `json:"pretrained,omitempty"`
	// Backend optionally overrides the default implementation kind.
	Backend string `json:"backend,omitempty"`
	// TrustRemoteCode optionally overrides the family's trust default.
	TrustRemoteCode *bool `json:"trust_remote_code,omitempty"`
	// Params are keyword parameters; keys carrying the tokenizer prefix are
	// tokenizer-scoped.
	Params map[string]any `json:"params,omitempty"`
}

// descriptorOptions converts the request's optional fields into descriptor
// options, leaving omitted fields to their defaults.
func (r ImportRequest) descriptorOptions() []llm.DescriptorOption {
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

// Model represents a stored model artifact.
type Model struct {
	// Tag is the artifact tag, <name>:<version>.
	Tag string `json:"tag"`
	// Family is the model family name.
	Family string `json:"family"`
	// Pretrained is the pretrained reference the artifact was imported from.
	Pretrained string `json:"pretrained"`
	// Backend is the implementation kind the artifact was imported for.
	Backend string `json:"backend"`
	// Task is the model task kind.
	Task string `json:"task"`
	// Format is the weights format, e.g. "gguf".
	Format string `json:"format"`
	// Architecture is the model architecture, when known.
	Architecture string `json:"architecture,omitempty"`
	// Quantization is the weights quantization, when known.
	Quantization string `json:"quantization,omitempty"`
	// ContextSize is the model context window, when known.
	ContextSize uint64 `json:"context_size,omitempty"`
	// Size is the total blob size in bytes.
	Size int64 `json:"size"`
	// Created is the artifact creation time.
	Created time.Time `json:"created"`
}

// ModelList represents a list of stored models.
type ModelList []*Model

func toModel(art *artifact.Artifact) *Model {
	config := art.Config()
	return &Model{
		Tag:          art.Tag(),
		Family:       config.Family,
		Pretrained:   config.Pretrained,
		Backend:      config.Backend,
		Task:         config.Task,
		Format:       config.Format,
		Architecture: config.Architecture,
		Quantization: config.Quantization,
		ContextSize:  config.ContextSize,
		Size:         art.Size(),
		Created:      art.Created(),
	}
}

// Family represents a registered model family.
type Family struct {
	// Name is the canonical family name.
	Name string `json:"name"`
	// DefaultModel is the default pretrained reference, when the family has
	// one.
	DefaultModel string `json:"default_model,omitempty"`
	// Variants are the known pretrained references.
	Variants []string `json:"variants,omitempty"`
	// TrustRemoteCode is the family's trust default.
	TrustRemoteCode bool `json:"trust_remote_code"`
	// ContextSize is the family's context window.
	ContextSize int `json:"context_size"`
}

func toFamily(f llm.Family) *Family {
	return &Family{
		Name:            f.Name,
		DefaultModel:    f.DefaultModel,
		Variants:        f.Variants,
		TrustRemoteCode: f.Config.TrustRemoteCode,
		ContextSize:     f.Config.ContextSize,
	}
}

// DiskUsage represents the daemon's disk footprint.
type DiskUsage struct {
	// Store is the artifact store size in bytes.
	Store int64 `json:"store"`
	// Backends are the per-backend engine footprints in bytes.
	Backends map[string]int64 `json:"backends"`
	// Total sums the store and backend footprints.
	Total int64 `json:"total"`
}
