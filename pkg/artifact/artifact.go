package artifact

import (
	"context"
	"errors"
	"time"

	"github.com/opencontainers/go-digest"
)

var (
	// ErrNotFound indicates that no artifact matches the requested reference.
	ErrNotFound = errors.New("artifact not found")
	// ErrInvalidTag indicates a tag that does not parse as an image-style reference.
	ErrInvalidTag = errors.New("invalid artifact tag")
	// ErrCorrupt indicates an artifact whose manifest references missing blobs.
	ErrCorrupt = errors.New("artifact is corrupt")
)

// TokenizerObject is the well-known custom object key under which the
// tokenizer payload of a model artifact is stored.
const TokenizerObject = "tokenizer"

// Store is the artifact store boundary. Implementations must make Save
// effectively idempotent for a given tag so concurrent importers converge on
// the same stored artifact.
type Store interface {
	// Get returns the artifact tagged with tag, or ErrNotFound.
	Get(ctx context.Context, tag string) (*Artifact, error)
	// Save ingests staged files as a new artifact and points tag at it.
	Save(ctx context.Context, tag string, opts SaveOptions) (*Artifact, error)
	// List returns all stored artifacts.
	List(ctx context.Context) ([]*Artifact, error)
	// Delete removes the tag and, when unreferenced, the artifact's blobs.
	Delete(ctx context.Context, reference string) error
	// DiskUsage returns the total size in bytes of the store.
	DiskUsage(ctx context.Context) (int64, error)
}

// Config describes a stored model artifact.
type Config struct {
	Family          string         `json:"family"`
	Pretrained      string         `json:"pretrained"`
	Backend         string         `json:"backend"`
	Task            string         `json:"task"`
	Format          string         `json:"format,omitempty"`
	Architecture    string         `json:"architecture,omitempty"`
	Quantization    string         `json:"quantization,omitempty"`
	ContextSize     uint64         `json:"context_size,omitempty"`
	Parameters      map[string]any `json:"parameters,omitempty"`
	TokenizerParams map[string]any `json:"tokenizer_params,omitempty"`
	Created         time.Time      `json:"created,omitempty"`
}

// Source names a staged file to be ingested by Save. MediaType may be left
// empty, in which case it is inferred from the file extension.
type Source struct {
	Name      string
	Path      string
	MediaType string
}

// SaveOptions carries everything Save needs besides the tag.
type SaveOptions struct {
	Config Config
	// Weights are the model weight files, in load order.
	Weights []Source
	// CustomObjects are named auxiliary payloads; TokenizerObject is the
	// well-known key consumed by tokenizer loading.
	CustomObjects map[string]Source
}

// Artifact is an immutable handle onto a stored artifact. Accessors return
// copies; the store never hands out aliasing state.
type Artifact struct {
	id      digest.Digest
	tag     string
	config  Config
	weights []Source
	objects map[string]Source
	size    int64
	created time.Time
}

// ID returns the artifact's content-addressed identity (its manifest digest).
func (a *Artifact) ID() digest.Digest { return a.id }

// Tag returns the tag the artifact was resolved through.
func (a *Artifact) Tag() string { return a.tag }

// Config returns the artifact configuration.
func (a *Artifact) Config() Config {
	cfg := a.config
	cfg.Parameters = copyParams(a.config.Parameters)
	cfg.TokenizerParams = copyParams(a.config.TokenizerParams)
	return cfg
}

// Weights returns the weight blobs, in load order. Each Source carries the
// original file name alongside the content-addressed blob path.
func (a *Artifact) Weights() []Source {
	weights := make([]Source, len(a.weights))
	copy(weights, a.weights)
	return weights
}

// WeightPaths returns the on-disk paths of the weight blobs, in load order.
func (a *Artifact) WeightPaths() []string {
	paths := make([]string, len(a.weights))
	for i, weight := range a.weights {
		paths[i] = weight.Path
	}
	return paths
}

// CustomObject returns the on-disk path of the named custom object payload.
func (a *Artifact) CustomObject(name string) (string, bool) {
	src, ok := a.objects[name]
	return src.Path, ok
}

// CustomObjects returns all custom object payloads keyed by role.
func (a *Artifact) CustomObjects() map[string]Source {
	objects := make(map[string]Source, len(a.objects))
	for role, src := range a.objects {
		objects[role] = src
	}
	return objects
}

// Size returns the total blob size in bytes.
func (a *Artifact) Size() int64 { return a.size }

// Created returns the artifact creation time.
func (a *Artifact) Created() time.Time { return a.created }

func copyParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
