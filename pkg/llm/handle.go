package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/docker/go-units"

	"github.com/Vortextech01/OpenLLM/pkg/artifact"
	"github.com/Vortextech01/OpenLLM/pkg/inference"
	"github.com/Vortextech01/OpenLLM/pkg/internal/utils"
	"github.com/Vortextech01/OpenLLM/pkg/logging"
)

// cellState tracks the lifecycle of one memoized resolution.
type cellState uint8

const (
	stateEmpty cellState = iota
	stateResolving
	stateResolved
	stateFailed
)

// cell is a single-shot memo. The first caller resolves while holding the
// lock; concurrent callers block and then read the memoized outcome. A
// failed cell is terminal: the original error is returned forever and the
// resolver never runs again.
type cell[T any] struct {
	mu    sync.Mutex
	state cellState
	value T
	err   error
}

func (c *cell[T]) do(resolve func() (T, error)) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case stateResolved:
		return c.value, nil
	case stateFailed:
		var zero T
		return zero, c.err
	}
	c.state = stateResolving
	value, err := resolve()
	if err != nil {
		c.state = stateFailed
		c.err = err
		var zero T
		return zero, err
	}
	c.state = stateResolved
	c.value = value
	return value, nil
}

// Handle is a lazily resolving view of one model. Construction is cheap and
// performs no I/O; the artifact, model and tokenizer accessors resolve on
// first use and memoize the outcome, failures included.
type Handle struct {
	descriptor *Descriptor
	store      artifact.Store
	backend    inference.Backend
	log        logging.Logger
	workDir    string

	artifactCell  cell[*artifact.Artifact]
	modelCell     cell[inference.Model]
	tokenizerCell cell[inference.Tokenizer]
}

// HandleOption configures NewHandle.
type HandleOption func(*Handle)

// WithLogger attaches a logger to the handle. Handles only log import
// progress; the default discards output.
func WithLogger(log logging.Logger) HandleOption {
	return func(h *Handle) {
		h.log = log
	}
}

// WithWorkDir sets the parent directory imports stage downloads under.
// Defaults to the system temporary directory.
func WithWorkDir(dir string) HandleOption {
	return func(h *Handle) {
		h.workDir = dir
	}
}

// NewHandle binds a descriptor to an artifact store and a backend. No
// resolution happens here: the store and backend are first touched by
// Artifact, Model, Tokenizer or Tag.
func NewHandle(d *Descriptor, store artifact.Store, backend inference.Backend, opts ...HandleOption) (*Handle, error) {
	if d == nil {
		return nil, &ConfigurationError{Field: "descriptor", Reason: "nil descriptor"}
	}
	if store == nil {
		return nil, &ConfigurationError{Field: "store", Reason: "nil artifact store"}
	}
	if backend == nil {
		return nil, &ConfigurationError{Field: "backend", Reason: "nil backend"}
	}
	if backend.Name() != d.Backend() {
		return nil, &ConfigurationError{
			Field:  "backend",
			Reason: fmt.Sprintf("descriptor wants backend %q, got %q", d.Backend(), backend.Name()),
		}
	}
	h := &Handle{
		descriptor: d,
		store:      store,
		backend:    backend,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.log == nil {
		h.log = logging.Discard()
	}
	return h, nil
}

// Descriptor returns the descriptor the handle was built from.
func (h *Handle) Descriptor() *Descriptor {
	return h.descriptor
}

// ResolvedTag previews the tag the descriptor resolves to without touching
// the store or the memo state.
func (h *Handle) ResolvedTag() (Tag, error) {
	resolved, err := ResolveTag(h.descriptor)
	if err != nil {
		return Tag{}, err
	}
	return resolved.Tag, nil
}

// Tag returns the resolved artifact's tag, forcing artifact resolution.
func (h *Handle) Tag(ctx context.Context) (Tag, error) {
	art, err := h.Artifact(ctx)
	if err != nil {
		return Tag{}, err
	}
	return ParseTag(art.Tag())
}

// Artifact returns the model's stored artifact, importing it on first use
// when the store doesn't already hold it. A store hit performs no backend
// calls at all.
func (h *Handle) Artifact(ctx context.Context) (*artifact.Artifact, error) {
	return h.artifactCell.do(func() (*artifact.Artifact, error) {
		return h.resolveArtifact(ctx)
	})
}

func (h *Handle) resolveArtifact(ctx context.Context) (*artifact.Artifact, error) {
	resolved, err := ResolveTag(h.descriptor)
	if err != nil {
		return nil, err
	}
	art, err := h.store.Get(ctx, resolved.Tag.String())
	if err == nil {
		return art, nil
	}
	if !errors.Is(err, artifact.ErrNotFound) {
		return nil, err
	}
	h.log.Infof("%s (%s) not found in store, importing", utils.SanitizeForLog(h.descriptor.Pretrained()), resolved.Tag)
	return h.importArtifact(ctx, resolved)
}

// importArtifact runs the import pipeline: the family hook when one is
// registered, otherwise classify, fetch and save. No step retries.
func (h *Handle) importArtifact(ctx context.Context, resolved ResolvedParams) (*artifact.Artifact, error) {
	workDir, err := os.MkdirTemp(h.workDir, "openllm-import-*")
	if err != nil {
		return nil, &ImportError{Pretrained: h.descriptor.Pretrained(), Step: StepFetch, Err: err}
	}
	defer os.RemoveAll(workDir)

	if h.descriptor.familyImport != nil {
		art, err := h.descriptor.familyImport(ctx, ImportContext{
			Descriptor: h.descriptor,
			Resolved:   resolved,
			Store:      h.store,
			Backend:    h.backend,
			WorkDir:    workDir,
		})
		if err != nil {
			return nil, &ImportError{Pretrained: h.descriptor.Pretrained(), Step: StepFetch, Err: err}
		}
		return art, nil
	}

	req := inference.ImportRequest{
		Reference:       h.descriptor.Pretrained(),
		TrustRemoteCode: h.descriptor.TrustRemoteCode(),
		ModelParams:     resolved.ModelParams,
		TokenizerParams: resolved.TokenizerParams,
		WorkDir:         workDir,
	}

	task, err := h.backend.Classify(ctx, req)
	if err != nil {
		return nil, &ImportError{Pretrained: req.Reference, Step: StepClassify, Err: err}
	}
	h.log.Infof("importing %s as %s (%s)", utils.SanitizeForLog(req.Reference), resolved.Tag, task)

	result, err := h.backend.Import(ctx, req)
	if err != nil {
		return nil, &ImportError{Pretrained: req.Reference, Step: StepFetch, Err: err}
	}

	weights := make([]artifact.Source, 0, len(result.Weights))
	for _, weight := range result.Weights {
		weights = append(weights, artifact.Source{Name: weight.Name, Path: weight.Path})
	}
	objects := make(map[string]artifact.Source, len(result.CustomObjects))
	for role, object := range result.CustomObjects {
		objects[role] = artifact.Source{Name: object.Name, Path: object.Path}
	}

	art, err := h.store.Save(ctx, resolved.Tag.String(), artifact.SaveOptions{
		Config: artifact.Config{
			Family:          h.descriptor.Family(),
			Pretrained:      req.Reference,
			Backend:         h.backend.Name(),
			Task:            result.Task.String(),
			Format:          result.Format,
			Architecture:    result.Architecture,
			Quantization:    result.Quantization,
			ContextSize:     result.ContextSize,
			Parameters:      resolved.ModelParams,
			TokenizerParams: resolved.TokenizerParams,
		},
		Weights:       weights,
		CustomObjects: objects,
	})
	if err != nil {
		return nil, &ImportError{Pretrained: req.Reference, Step: StepSave, Err: err}
	}
	h.log.Infof("imported %s (%s)", art.Tag(), units.HumanSize(float64(art.Size())))
	return art, nil
}

// Model returns the backend's prepared model handle, resolving the artifact
// first. Extra arguments are appended to the descriptor's load arguments on
// the resolving call; once a model is memoized they are ignored.
func (h *Handle) Model(ctx context.Context, extra ...any) (inference.Model, error) {
	return h.modelCell.do(func() (inference.Model, error) {
		art, err := h.Artifact(ctx)
		if err != nil {
			return nil, err
		}
		resolved, err := ResolveTag(h.descriptor)
		if err != nil {
			return nil, err
		}
		args := append(h.descriptor.Args(), extra...)
		model, err := h.backend.Load(ctx, art, resolved.ModelParams, args...)
		if err != nil {
			return nil, &ImportError{Pretrained: h.descriptor.Pretrained(), Step: StepLoad, Err: err}
		}
		return model, nil
	})
}

// Tokenizer returns the loaded tokenizer, resolving the artifact first.
// Artifacts without a tokenizer payload fail with ErrMissingTokenizer, and
// the failure is memoized like any other.
func (h *Handle) Tokenizer(ctx context.Context) (inference.Tokenizer, error) {
	return h.tokenizerCell.do(func() (inference.Tokenizer, error) {
		art, err := h.Artifact(ctx)
		if err != nil {
			return nil, err
		}
		payload, ok := art.CustomObject(artifact.TokenizerObject)
		if !ok {
			return nil, fmt.Errorf("artifact %s: %w", art.Tag(), ErrMissingTokenizer)
		}
		resolved, err := ResolveTag(h.descriptor)
		if err != nil {
			return nil, err
		}
		tokenizer, err := h.backend.LoadTokenizer(ctx, payload, resolved.TokenizerParams)
		if err != nil {
			return nil, &ImportError{Pretrained: h.descriptor.Pretrained(), Step: StepLoad, Err: err}
		}
		return tokenizer, nil
	})
}
