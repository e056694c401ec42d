package llm

import (
	"context"
	"errors"
	"maps"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Vortextech01/OpenLLM/pkg/artifact"
	"github.com/Vortextech01/OpenLLM/pkg/inference"
)

// fakeBackend counts calls and stages deterministic files, so tests can
// assert exactly how often a handle touches it.
type fakeBackend struct {
	name string

	classifyErr  error
	importErr    error
	loadErr      error
	tokenizerErr error
	noTokenizer  bool

	classifyCalls  atomic.Int32
	importCalls    atomic.Int32
	loadCalls      atomic.Int32
	tokenizerCalls atomic.Int32

	mu              sync.Mutex
	lastImport      inference.ImportRequest
	lastLoadParams  map[string]any
	lastLoadArgs    []any
	lastTokenParams map[string]any
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{name: "llamacpp"}
}

func (b *fakeBackend) Name() string             { return b.name }
func (b *fakeBackend) UsesExternalEngine() bool { return false }
func (b *fakeBackend) Install(ctx context.Context, httpClient *http.Client) error {
	return nil
}
func (b *fakeBackend) Status() string               { return "fake" }
func (b *fakeBackend) GetDiskUsage() (int64, error) { return 0, nil }

func (b *fakeBackend) Classify(ctx context.Context, req inference.ImportRequest) (inference.TaskKind, error) {
	b.classifyCalls.Add(1)
	if b.classifyErr != nil {
		return inference.TaskUnknown, b.classifyErr
	}
	return inference.TaskTextGeneration, nil
}

func (b *fakeBackend) Import(ctx context.Context, req inference.ImportRequest) (*inference.ImportResult, error) {
	b.importCalls.Add(1)
	b.mu.Lock()
	b.lastImport = req
	b.mu.Unlock()
	if b.importErr != nil {
		return nil, b.importErr
	}

	weights := filepath.Join(req.WorkDir, "model.gguf")
	if err := os.WriteFile(weights, []byte("weights"), 0o644); err != nil {
		return nil, err
	}
	result := &inference.ImportResult{
		Task:          inference.TaskTextGeneration,
		Format:        "gguf",
		Architecture:  "llama",
		Quantization:  "Q4_K_M",
		ContextSize:   4096,
		Weights:       []inference.ImportedFile{{Name: "model.gguf", Path: weights}},
		CustomObjects: map[string]inference.ImportedFile{},
	}
	if !b.noTokenizer {
		tokenizer := filepath.Join(req.WorkDir, "tokenizer.json")
		if err := os.WriteFile(tokenizer, []byte("tokenizer"), 0o644); err != nil {
			return nil, err
		}
		result.CustomObjects[artifact.TokenizerObject] = inference.ImportedFile{
			Name: "tokenizer.json",
			Path: tokenizer,
		}
	}
	return result, nil
}

func (b *fakeBackend) Load(ctx context.Context, art *artifact.Artifact, params map[string]any, extra ...any) (inference.Model, error) {
	b.loadCalls.Add(1)
	b.mu.Lock()
	b.lastLoadParams = maps.Clone(params)
	b.lastLoadArgs = extra
	b.mu.Unlock()
	if b.loadErr != nil {
		return nil, b.loadErr
	}
	return &fakeModel{path: art.Weights()[0].Path}, nil
}

func (b *fakeBackend) LoadTokenizer(ctx context.Context, path string, params map[string]any) (inference.Tokenizer, error) {
	b.tokenizerCalls.Add(1)
	b.mu.Lock()
	b.lastTokenParams = maps.Clone(params)
	b.mu.Unlock()
	if b.tokenizerErr != nil {
		return nil, b.tokenizerErr
	}
	return &fakeTokenizer{path: path, params: maps.Clone(params)}, nil
}

func (b *fakeBackend) Run(ctx context.Context, socket string, model inference.Model, mode inference.BackendMode) error {
	return nil
}

func (b *fakeBackend) GetRequiredMemoryForModel(ctx context.Context, model inference.Model) (*inference.RequiredMemory, error) {
	return &inference.RequiredMemory{RAM: 1, VRAM: 1}, nil
}

type fakeModel struct {
	path string
}

func (m *fakeModel) Path() string            { return m.path }
func (m *fakeModel) Meta() map[string]string { return nil }

type fakeTokenizer struct {
	path   string
	params map[string]any
}

func (t *fakeTokenizer) Path() string           { return t.path }
func (t *fakeTokenizer) Params() map[string]any { return t.params }

func newTestStore(t *testing.T) artifact.Store {
	t.Helper()
	store, err := artifact.NewLocalStore(artifact.Options{RootPath: t.TempDir()})
	require.NoError(t, err)
	return store
}

func newTestHandle(t *testing.T, backend *fakeBackend, opts ...DescriptorOption) (*Handle, artifact.Store) {
	t.Helper()
	store := newTestStore(t)
	d := newTestDescriptor(t, opts...)
	h, err := NewHandle(d, store, backend, WithWorkDir(t.TempDir()))
	require.NoError(t, err)
	return h, store
}

func TestNewHandleValidation(t *testing.T) {
	store := newTestStore(t)
	d := newTestDescriptor(t, WithPretrained("org/model"))
	var confErr *ConfigurationError

	_, err := NewHandle(nil, store, newFakeBackend())
	require.ErrorAs(t, err, &confErr)

	_, err = NewHandle(d, nil, newFakeBackend())
	require.ErrorAs(t, err, &confErr)

	_, err = NewHandle(d, store, nil)
	require.ErrorAs(t, err, &confErr)

	// The bound backend must match the descriptor's implementation kind.
	_, err = NewHandle(d, store, &fakeBackend{name: "vllm"})
	require.ErrorAs(t, err, &confErr)
	require.Equal(t, "backend", confErr.Field)
}

func TestHandleArtifactMemoized(t *testing.T) {
	backend := newFakeBackend()
	h, _ := newTestHandle(t, backend, WithPretrained("org/model"))

	first, err := h.Artifact(t.Context())
	require.NoError(t, err)
	second, err := h.Artifact(t.Context())
	require.NoError(t, err)

	require.Same(t, first, second)
	require.Equal(t, int32(1), backend.classifyCalls.Load())
	require.Equal(t, int32(1), backend.importCalls.Load())

	require.Equal(t, "llama", first.Config().Family)
	require.Equal(t, "org/model", first.Config().Pretrained)
	require.Equal(t, "llamacpp", first.Config().Backend)
	require.Equal(t, "text-generation", first.Config().Task)
}

func TestHandleArtifactConcurrent(t *testing.T) {
	backend := newFakeBackend()
	h, _ := newTestHandle(t, backend, WithPretrained("org/model"))

	var wg sync.WaitGroup
	results := make([]*artifact.Artifact, 10)
	errs := make([]error, 10)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = h.Artifact(t.Context())
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), backend.importCalls.Load())
	for i, art := range results {
		require.NoError(t, errs[i])
		require.Same(t, results[0], art)
	}
}

func TestHandleFailureIsTerminal(t *testing.T) {
	backend := newFakeBackend()
	backend.classifyErr = errors.New("classification exploded")
	h, _ := newTestHandle(t, backend, WithPretrained("org/model"))

	_, first := h.Artifact(t.Context())
	require.Error(t, first)
	_, second := h.Artifact(t.Context())
	require.Error(t, second)

	// The failure is memoized: the same error comes back and the backend is
	// never asked again.
	require.Equal(t, first, second)
	require.Equal(t, int32(1), backend.classifyCalls.Load())
	require.Equal(t, int32(0), backend.importCalls.Load())

	var importErr *ImportError
	require.ErrorAs(t, first, &importErr)
	require.Equal(t, StepClassify, importErr.Step)
	require.Equal(t, "org/model", importErr.Pretrained)
}

func TestHandleStoreHit(t *testing.T) {
	backend := newFakeBackend()
	h, store := newTestHandle(t, backend, WithPretrained("org/model"))
	imported, err := h.Artifact(t.Context())
	require.NoError(t, err)

	// A second handle over the same store resolves without touching its
	// backend at all.
	fresh := newFakeBackend()
	d := newTestDescriptor(t, WithPretrained("org/model"))
	h2, err := NewHandle(d, store, fresh)
	require.NoError(t, err)

	art, err := h2.Artifact(t.Context())
	require.NoError(t, err)
	require.Equal(t, imported.Tag(), art.Tag())
	require.Equal(t, int32(0), fresh.classifyCalls.Load())
	require.Equal(t, int32(0), fresh.importCalls.Load())
}

func TestHandleModel(t *testing.T) {
	backend := newFakeBackend()
	h, _ := newTestHandle(t, backend,
		WithPretrained("org/model"),
		WithParams(map[string]any{"max_len": 2048, "_tokenizer_padding_side": "left"}),
		WithArgs("base-arg"),
	)

	model, err := h.Model(t.Context(), "extra-arg")
	require.NoError(t, err)
	again, err := h.Model(t.Context())
	require.NoError(t, err)

	require.Same(t, model, again)
	require.Equal(t, int32(1), backend.loadCalls.Load())
	require.FileExists(t, model.Path())

	// Load sees model-scoped parameters only, plus descriptor and call
	// arguments in order.
	require.Equal(t, 2048, backend.lastLoadParams["max_len"])
	require.NotContains(t, backend.lastLoadParams, "_tokenizer_padding_side")
	require.NotContains(t, backend.lastLoadParams, "padding_side")
	require.Equal(t, []any{"base-arg", "extra-arg"}, backend.lastLoadArgs)
}

func TestHandleTokenizer(t *testing.T) {
	backend := newFakeBackend()
	h, _ := newTestHandle(t, backend,
		WithPretrained("org/model"),
		WithParams(map[string]any{"max_len": 2048, "_tokenizer_padding_side": "left"}),
	)

	tokenizer, err := h.Tokenizer(t.Context())
	require.NoError(t, err)
	again, err := h.Tokenizer(t.Context())
	require.NoError(t, err)

	require.Same(t, tokenizer, again)
	require.Equal(t, int32(1), backend.tokenizerCalls.Load())
	require.FileExists(t, tokenizer.Path())

	// The tokenizer sees its scoped parameters with the prefix stripped and
	// none of the model-scoped ones.
	require.Equal(t, "left", backend.lastTokenParams["padding_side"])
	require.NotContains(t, backend.lastTokenParams, "max_len")

	// One artifact resolution serves both accessors.
	_, err = h.Model(t.Context())
	require.NoError(t, err)
	require.Equal(t, int32(1), backend.importCalls.Load())
}

func TestHandleMissingTokenizer(t *testing.T) {
	backend := newFakeBackend()
	backend.noTokenizer = true
	h, _ := newTestHandle(t, backend, WithPretrained("org/model"))

	_, err := h.Tokenizer(t.Context())
	require.ErrorIs(t, err, ErrMissingTokenizer)
	require.Equal(t, int32(0), backend.tokenizerCalls.Load())

	// The failure is terminal but scoped to the tokenizer: the model still
	// resolves from the same artifact.
	_, again := h.Tokenizer(t.Context())
	require.ErrorIs(t, again, ErrMissingTokenizer)
	_, err = h.Model(t.Context())
	require.NoError(t, err)
}

func TestHandleTagAndResolvedTag(t *testing.T) {
	backend := newFakeBackend()
	h, _ := newTestHandle(t, backend, WithPretrained("org/model"))

	// ResolvedTag is a pure preview.
	preview, err := h.ResolvedTag()
	require.NoError(t, err)
	require.Equal(t, int32(0), backend.classifyCalls.Load())
	require.Equal(t, int32(0), backend.importCalls.Load())

	// Tag forces resolution and agrees with the preview.
	tag, err := h.Tag(t.Context())
	require.NoError(t, err)
	require.Equal(t, preview, tag)
	require.Equal(t, int32(1), backend.importCalls.Load())
}

func TestHandleCustomImport(t *testing.T) {
	var hooked ImportContext
	require.NoError(t, Register(Family{
		Name:         "hook-probe",
		DefaultModel: "org/hooked",
		Config:       FamilyConfig{ContextSize: 2048},
		Import: func(ctx context.Context, ic ImportContext) (*artifact.Artifact, error) {
			hooked = ic
			staged := filepath.Join(ic.WorkDir, "model.bin")
			if err := os.WriteFile(staged, []byte("hooked"), 0o644); err != nil {
				return nil, err
			}
			return ic.Store.Save(ctx, ic.Resolved.Tag.String(), artifact.SaveOptions{
				Config: artifact.Config{
					Family:     "hook-probe",
					Pretrained: ic.Descriptor.Pretrained(),
					Backend:    ic.Backend.Name(),
					Format:     "bin",
				},
				Weights: []artifact.Source{{Name: "model.bin", Path: staged}},
			})
		},
	}))
	t.Setenv("OPENLLM_HOOK_PROBE_PRETRAINED", "")

	backend := newFakeBackend()
	store := newTestStore(t)
	d, err := NewDescriptor("hook-probe")
	require.NoError(t, err)
	h, err := NewHandle(d, store, backend, WithWorkDir(t.TempDir()))
	require.NoError(t, err)

	art, err := h.Artifact(t.Context())
	require.NoError(t, err)

	// The hook replaces the default pipeline entirely.
	require.Equal(t, int32(0), backend.classifyCalls.Load())
	require.Equal(t, int32(0), backend.importCalls.Load())
	require.NotEmpty(t, hooked.WorkDir)
	require.Equal(t, hooked.Resolved.Tag.String(), art.Tag())
	require.Equal(t, "org/hooked", art.Config().Pretrained)
}
