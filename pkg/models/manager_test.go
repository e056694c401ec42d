package models

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Vortextech01/OpenLLM/pkg/artifact"
	"github.com/Vortextech01/OpenLLM/pkg/inference"
	"github.com/Vortextech01/OpenLLM/pkg/logging"
)

// countingBackend stages one weight file and a tokenizer per import and
// counts how often each pipeline step runs.
type countingBackend struct {
	name        string
	importErr   error
	importCalls atomic.Int32
}

func (b *countingBackend) Name() string             { return b.name }
func (b *countingBackend) UsesExternalEngine() bool { return false }
func (b *countingBackend) Status() string           { return "testing" }

func (b *countingBackend) Install(context.Context, *http.Client) error { return nil }

func (b *countingBackend) GetDiskUsage() (int64, error) { return 42, nil }

func (b *countingBackend) Classify(context.Context, inference.ImportRequest) (inference.TaskKind, error) {
	return inference.TaskTextGeneration, nil
}

func (b *countingBackend) Import(ctx context.Context, req inference.ImportRequest) (*inference.ImportResult, error) {
	b.importCalls.Add(1)
	if b.importErr != nil {
		return nil, b.importErr
	}
	weights := filepath.Join(req.WorkDir, "model.gguf")
	if err := os.WriteFile(weights, []byte("weights"), 0o644); err != nil {
		return nil, err
	}
	tokenizer := filepath.Join(req.WorkDir, "tokenizer.json")
	if err := os.WriteFile(tokenizer, []byte("tokenizer"), 0o644); err != nil {
		return nil, err
	}
	return &inference.ImportResult{
		Task:    inference.TaskTextGeneration,
		Format:  "gguf",
		Weights: []inference.ImportedFile{{Name: "model.gguf", Path: weights}},
		CustomObjects: map[string]inference.ImportedFile{
			artifact.TokenizerObject: {Name: "tokenizer.json", Path: tokenizer},
		},
	}, nil
}

func (b *countingBackend) Load(ctx context.Context, art *artifact.Artifact, params map[string]any, extra ...any) (inference.Model, error) {
	return nil, errors.New("not implemented")
}

func (b *countingBackend) LoadTokenizer(context.Context, string, map[string]any) (inference.Tokenizer, error) {
	return nil, errors.New("not implemented")
}

func (b *countingBackend) Run(context.Context, string, inference.Model, inference.BackendMode) error {
	return nil
}

func (b *countingBackend) GetRequiredMemoryForModel(context.Context, inference.Model) (*inference.RequiredMemory, error) {
	return &inference.RequiredMemory{RAM: 1, VRAM: 1}, nil
}

type recordedEvent struct {
	kind    string
	subject string
	detail  string
}

type captureRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *captureRecorder) Record(_ context.Context, kind, subject, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{kind, subject, detail})
}

func (r *captureRecorder) recorded() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedEvent(nil), r.events...)
}

func newTestManager(t *testing.T) (*Manager, *countingBackend, *captureRecorder) {
	t.Helper()
	t.Setenv("OPENLLM_LLAMA_PRETRAINED", "")
	store, err := artifact.NewLocalStore(artifact.Options{RootPath: t.TempDir()})
	require.NoError(t, err)
	backend := &countingBackend{name: "llamacpp"}
	recorder := &captureRecorder{}
	m := NewManager(logging.Discard(), store,
		map[string]inference.Backend{backend.name: backend}, recorder, t.TempDir())
	return m, backend, recorder
}

func doRequest(t *testing.T, m *Manager, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	w := httptest.NewRecorder()
	m.ServeHTTP(w, httptest.NewRequest(method, target, reader))
	return w
}

func TestImportModel(t *testing.T) {
	m, backend, recorder := newTestManager(t)

	w := doRequest(t, m, http.MethodPost, "/v1/models/import",
		ImportRequest{Family: "llama", Pretrained: "org/model"})
	require.Equal(t, http.StatusCreated, w.Code)

	var model Model
	require.NoError(t, json.NewDecoder(w.Body).Decode(&model))
	require.Equal(t, "llama", model.Family)
	require.Equal(t, "org/model", model.Pretrained)
	require.Equal(t, "llamacpp", model.Backend)
	require.Equal(t, "text-generation", model.Task)
	require.NotEmpty(t, model.Tag)
	require.Positive(t, model.Size)

	events := recorder.recorded()
	require.Len(t, events, 1)
	require.Equal(t, "import", events[0].kind)
	require.Equal(t, model.Tag, events[0].subject)
	require.Equal(t, "org/model", events[0].detail)

	// A repeated import hits the store: 200, no new backend work, no event.
	w = doRequest(t, m, http.MethodPost, "/v1/models/import",
		ImportRequest{Family: "llama", Pretrained: "org/model"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, int32(1), backend.importCalls.Load())
	require.Len(t, recorder.recorded(), 1)
}

func TestImportModelValidation(t *testing.T) {
	m, _, _ := newTestManager(t)

	w := doRequest(t, m, http.MethodPost, "/v1/models/import", ImportRequest{})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, m, http.MethodPost, "/v1/models/import",
		ImportRequest{Family: "not-a-family"})
	require.Equal(t, http.StatusNotFound, w.Code)

	// vllm is a valid backend kind, but this daemon doesn't carry it.
	w = doRequest(t, m, http.MethodPost, "/v1/models/import",
		ImportRequest{Family: "llama", Backend: "vllm"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	r := httptest.NewRequest(http.MethodPost, "/v1/models/import",
		bytes.NewReader([]byte("{not json")))
	w = httptest.NewRecorder()
	m.ServeHTTP(w, r)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestImportModelFailure(t *testing.T) {
	m, backend, recorder := newTestManager(t)
	backend.importErr = errors.New("hub outage")

	w := doRequest(t, m, http.MethodPost, "/v1/models/import",
		ImportRequest{Family: "llama", Pretrained: "org/model"})
	require.Equal(t, http.StatusBadGateway, w.Code)
	require.Contains(t, w.Body.String(), "hub outage")
	require.Empty(t, recorder.recorded())
}

func TestGetModels(t *testing.T) {
	m, _, _ := newTestManager(t)

	w := doRequest(t, m, http.MethodGet, "/v1/models", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, "[]", w.Body.String())

	doRequest(t, m, http.MethodPost, "/v1/models/import",
		ImportRequest{Family: "llama", Pretrained: "org/model"})

	w = doRequest(t, m, http.MethodGet, "/v1/models", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var models ModelList
	require.NoError(t, json.NewDecoder(w.Body).Decode(&models))
	require.Len(t, models, 1)
	require.Equal(t, "org/model", models[0].Pretrained)
}

func TestGetModel(t *testing.T) {
	m, _, _ := newTestManager(t)

	w := doRequest(t, m, http.MethodPost, "/v1/models/import",
		ImportRequest{Family: "llama", Pretrained: "org/model"})
	var imported Model
	require.NoError(t, json.NewDecoder(w.Body).Decode(&imported))

	// Tags contain a slash; the wildcard route must capture all of it.
	w = doRequest(t, m, http.MethodGet, "/v1/models/"+imported.Tag, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var model Model
	require.NoError(t, json.NewDecoder(w.Body).Decode(&model))
	require.Equal(t, imported.Tag, model.Tag)

	w = doRequest(t, m, http.MethodGet, "/v1/models/llamacpp/absent:000000000000", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteModel(t *testing.T) {
	m, _, recorder := newTestManager(t)

	w := doRequest(t, m, http.MethodPost, "/v1/models/import",
		ImportRequest{Family: "llama", Pretrained: "org/model"})
	var imported Model
	require.NoError(t, json.NewDecoder(w.Body).Decode(&imported))

	w = doRequest(t, m, http.MethodDelete, "/v1/models/"+imported.Tag, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(t, m, http.MethodGet, "/v1/models/"+imported.Tag, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(t, m, http.MethodDelete, "/v1/models/"+imported.Tag, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	events := recorder.recorded()
	require.Len(t, events, 2)
	require.Equal(t, "delete", events[1].kind)
	require.Equal(t, imported.Tag, events[1].subject)
}

func TestGetFamilies(t *testing.T) {
	m, _, _ := newTestManager(t)

	w := doRequest(t, m, http.MethodGet, "/v1/families", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var families []*Family
	require.NoError(t, json.NewDecoder(w.Body).Decode(&families))
	byName := make(map[string]*Family, len(families))
	for _, f := range families {
		byName[f.Name] = f
	}
	require.Contains(t, byName, "llama")
	require.Equal(t, 4096, byName["llama"].ContextSize)
	require.False(t, byName["llama"].TrustRemoteCode)
	require.Contains(t, byName, "dolly-v2")
	require.True(t, byName["dolly-v2"].TrustRemoteCode)
}

func TestDiskUsage(t *testing.T) {
	m, _, _ := newTestManager(t)

	doRequest(t, m, http.MethodPost, "/v1/models/import",
		ImportRequest{Family: "llama", Pretrained: "org/model"})

	w := doRequest(t, m, http.MethodGet, "/v1/df", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var usage DiskUsage
	require.NoError(t, json.NewDecoder(w.Body).Decode(&usage))
	require.Positive(t, usage.Store)
	require.Equal(t, int64(42), usage.Backends["llamacpp"])
	require.Equal(t, usage.Store+42, usage.Total)
}

func TestConcurrentImportsDeduplicated(t *testing.T) {
	m, backend, _ := newTestManager(t)

	var wg sync.WaitGroup
	codes := make([]int, 8)
	for i := range codes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := httptest.NewRecorder()
			body := bytes.NewReader([]byte(`{"family": "llama", "pretrained": "org/model"}`))
			m.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/models/import", body))
			codes[i] = w.Code
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), backend.importCalls.Load())
	for _, code := range codes {
		require.Contains(t, []int{http.StatusOK, http.StatusCreated}, code)
	}
}
