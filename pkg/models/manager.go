// Package models manages stored model artifacts: the HTTP API over the
// store, import orchestration and handle construction for the serving
// engine.
package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"golang.org/x/sync/singleflight"

	"github.com/Vortextech01/OpenLLM/pkg/artifact"
	"github.com/Vortextech01/OpenLLM/pkg/inference"
	"github.com/Vortextech01/OpenLLM/pkg/llm"
	"github.com/Vortextech01/OpenLLM/pkg/logging"
)

// maximumConcurrentImports is the maximum number of model imports a manager
// runs at once; additional imports queue.
const maximumConcurrentImports = 2

// Recorder receives notable model management events. Implementations must be
// safe for concurrent use.
type Recorder interface {
	Record(ctx context.Context, kind, subject, detail string)
}

// Manager manages model imports and storage.
type Manager struct {
	// log is the associated logger.
	log logging.Logger
	// store is the artifact store.
	store artifact.Store
	// backends are the available inference backends, keyed by name.
	backends map[string]inference.Backend
	// recorder receives import and delete events. May be nil.
	recorder Recorder
	// workDir is the parent directory imports stage downloads under.
	workDir string
	// importTokens is a semaphore used to restrict the maximum number of
	// concurrent imports.
	importTokens chan struct{}
	// imports deduplicates concurrent imports of the same resolved tag.
	imports singleflight.Group
	// router is the HTTP request router.
	router *http.ServeMux
}

// NewManager creates a new model manager. The recorder may be nil, in which
// case events are dropped.
func NewManager(log logging.Logger, store artifact.Store, backends map[string]inference.Backend, recorder Recorder, workDir string) *Manager {
	m := &Manager{
		log:          log,
		store:        store,
		backends:     backends,
		recorder:     recorder,
		workDir:      workDir,
		importTokens: make(chan struct{}, maximumConcurrentImports),
		router:       http.NewServeMux(),
	}

	// Register routes.
	m.router.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	m.router.HandleFunc("GET "+inference.RoutesPrefix+"/families", m.handleGetFamilies)
	m.router.HandleFunc("GET "+inference.RoutesPrefix+"/models", m.handleGetModels)
	m.router.HandleFunc("POST "+inference.RoutesPrefix+"/models/import", m.handleImportModel)
	m.router.HandleFunc("GET "+inference.RoutesPrefix+"/models/{tag...}", m.handleGetModel)
	m.router.HandleFunc("DELETE "+inference.RoutesPrefix+"/models/{tag...}", m.handleDeleteModel)
	m.router.HandleFunc("GET "+inference.RoutesPrefix+"/df", m.handleDiskUsage)

	// Populate the import concurrency semaphore.
	for i := 0; i < maximumConcurrentImports; i++ {
		m.importTokens <- struct{}{}
	}

	return m
}

// SetImportConcurrency resizes the import semaphore. Call it before the
// manager starts serving requests; imports already holding a token keep it.
func (m *Manager) SetImportConcurrency(n int) {
	if n <= 0 {
		return
	}
	m.importTokens = make(chan struct{}, n)
	for i := 0; i < n; i++ {
		m.importTokens <- struct{}{}
	}
}

// Handle builds a lazily resolving model handle bound to the manager's store
// and to the backend the descriptor names.
func (m *Manager) Handle(family string, opts ...llm.DescriptorOption) (*llm.Handle, error) {
	d, err := llm.NewDescriptor(family, opts...)
	if err != nil {
		return nil, err
	}
	backend, ok := m.backends[d.Backend()]
	if !ok {
		return nil, &llm.ConfigurationError{
			Field:  "backend",
			Reason: fmt.Sprintf("backend %q is not available in this daemon", d.Backend()),
		}
	}
	return llm.NewHandle(d, m.store, backend,
		llm.WithLogger(m.log), llm.WithWorkDir(m.workDir))
}

// Import resolves a request to an artifact, importing it when the store
// doesn't hold it yet. Concurrent imports of the same resolved tag are
// deduplicated, and total import concurrency is bounded.
func (m *Manager) Import(ctx context.Context, req ImportRequest) (*Model, bool, error) {
	h, err := m.Handle(req.Family, req.descriptorOptions()...)
	if err != nil {
		return nil, false, err
	}
	tag, err := h.ResolvedTag()
	if err != nil {
		return nil, false, err
	}

	// A store hit needs no import and no event.
	if art, err := m.store.Get(ctx, tag.String()); err == nil {
		return toModel(art), false, nil
	} else if !errors.Is(err, artifact.ErrNotFound) {
		return nil, false, err
	}

	result, err, _ := m.imports.Do(tag.String(), func() (any, error) {
		// Restrict import concurrency.
		select {
		case <-m.importTokens:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		defer func() {
			m.importTokens <- struct{}{}
		}()
		return h.Artifact(ctx)
	})
	if err != nil {
		return nil, false, err
	}
	art := result.(*artifact.Artifact)

	if m.recorder != nil {
		m.recorder.Record(ctx, "import", art.Tag(), h.Descriptor().Pretrained())
	}
	return toModel(art), true, nil
}

// GetModel looks up a single stored model by tag.
func (m *Manager) GetModel(ctx context.Context, tag string) (*Model, error) {
	art, err := m.store.Get(ctx, tag)
	if err != nil {
		return nil, err
	}
	return toModel(art), nil
}

// handleImportModel handles POST /v1/models/import requests.
func (m *Manager) handleImportModel(w http.ResponseWriter, r *http.Request) {
	var request ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if request.Family == "" {
		http.Error(w, "family is required", http.StatusBadRequest)
		return
	}

	model, imported, err := m.Import(r.Context(), request)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if imported {
		w.WriteHeader(http.StatusCreated)
	}
	if err := json.NewEncoder(w).Encode(model); err != nil {
		m.log.Warnln("Error while encoding import response:", err)
	}
}

// handleGetFamilies handles GET /v1/families requests.
func (m *Manager) handleGetFamilies(w http.ResponseWriter, _ *http.Request) {
	families := llm.Families()
	response := make([]*Family, 0, len(families))
	for _, f := range families {
		response = append(response, toFamily(f))
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		m.log.Warnln("Error while encoding family listing response:", err)
	}
}

// handleGetModels handles GET /v1/models requests.
func (m *Manager) handleGetModels(w http.ResponseWriter, r *http.Request) {
	artifacts, err := m.store.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Always a non-nil list, so that it encodes as [] rather than null.
	models := make(ModelList, 0, len(artifacts))
	for _, art := range artifacts {
		models = append(models, toModel(art))
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Tag < models[j].Tag })

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(models); err != nil {
		m.log.Warnln("Error while encoding model listing response:", err)
	}
}

// handleGetModel handles GET /v1/models/{tag...} requests.
func (m *Manager) handleGetModel(w http.ResponseWriter, r *http.Request) {
	model, err := m.GetModel(r.Context(), r.PathValue("tag"))
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(model); err != nil {
		m.log.Warnln("Error while encoding model response:", err)
	}
}

// handleDeleteModel handles DELETE /v1/models/{tag...} requests.
func (m *Manager) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	tag := r.PathValue("tag")
	if err := m.store.Delete(r.Context(), tag); err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	if m.recorder != nil {
		m.recorder.Record(r.Context(), "delete", tag, "")
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDiskUsage handles GET /v1/df requests.
func (m *Manager) handleDiskUsage(w http.ResponseWriter, r *http.Request) {
	storeUsage, err := m.store.DiskUsage(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	usage := DiskUsage{
		Store:    storeUsage,
		Backends: make(map[string]int64, len(m.backends)),
		Total:    storeUsage,
	}
	for name, backend := range m.backends {
		size, err := backend.GetDiskUsage()
		if err != nil {
			m.log.Warnf("Could not determine %s disk usage: %s", name, err)
			continue
		}
		usage.Backends[name] = size
		usage.Total += size
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(usage); err != nil {
		m.log.Warnln("Error while encoding disk usage response:", err)
	}
}

// ServeHTTP implements net/http.Handler.ServeHTTP.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.router.ServeHTTP(w, r)
}

// statusForError maps management errors onto HTTP response codes.
func statusForError(err error) int {
	var configErr *llm.ConfigurationError
	var importErr *llm.ImportError
	var unsupportedErr *inference.UnsupportedModelError
	switch {
	case errors.Is(err, artifact.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, artifact.ErrInvalidTag):
		return http.StatusBadRequest
	case errors.Is(err, inference.ErrBackendNotInstalled):
		return http.StatusServiceUnavailable
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
