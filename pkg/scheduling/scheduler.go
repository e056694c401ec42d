// Package scheduling is the daemon's serving engine. It registers runner
// descriptors, loads engine instances for them on demand and serves
// generation requests, evicting idle instances to keep memory bounded.
package scheduling

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Vortextech01/OpenLLM/pkg/inference"
	"github.com/Vortextech01/OpenLLM/pkg/inference/memory"
	"github.com/Vortextech01/OpenLLM/pkg/llm"
	"github.com/Vortextech01/OpenLLM/pkg/logging"
	"github.com/Vortextech01/OpenLLM/pkg/metrics"
	"github.com/Vortextech01/OpenLLM/pkg/models"
	"github.com/Vortextech01/OpenLLM/pkg/runner"
)

// Recorder receives scheduling lifecycle events, typically into the activity
// log.
type Recorder interface {
	Record(ctx context.Context, kind, subject, detail string)
}

// backendInstallStatus tracks the installation status for a backend. Only one
// of its channels will be closed by the installation loop.
type backendInstallStatus struct {
	// done is closed if the backend installation succeeded.
	done chan struct{}
	// failed is closed if the backend installation failed.
	failed chan struct{}
}

// activeRunner pairs a runner descriptor with its registration time.
type activeRunner struct {
	descriptor *runner.Descriptor
	created    time.Time
}

// Scheduler coordinates runners, engine instances and backend installation.
type Scheduler struct {
	// log is the associated logger.
	log logging.Logger
	// backends are the supported inference backends.
	backends map[string]inference.Backend
	// backendsInstalled maps backend names to their installation status.
	backendsInstalled map[string]*backendInstallStatus
	// models is the shared model manager.
	models *models.Manager
	// httpClient is the HTTP client to use for backend installations.
	httpClient *http.Client
	// recorder receives lifecycle events. It may be nil.
	recorder Recorder
	// metrics receives generation observations. It may be nil.
	metrics *metrics.Recorder
	// loader manages engine instances.
	loader *loader
	// mu guards runners.
	mu sync.RWMutex
	// runners maps runner names to their registrations.
	runners map[string]*activeRunner
	// router is the HTTP request router.
	router *http.ServeMux
}

// NewScheduler creates a new scheduler. Callers must invoke Run before
// generation requests can be served.
func NewScheduler(
	log logging.Logger,
	backends map[string]inference.Backend,
	modelManager *models.Manager,
	httpClient *http.Client,
	recorder Recorder,
	metricsRecorder *metrics.Recorder,
	sysMemInfo memory.SystemMemoryInfo,
) *Scheduler {
	backendsInstalled := make(map[string]*backendInstallStatus, len(backends))
	for name := range backends {
		backendsInstalled[name] = &backendInstallStatus{
			failed: make(chan struct{}),
			done:   make(chan struct{}),
		}
	}

	s := &Scheduler{
		log:               log,
		backends:          backends,
		backendsInstalled: backendsInstalled,
		models:            modelManager,
		httpClient:        httpClient,
		recorder:          recorder,
		metrics:           metricsRecorder,
		loader:            newLoader(log, backends, recorder, metricsRecorder, sysMemInfo),
		runners:           make(map[string]*activeRunner),
		router:            http.NewServeMux(),
	}

	s.router.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	s.router.HandleFunc("GET "+inference.RoutesPrefix+"/status", s.handleStatus)
	s.router.HandleFunc("GET "+inference.RoutesPrefix+"/runners", s.handleGetRunners)
	s.router.HandleFunc("POST "+inference.RoutesPrefix+"/runners", s.handleCreateRunner)
	s.router.HandleFunc("DELETE "+inference.RoutesPrefix+"/runners/{name}", s.handleDeleteRunner)
	s.router.HandleFunc("POST "+inference.RoutesPrefix+"/runners/{name}/generate",
		s.instrument(runner.MethodGenerate, s.handleGenerate))
	s.router.HandleFunc("POST "+inference.RoutesPrefix+"/runners/{name}/generate_stream",
		s.instrument(runner.MethodGenerateIterator, s.handleGenerateStream))

	return s
}

// Run is the scheduler's main run loop. It starts two sub-loops: one that
// drives backend installation and one that drives instance lifecycle. It
// returns once both have wound down after ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	var loops sync.WaitGroup
	loops.Add(2)

	go func() {
		s.install(ctx)
		loops.Done()
	}()

	go func() {
		s.loader.run(ctx)
		loops.Done()
	}()

	loops.Wait()
}

// install loops over backends and ensures that they're installed.
// TODO: This method tries to install all known backends; we may wish to add
// granular per-backend enablement in the daemon configuration.
func (s *Scheduler) install(ctx context.Context) {
	for name, backend := range s.backends {
		installStatus := s.backendsInstalled[name]
		if err := backend.Install(ctx, s.httpClient); err != nil {
			s.log.Warnf("Backend installation failed for %s: %v", name, err)
			close(installStatus.failed)
		} else {
			close(installStatus.done)
		}
	}
}

// waitInstalled blocks until the named backend's installation completes or
// fails, or until ctx is done.
func (s *Scheduler) waitInstalled(ctx context.Context, backend string) error {
	status, ok := s.backendsInstalled[backend]
	if !ok {
		return ErrBackendNotFound
	}
	select {
	case <-status.done:
		return nil
	case <-status.failed:
		return inference.ErrBackendNotInstalled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreateRunner builds a runner descriptor for the request and registers it
// under its name. The model artifact resolves eagerly, so an import failure
// surfaces here rather than on the first generation.
func (s *Scheduler) CreateRunner(ctx context.Context, req CreateRunnerRequest) (*RunnerState, error) {
	if req.Family == "" {
		return nil, &llm.ConfigurationError{Field: "family", Reason: "family is required"}
	}
	h, err := s.models.Handle(req.Family, req.descriptorOptions()...)
	if err != nil {
		return nil, err
	}
	desc, err := runner.Build(ctx, h, req.runnerOptions()...)
	if err != nil {
		return nil, err
	}

	active := &activeRunner{descriptor: desc, created: time.Now().UTC()}
	s.mu.Lock()
	if _, exists := s.runners[desc.Name()]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrRunnerExists, desc.Name())
	}
	s.runners[desc.Name()] = active
	s.mu.Unlock()

	if s.recorder != nil {
		s.recorder.Record(ctx, "runner", desc.Name(), desc.Tag().String())
	}
	return toRunnerState(active), nil
}

// DeleteRunner releases the named runner. Idle instances serving its model
// are evicted immediately; busy ones drain and age out through the idle
// sweep.
func (s *Scheduler) DeleteRunner(ctx context.Context, name string) error {
	s.mu.Lock()
	active, ok := s.runners[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRunnerNotFound, name)
	}
	delete(s.runners, name)
	tag := active.descriptor.Tag().String()
	stillServed := false
	for _, other := range s.runners {
		if other.descriptor.Tag().String() == tag {
			stillServed = true
			break
		}
	}
	s.mu.Unlock()

	if !stillServed {
		s.loader.purge(tag)
	}
	if s.recorder != nil {
		s.recorder.Record(ctx, "release", name, tag)
	}
	return nil
}

// Runners returns the registered runners, ordered by name.
func (s *Scheduler) Runners() []*RunnerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*RunnerState, 0, len(s.runners))
	for _, active := range s.runners {
		out = append(out, toRunnerState(active))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

// ActiveInstances implements metrics.InstanceLister.ActiveInstances.
func (s *Scheduler) ActiveInstances() []metrics.Instance {
	infos := s.loader.active()

	s.mu.RLock()
	names := make(map[string]string, len(s.runners))
	for name, active := range s.runners {
		names[active.descriptor.Tag().String()] = name
	}
	s.mu.RUnlock()

	out := make([]metrics.Instance, 0, len(infos))
	for _, info := range infos {
		out = append(out, metrics.Instance{
			Runner:  names[info.tag],
			Backend: info.backend,
			Model:   info.tag,
			Mode:    info.mode.String(),
			Socket:  info.socket,
		})
	}
	return out
}

func toRunnerState(active *activeRunner) *RunnerState {
	desc := active.descriptor
	signatures := desc.Methods()
	methods := make(map[string]MethodState, len(signatures))
	for name, sig := range signatures {
		methods[name] = MethodState{Batchable: sig.Batchable, BatchDim: sig.BatchDim}
	}
	artifacts := desc.Artifacts()
	tags := make([]string, 0, len(artifacts))
	for _, art := range artifacts {
		tags = append(tags, art.Tag())
	}
	return &RunnerState{
		Name:         desc.Name(),
		Family:       desc.Family(),
		Tag:          desc.Tag().String(),
		Backend:      desc.Handle().Descriptor().Backend(),
		Artifacts:    tags,
		Methods:      methods,
		MaxBatchSize: desc.MaxBatchSize(),
		MaxLatencyMS: desc.MaxLatency().Milliseconds(),
		Created:      active.created,
	}
}

// statusRecorder wraps a response writer to capture the response status for
// instrumentation.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// instrument wraps a generation handler with metrics and activity recording.
func (s *Scheduler) instrument(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next(sr, r)
		if s.metrics != nil {
			s.metrics.ObserveGeneration(r.PathValue("name"), method, sr.status, time.Since(start).Seconds())
		}
		if s.recorder != nil {
			s.recorder.Record(r.Context(), "generation", r.PathValue("name"),
				fmt.Sprintf("%s %d", method, sr.status))
		}
	}
}

// handleStatus handles GET /v1/status requests.
func (s *Scheduler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	response := StatusResponse{
		Status:   "running",
		Backends: make(map[string]BackendState, len(s.backends)),
	}
	for name, backend := range s.backends {
		state := BackendState{Install: "installing", Detail: backend.Status()}
		status := s.backendsInstalled[name]
		select {
		case <-status.done:
			state.Install = "installed"
		case <-status.failed:
			state.Install = "failed"
		default:
		}
		response.Backends[name] = state
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.log.Warnln("Error while encoding status response:", err)
	}
}

// handleGetRunners handles GET /v1/runners requests.
func (s *Scheduler) handleGetRunners(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Runners()); err != nil {
		s.log.Warnln("Error while encoding runner listing response:", err)
	}
}

// handleCreateRunner handles POST /v1/runners requests.
func (s *Scheduler) handleCreateRunner(w http.ResponseWriter, r *http.Request) {
	var req CreateRunnerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Family == "" {
		http.Error(w, "family is required", http.StatusBadRequest)
		return
	}

	state, err := s.CreateRunner(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(state); err != nil {
		s.log.Warnln("Error while encoding runner response:", err)
	}
}

// handleDeleteRunner handles DELETE /v1/runners/{name} requests.
func (s *Scheduler) handleDeleteRunner(w http.ResponseWriter, r *http.Request) {
	if err := s.DeleteRunner(r.Context(), r.PathValue("name")); err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeGenerateRequest reads and validates a generation request body.
func (s *Scheduler) decodeGenerateRequest(w http.ResponseWriter, r *http.Request) (GenerateRequest, bool) {
	var req GenerateRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maximumGenerateRequestSize))
	if err != nil {
		if _, ok := err.(*http.MaxBytesError); ok {
			http.Error(w, "request too large", http.StatusBadRequest)
		} else {
			http.Error(w, "unknown error", http.StatusInternalServerError)
		}
		return req, false
	}
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return req, false
	}
	if req.Prompt == "" {
		http.Error(w, "prompt is required", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

// acquireInstance resolves the named runner to a ready engine instance. The
// caller must release the instance once done with it.
func (s *Scheduler) acquireInstance(w http.ResponseWriter, r *http.Request) (*instance, bool) {
	s.mu.RLock()
	active, ok := s.runners[r.PathValue("name")]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, ErrRunnerNotFound.Error(), http.StatusNotFound)
		return nil, false
	}

	desc := active.descriptor
	backendName := desc.Handle().Descriptor().Backend()
	if err := s.waitInstalled(r.Context(), backendName); err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return nil, false
	}

	inst, err := s.loader.load(r.Context(), backendName, desc, inference.BackendModeCompletion)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return nil, false
	}
	return inst, true
}

// handleGenerate handles POST /v1/runners/{name}/generate requests.
func (s *Scheduler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeGenerateRequest(w, r)
	if !ok {
		return
	}
	inst, ok := s.acquireInstance(w, r)
	if !ok {
		return
	}
	defer s.loader.release(inst)

	payload, err := completionBody(inst.tag, req.Prompt, false, req.Options)
	if err != nil {
		http.Error(w, "unable to encode engine request", http.StatusInternalServerError)
		return
	}
	resp, err := inst.post(r.Context(), "/v1/completions", payload)
	if err != nil {
		http.Error(w, fmt.Sprintf("engine request failed: %v", err), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		message, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		http.Error(w, strings.TrimSpace(string(message)), resp.StatusCode)
		return
	}

	var completion engineCompletion
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		http.Error(w, "invalid engine response", http.StatusBadGateway)
		return
	}
	if len(completion.Choices) == 0 {
		http.Error(w, "engine returned no choices", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	response := GenerateResponse{
		ID:    uuid.NewString(),
		Text:  completion.Choices[0].Text,
		Usage: completion.Usage,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.log.Warnln("Error while encoding generation response:", err)
	}
}

// handleGenerateStream handles POST /v1/runners/{name}/generate_stream
// requests. Chunks are relayed as server-sent events and the stream is
// terminated by a [DONE] event.
func (s *Scheduler) handleGenerateStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeGenerateRequest(w, r)
	if !ok {
		return
	}
	inst, ok := s.acquireInstance(w, r)
	if !ok {
		return
	}
	defer s.loader.release(inst)

	payload, err := completionBody(inst.tag, req.Prompt, true, req.Options)
	if err != nil {
		http.Error(w, "unable to encode engine request", http.StatusInternalServerError)
		return
	}
	resp, err := inst.post(r.Context(), "/v1/completions", payload)
	if err != nil {
		http.Error(w, fmt.Sprintf("engine request failed: %v", err), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		message, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		http.Error(w, strings.TrimSpace(string(message)), resp.StatusCode)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	controller := http.NewResponseController(w)

	id := uuid.NewString()
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maximumGenerateRequestSize)
	for scanner.Scan() {
		data, found := strings.CutPrefix(scanner.Text(), "data: ")
		if !found || data == "" {
			continue
		}
		if data == "[DONE]" {
			break
		}
		var chunk engineCompletion
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			s.log.Warnf("Skipping malformed engine chunk: %v", err)
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		event, err := json.Marshal(StreamChunk{ID: id, Text: chunk.Choices[0].Text})
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", event)
		if err := controller.Flush(); err != nil {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		s.log.Warnf("Engine stream read failed: %v", err)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	if err := controller.Flush(); err != nil {
		s.log.Warnf("Unable to flush stream terminator: %v", err)
	}
}

// ServeHTTP implements net/http.Handler.ServeHTTP.
func (s *Scheduler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
