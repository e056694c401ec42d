package scheduling

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Vortextech01/OpenLLM/pkg/inference"
	"github.com/Vortextech01/OpenLLM/pkg/logging"
)

const (
	// maximumReadinessPings is the maximum number of retries that an instance
	// will perform when pinging an engine for readiness.
	maximumReadinessPings = 600
	// readinessRetryInterval is the interval at which an instance will retry
	// readiness checks for an engine.
	readinessRetryInterval = 500 * time.Millisecond
	// engineExitGrace is how long a failed request waits for the engine run
	// loop to report the underlying error before giving up on attribution.
	engineExitGrace = 5 * time.Second
)

// InstanceSocketPath determines the Unix domain socket path used to
// communicate with the engine at the specified slot. It can be overridden
// during init().
var InstanceSocketPath = func(slot int) (string, error) {
	return fmt.Sprintf("openllm-instance-%d.sock", slot), nil
}

// instance executes a backend engine process serving a single model and
// provides an HTTP client targeting it.
type instance struct {
	// log is the component logger.
	log logging.Logger
	// backend is the backend that spawned the engine.
	backend inference.Backend
	// tag is the model artifact tag served by the engine.
	tag string
	// model is the prepared model handle the engine was started with.
	model inference.Model
	// mode is the engine operation mode.
	mode inference.BackendMode
	// socket is the Unix domain socket the engine serves on.
	socket string
	// cancel terminates the engine run loop.
	cancel context.CancelFunc
	// done is closed when the engine run loop exits.
	done <-chan struct{}
	// transport is a transport targeting the engine's socket.
	transport *http.Transport
	// client is a client targeting the engine's HTTP server.
	client *http.Client
	// err is the error returned by the engine run loop, only valid after
	// done is closed.
	err error
}

// startInstance spawns a backend engine for the given model in the given
// slot. The returned instance is not yet ready; callers must wait for it.
func startInstance(
	log logging.Logger,
	backend inference.Backend,
	tag string,
	model inference.Model,
	mode inference.BackendMode,
	slot int,
) (*instance, error) {
	socket, err := InstanceSocketPath(slot)
	if err != nil {
		return nil, fmt.Errorf("unable to determine instance socket path: %w", err)
	}
	dialer := &net.Dialer{}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, "unix", socket)
		},
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})

	i := &instance{
		log:       log,
		backend:   backend,
		tag:       tag,
		model:     model,
		mode:      mode,
		socket:    socket,
		cancel:    runCancel,
		done:      runDone,
		transport: transport,
		client:    &http.Client{Transport: transport},
	}

	go func() {
		if err := backend.Run(runCtx, socket, model, mode); err != nil {
			log.Warnf("Backend %s serving %s exited with error: %v",
				backend.Name(), tag, err,
			)
			i.err = err
		}
		close(runDone)
	}()

	return i, nil
}

// wait waits for the engine to answer readiness requests.
func (i *instance) wait(ctx context.Context) error {
	for p := 0; p < maximumReadinessPings; p++ {
		select {
		case <-i.done:
			return i.failure()
		default:
		}
		readyRequest, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://localhost/v1/models", http.NoBody)
		if err != nil {
			return fmt.Errorf("readiness request creation failed: %w", err)
		}
		response, err := i.client.Do(readyRequest)
		if err == nil {
			response.Body.Close()
		}

		// If the request failed, then wait (if appropriate) and try again.
		if err != nil || response.StatusCode != http.StatusOK {
			if p < (maximumReadinessPings - 1) {
				select {
				case <-time.After(readinessRetryInterval):
					continue
				case <-ctx.Done():
					return context.Canceled
				}
			}
			break
		}

		// The engine responded successfully.
		return nil
	}
	return errEngineNotReadyInTime
}

// post sends a JSON request to the engine. A transport error usually means
// the engine died mid-request, so the engine run loop is given a grace period
// to report the underlying failure before the transport error is surfaced.
func (i *instance) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://localhost"+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := i.client.Do(req)
	if err != nil {
		select {
		case <-i.done:
			return nil, i.failure()
		case <-time.After(engineExitGrace):
			return nil, err
		case <-ctx.Done():
			return nil, err
		}
	}
	return resp, nil
}

// failure returns the engine's exit error. It must only be called after done
// is closed.
func (i *instance) failure() error {
	if i.err != nil {
		return i.err
	}
	return errEngineQuitUnexpectedly
}

// terminate stops the instance and waits for its engine to unload.
func (i *instance) terminate() {
	i.cancel()
	<-i.done
	i.client.CloseIdleConnections()
	i.transport.CloseIdleConnections()
}
