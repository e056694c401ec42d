package scheduling

import (
	"errors"
)

var (
	// ErrRunnerNotFound indicates a request that names an unknown runner. If
	// returned in conjunction with an HTTP request, it should be paired with
	// a 404 response status.
	ErrRunnerNotFound = errors.New("runner not found")
	// ErrRunnerExists indicates an attempt to create a runner under a name
	// that is already taken.
	ErrRunnerExists = errors.New("runner already exists")
	// ErrBackendNotFound indicates that an unknown backend was requested.
	ErrBackendNotFound = errors.New("backend not found")
	// errLoadsDisabled indicates that instance loads are currently disabled.
	errLoadsDisabled = errors.New("instance loading disabled")
	// errModelTooBig indicates a model that can never fit into the memory
	// available to the loader.
	errModelTooBig = errors.New("model too big for available memory")
	// errEngineNotReadyInTime indicates an engine process that took too long
	// to initialize and answer a readiness request.
	errEngineNotReadyInTime = errors.New("engine took too long to initialize")
	// errEngineQuitUnexpectedly indicates an engine process that terminated
	// without reporting an error of its own.
	errEngineQuitUnexpectedly = errors.New("engine quit unexpectedly")
)
