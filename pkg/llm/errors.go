package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingTokenizer indicates a model artifact that carries no
	// tokenizer payload. Imports are expected to save the tokenizer under the
	// artifact's well-known tokenizer custom object.
	ErrMissingTokenizer = errors.New("model artifact has no tokenizer payload")
	// ErrForbiddenMutation indicates an attempt to mutate state that is
	// immutable once bound, such as re-registering a family name.
	ErrForbiddenMutation = errors.New("forbidden mutation of bound state")
)

// ConfigurationError indicates invalid family or descriptor configuration
// supplied by the caller.
type ConfigurationError struct {
	// Field names the offending configuration surface, when known.
	Field string
	// Reason describes what is wrong with it.
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// Import pipeline steps reported by ImportError.
const (
	// StepClassify covers task classification of the pretrained reference.
	StepClassify = "classify"
	// StepFetch covers staging the weights and tokenizer payload.
	StepFetch = "fetch"
	// StepSave covers ingestion of staged files into the artifact store.
	StepSave = "save"
	// StepLoad covers preparing a stored artifact for serving.
	StepLoad = "load"
)

// ImportError wraps a failure in the import pipeline with the step that
// failed. The pipeline never retries; handles memoize the error and return it
// on every subsequent call.
type ImportError struct {
	// Pretrained is the reference whose import failed.
	Pretrained string
	// Step is the pipeline step that failed.
	Step string
	// Err is the underlying error.
	Err error
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("importing %s: %s: %v", e.Pretrained, e.Step, e.Err)
}

func (e *ImportError) Unwrap() error {
	return e.Err
}
