package llm

import (
	"fmt"
	"maps"
	"slices"
)

// DefaultBackend is the implementation kind used when a descriptor names
// none.
const DefaultBackend = "llamacpp"

// knownBackends are the implementation kinds descriptors accept. The value
// must match the Name constant of the corresponding backend package.
var knownBackends = map[string]bool{
	"llamacpp": true,
	"vllm":     true,
	"mlx":      true,
}

// Descriptor is an immutable description of a model a caller intends to run:
// the family, the pretrained reference, the backend kind, the trust flag and
// the keyword parameters. All fields are unexported and accessors return
// copies, so a constructed descriptor cannot be mutated.
type Descriptor struct {
	family          string
	pretrained      string
	backend         string
	trustRemoteCode bool
	params          map[string]any
	args            []any

	// Captured from the family at construction so that tag resolution stays
	// pure over the descriptor alone.
	familyParams map[string]any
	familyImport ImportFunc
	config       FamilyConfig
}

type descriptorOptions struct {
	pretrained string
	backend    string
	trust      *bool
	params     map[string]any
	args       []any
}

// DescriptorOption configures NewDescriptor.
type DescriptorOption func(*descriptorOptions)

// WithPretrained names the pretrained model reference, either a hub
// repository or a local path.
func WithPretrained(reference string) DescriptorOption {
	return func(o *descriptorOptions) {
		o.pretrained = reference
	}
}

// WithBackend names the implementation kind serving the model.
func WithBackend(backend string) DescriptorOption {
	return func(o *descriptorOptions) {
		o.backend = backend
	}
}

// WithTrustRemoteCode overrides the family's trust-remote-code default.
func WithTrustRemoteCode(trust bool) DescriptorOption {
	return func(o *descriptorOptions) {
		o.trust = &trust
	}
}

// WithParams merges keyword parameters into the descriptor. Keys carrying
// the tokenizer prefix are tokenizer-scoped. Later options win on conflict.
func WithParams(params map[string]any) DescriptorOption {
	return func(o *descriptorOptions) {
		maps.Copy(o.params, params)
	}
}

// WithParam sets a single keyword parameter.
func WithParam(key string, value any) DescriptorOption {
	return func(o *descriptorOptions) {
		o.params[key] = value
	}
}

// WithArgs appends opaque positional arguments passed through to the backend
// when the model is loaded.
func WithArgs(args ...any) DescriptorOption {
	return func(o *descriptorOptions) {
		o.args = append(o.args, args...)
	}
}

// NewDescriptor builds a descriptor for a registered family.
//
// The pretrained reference resolves in order: the WithPretrained option, the
// OPENLLM_<FAMILY>_PRETRAINED environment variable, then the family default;
// if all three are empty the descriptor cannot be built. The backend defaults
// to DefaultBackend and trust-remote-code to the family configuration.
func NewDescriptor(familyName string, opts ...DescriptorOption) (*Descriptor, error) {
	family, err := FamilyByName(familyName)
	if err != nil {
		return nil, err
	}

	options := descriptorOptions{params: make(map[string]any)}
	for _, opt := range opts {
		opt(&options)
	}

	pretrained := options.pretrained
	if pretrained == "" {
		if env, ok := EnvPretrained(family.Name); ok {
			pretrained = env
		} else {
			pretrained = family.DefaultModel
		}
	}
	if pretrained == "" {
		return nil, &ConfigurationError{
			Field:  "pretrained",
			Reason: fmt.Sprintf("family %q has no default model; a pretrained reference is required", family.Name),
		}
	}

	backend := options.backend
	if backend == "" {
		backend = DefaultBackend
	}
	if !knownBackends[backend] {
		return nil, &ConfigurationError{
			Field:  "backend",
			Reason: fmt.Sprintf("unknown backend %q", backend),
		}
	}

	trust := family.Config.TrustRemoteCode
	if options.trust != nil {
		trust = *options.trust
	}

	return &Descriptor{
		family:          family.Name,
		pretrained:      pretrained,
		backend:         backend,
		trustRemoteCode: trust,
		params:          options.params,
		args:            slices.Clone(options.args),
		familyParams:    family.ImportParams,
		familyImport:    family.Import,
		config:          family.Config,
	}, nil
}

// Family returns the family name.
func (d *Descriptor) Family() string {
	return d.family
}

// Pretrained returns the resolved pretrained reference.
func (d *Descriptor) Pretrained() string {
	return d.pretrained
}

// Backend returns the implementation kind name.
func (d *Descriptor) Backend() string {
	return d.backend
}

// TrustRemoteCode reports whether remote model definition code may be
// fetched and executed.
func (d *Descriptor) TrustRemoteCode() bool {
	return d.trustRemoteCode
}

// Params returns a copy of the descriptor's keyword parameters, tokenizer
// prefix included.
func (d *Descriptor) Params() map[string]any {
	return maps.Clone(d.params)
}

// Args returns a copy of the opaque positional load arguments.
func (d *Descriptor) Args() []any {
	return slices.Clone(d.args)
}

// Config returns the family configuration captured at construction.
func (d *Descriptor) Config() FamilyConfig {
	return d.config
}
