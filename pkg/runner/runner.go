// Package runner turns resolved model handles into serving descriptors. A
// descriptor names the runner, carries its artifacts and per-method
// execution contracts, and picks a worker sizing strategy; the scheduling
// engine consumes descriptors to spin up engine processes.
package runner

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/Vortextech01/OpenLLM/pkg/artifact"
	"github.com/Vortextech01/OpenLLM/pkg/llm"
)

// Method names every runner exposes by default.
const (
	MethodGenerate         = "generate"
	MethodGenerateIterator = "generate_iterator"
)

// Signature is the execution contract of one runner method.
type Signature struct {
	// Batchable marks the method safe to batch across requests.
	Batchable bool
	// BatchDim is the dimension requests are batched along.
	BatchDim int
}

func defaultMethods() map[string]Signature {
	return map[string]Signature{
		MethodGenerate:         {Batchable: false},
		MethodGenerateIterator: {Batchable: true, BatchDim: 0},
	}
}

// Descriptor describes one servable runner. Descriptors are immutable:
// accessors return copies of any map or slice state.
type Descriptor struct {
	name         string
	family       string
	tag          llm.Tag
	artifacts    []*artifact.Artifact
	methods      map[string]Signature
	strategy     Strategy
	maxBatchSize int
	maxLatency   time.Duration
	handle       *llm.Handle
}

type options struct {
	name         string
	methods      map[string]Signature
	strategy     Strategy
	maxBatchSize int
	maxLatency   time.Duration
	extra        []*artifact.Artifact
}

// Option configures Build.
type Option func(*options)

// WithName overrides the default llm-<family>-runner name.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithMethodSignature overrides or adds one method's execution contract.
// Methods not named keep their defaults.
func WithMethodSignature(method string, sig Signature) Option {
	return func(o *options) {
		o.methods[method] = sig
	}
}

// WithStrategy overrides the worker sizing strategy.
func WithStrategy(s Strategy) Option {
	return func(o *options) {
		o.strategy = s
	}
}

// WithMaxBatchSize caps how many requests a worker may batch together.
func WithMaxBatchSize(n int) Option {
	return func(o *options) {
		o.maxBatchSize = n
	}
}

// WithMaxLatency bounds how long a worker may hold requests while filling a
// batch.
func WithMaxLatency(d time.Duration) Option {
	return func(o *options) {
		o.maxLatency = d
	}
}

// WithExtraArtifacts appends supporting artifacts, e.g. adapters, after the
// primary model artifact.
func WithExtraArtifacts(arts ...*artifact.Artifact) Option {
	return func(o *options) {
		o.extra = append(o.extra, arts...)
	}
}

// Build constructs a descriptor for the handle's model. The model artifact
// resolves eagerly: a handle whose import fails surfaces that error here, not
// at serving time. Repeated Build calls on one handle share the memoized
// artifact.
func Build(ctx context.Context, h *llm.Handle, opts ...Option) (*Descriptor, error) {
	if h == nil {
		return nil, &llm.ConfigurationError{Field: "handle", Reason: "nil handle"}
	}
	art, err := h.Artifact(ctx)
	if err != nil {
		return nil, err
	}
	tag, err := llm.ParseTag(art.Tag())
	if err != nil {
		return nil, err
	}

	o := options{methods: defaultMethods(), strategy: DefaultStrategy}
	for _, opt := range opts {
		opt(&o)
	}
	name := o.name
	if name == "" {
		name = "llm-" + h.Descriptor().Family() + "-runner"
	}

	return &Descriptor{
		name:         name,
		family:       h.Descriptor().Family(),
		tag:          tag,
		artifacts:    append([]*artifact.Artifact{art}, o.extra...),
		methods:      o.methods,
		strategy:     o.strategy,
		maxBatchSize: o.maxBatchSize,
		maxLatency:   o.maxLatency,
		handle:       h,
	}, nil
}

// Name returns the runner name.
func (d *Descriptor) Name() string {
	return d.name
}

// Family returns the model family name.
func (d *Descriptor) Family() string {
	return d.family
}

// Tag returns the resolved model tag.
func (d *Descriptor) Tag() llm.Tag {
	return d.tag
}

// Artifacts returns the runner's artifacts, the model artifact first.
func (d *Descriptor) Artifacts() []*artifact.Artifact {
	return slices.Clone(d.artifacts)
}

// Methods returns the per-method execution contracts.
func (d *Descriptor) Methods() map[string]Signature {
	return maps.Clone(d.methods)
}

// Strategy returns the worker sizing strategy.
func (d *Descriptor) Strategy() Strategy {
	return d.strategy
}

// MaxBatchSize returns the batch size cap, zero meaning unset.
func (d *Descriptor) MaxBatchSize() int {
	return d.maxBatchSize
}

// MaxLatency returns the batching latency bound, zero meaning unset.
func (d *Descriptor) MaxLatency() time.Duration {
	return d.maxLatency
}

// Handle returns the model handle the descriptor was built from. The serving
// engine uses it to load the model and tokenizer.
func (d *Descriptor) Handle() *llm.Handle {
	return d.handle
}
