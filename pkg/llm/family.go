// Package llm ties model families, descriptors and backends together. A
// caller names a registered family, builds an immutable Descriptor for it,
// and resolves weights, model and tokenizer through a lazily resolving
// Handle whose tag is a deterministic function of the descriptor.
package llm

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/Vortextech01/OpenLLM/pkg/artifact"
	"github.com/Vortextech01/OpenLLM/pkg/inference"
)

// GenerationParams are family-level generation defaults, applied to requests
// that don't specify their own options.
type GenerationParams struct {
	MaxNewTokens int
	Temperature  float64
	TopP         float64
}

// FamilyConfig is the model-class configuration contributed at registration.
type FamilyConfig struct {
	// TrustRemoteCode is the family default for fetching and executing model
	// definition code shipped alongside the weights.
	TrustRemoteCode bool
	// ContextSize is the family's context window. Required.
	ContextSize int
	// GenerationDefaults seed generation requests.
	GenerationDefaults GenerationParams
}

// ImportContext is what a custom import hook gets to work with: the resolved
// identity of the model plus the store and backend the handle is bound to.
// WorkDir is a staging directory owned and cleaned up by the caller.
type ImportContext struct {
	Descriptor *Descriptor
	Resolved   ResolvedParams
	Store      artifact.Store
	Backend    inference.Backend
	WorkDir    string
}

// ImportFunc replaces the default import pipeline for a family. The hook
// must save the artifact under Resolved.Tag and return it.
type ImportFunc func(ctx context.Context, ic ImportContext) (*artifact.Artifact, error)

// Family is the static metadata a model family contributes at registration.
type Family struct {
	// Name is the canonical family name, e.g. "flan-t5".
	Name string
	// DefaultModel is the pretrained reference used when the caller names
	// none. May be empty for families without a sensible default.
	DefaultModel string
	// Variants are the known pretrained references of the family.
	Variants []string
	// Config is the model-class configuration. Required.
	Config FamilyConfig
	// ImportParams are family-level default keyword parameters, merged under
	// call-time parameters. Keys may carry the tokenizer prefix.
	ImportParams map[string]any
	// Import optionally replaces the default import pipeline.
	Import ImportFunc
}

// clone returns a copy whose maps and slices don't alias the original.
func (f Family) clone() Family {
	out := f
	out.Variants = slices.Clone(f.Variants)
	out.ImportParams = maps.Clone(f.ImportParams)
	return out
}

var registry = struct {
	sync.RWMutex
	families map[string]Family
}{families: make(map[string]Family)}

// Register binds a family name to its metadata. The registry is append-only:
// registering a name twice returns ErrForbiddenMutation.
func Register(f Family) error {
	if f.Name == "" {
		return &ConfigurationError{Field: "name", Reason: "family name must not be empty"}
	}
	if f.Config.ContextSize <= 0 {
		return &ConfigurationError{
			Field:  "config",
			Reason: fmt.Sprintf("family %q needs a positive context size", f.Name),
		}
	}
	registry.Lock()
	defer registry.Unlock()
	if _, ok := registry.families[f.Name]; ok {
		return fmt.Errorf("family %q is already registered: %w", f.Name, ErrForbiddenMutation)
	}
	registry.families[f.Name] = f.clone()
	return nil
}

// FamilyByName returns the registered family with the given name.
func FamilyByName(name string) (Family, error) {
	registry.RLock()
	defer registry.RUnlock()
	f, ok := registry.families[name]
	if !ok {
		return Family{}, &ConfigurationError{
			Field:  "family",
			Reason: fmt.Sprintf("unknown model family %q", name),
		}
	}
	return f.clone(), nil
}

// Families returns all registered families sorted by name.
func Families() []Family {
	registry.RLock()
	defer registry.RUnlock()
	out := make([]Family, 0, len(registry.families))
	for _, f := range registry.families {
		out = append(out, f.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// EnvPretrained reports the pretrained reference override for a family from
// the OPENLLM_<FAMILY>_PRETRAINED environment variable. Non-alphanumeric
// runes of the family name map to underscores, so family "flan-t5" reads
// OPENLLM_FLAN_T5_PRETRAINED. An empty value counts as unset.
func EnvPretrained(family string) (string, bool) {
	key := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - ('a' - 'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, family)
	value := os.Getenv("OPENLLM_" + key + "_PRETRAINED")
	if value == "" {
		return "", false
	}
	return value, true
}
