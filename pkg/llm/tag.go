package llm

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/opencontainers/go-digest"
)

// TokenizerParamPrefix marks descriptor parameters that are scoped to the
// tokenizer rather than the model. The prefix is stripped when parameters
// are partitioned; it never appears in resolved parameter keys.
const TokenizerParamPrefix = "_tokenizer_"

// tagVersionLength is the number of digest hex digits kept as the version.
const tagVersionLength = 12

// Tag identifies a stored model artifact.
type Tag struct {
	Name    string
	Version string
}

// String returns the "name:version" form.
func (t Tag) String() string {
	return t.Name + ":" + t.Version
}

// IsZero reports whether the tag is unset.
func (t Tag) IsZero() bool {
	return t.Name == "" && t.Version == ""
}

// ParseTag parses the "name:version" form produced by String.
func ParseTag(s string) (Tag, error) {
	tagName, version, ok := strings.Cut(s, ":")
	if !ok || tagName == "" || version == "" {
		return Tag{}, &ConfigurationError{Field: "tag", Reason: fmt.Sprintf("invalid tag %q", s)}
	}
	return Tag{Name: tagName, Version: version}, nil
}

// ResolvedParams is the deterministic identity a descriptor resolves to: the
// artifact tag plus the partitioned parameter maps.
type ResolvedParams struct {
	Tag             Tag
	ModelParams     map[string]any
	TokenizerParams map[string]any
}

// ResolveTag computes the artifact tag and the partitioned parameter maps for
// a descriptor. It is pure: equal descriptors resolve to equal tags, and any
// change to the pretrained reference, backend kind, trust flag or either
// parameter map changes the version.
func ResolveTag(d *Descriptor) (ResolvedParams, error) {
	if d == nil {
		return ResolvedParams{}, &ConfigurationError{Field: "descriptor", Reason: "nil descriptor"}
	}

	// Family defaults merge under call-time parameters, scope by scope.
	familyModel, familyTokenizer := partitionParams(d.familyParams)
	callModel, callTokenizer := partitionParams(d.params)
	modelParams := mergeParams(familyModel, callModel)
	tokenizerParams := mergeParams(familyTokenizer, callTokenizer)

	normalized := normalizeReference(d.pretrained)
	if normalized == "" {
		return ResolvedParams{}, &ConfigurationError{
			Field:  "pretrained",
			Reason: fmt.Sprintf("reference %q normalizes to nothing taggable", d.pretrained),
		}
	}
	tag := Tag{Name: d.backend + "/" + normalized}

	// The version digests the canonical JSON encoding of everything that
	// affects the artifact's content. Go's JSON encoder sorts map keys, so
	// the encoding is canonical without further effort.
	identity := struct {
		Pretrained      string         `json:"pretrained"`
		Backend         string         `json:"backend"`
		TrustRemoteCode bool           `json:"trust_remote_code"`
		ModelParams     map[string]any `json:"model_params"`
		TokenizerParams map[string]any `json:"tokenizer_params"`
	}{
		Pretrained:      d.pretrained,
		Backend:         d.backend,
		TrustRemoteCode: d.trustRemoteCode,
		ModelParams:     modelParams,
		TokenizerParams: tokenizerParams,
	}
	encoded, err := json.Marshal(identity)
	if err != nil {
		return ResolvedParams{}, fmt.Errorf("encoding tag identity: %w", err)
	}
	tag.Version = digest.FromBytes(encoded).Encoded()[:tagVersionLength]

	if _, err := name.NewTag(tag.String(), name.WithDefaultRegistry("")); err != nil {
		return ResolvedParams{}, &ConfigurationError{
			Field:  "tag",
			Reason: fmt.Sprintf("%q is not a valid reference: %v", tag.String(), err),
		}
	}

	return ResolvedParams{
		Tag:             tag,
		ModelParams:     modelParams,
		TokenizerParams: tokenizerParams,
	}, nil
}

// partitionParams splits params into model-scoped and tokenizer-scoped maps.
// Keys carrying the tokenizer prefix land in the tokenizer map with the
// prefix stripped; everything else stays model-scoped. The maps are disjoint,
// so a prefixed key and its unprefixed twin never collide.
func partitionParams(params map[string]any) (model, tokenizer map[string]any) {
	model = make(map[string]any)
	tokenizer = make(map[string]any)
	for key, value := range params {
		if stripped, ok := strings.CutPrefix(key, TokenizerParamPrefix); ok {
			tokenizer[stripped] = value
		} else {
			model[key] = value
		}
	}
	return model, tokenizer
}

// mergeParams overlays override onto base without mutating either.
func mergeParams(base, override map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(override))
	maps.Copy(merged, base)
	maps.Copy(merged, override)
	return merged
}

// normalizeReference maps a pretrained reference onto the repository grammar
// tags use: lowercased, path separators become "--", any other rune outside
// [a-z0-9._-] becomes "-". Leading and trailing punctuation is trimmed so
// that absolute paths still produce valid names.
func normalizeReference(reference string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(reference) {
		switch {
		case r == '/' || r == '\\':
			b.WriteString("--")
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-._")
}
