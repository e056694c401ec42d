package artifact

import "strings"

const (
	// MediaTypeManifest is the media type of artifact manifests.
	MediaTypeManifest = "application/vnd.openllm.artifact.manifest.v1+json"

	// MediaTypeConfig is the media type of the artifact config json.
	MediaTypeConfig = "application/vnd.openllm.model.config.v1+json"

	// MediaTypeGGUF indicates a file in GGUF format containing a tensor model.
	MediaTypeGGUF = "application/vnd.openllm.gguf"

	// MediaTypeSafetensors indicates a file in safetensors format.
	MediaTypeSafetensors = "application/vnd.openllm.safetensors"

	// MediaTypeTokenizer indicates a tokenizer payload (vocab, merges, config).
	MediaTypeTokenizer = "application/vnd.openllm.tokenizer+json"

	// MediaTypePayload indicates an uninterpreted custom object payload.
	MediaTypePayload = "application/vnd.openllm.payload"
)

// AnnotationRole marks a manifest layer as "weights" or as a named custom
// object payload.
const AnnotationRole = "ai.openllm.artifact.role"

// RoleWeights is the AnnotationRole value for model weight layers.
const RoleWeights = "weights"

// inferMediaType picks a media type for a staged file from its extension.
func inferMediaType(path string) string {
	switch {
	case strings.HasSuffix(path, ".gguf"):
		return MediaTypeGGUF
	case strings.HasSuffix(path, ".safetensors"):
		return MediaTypeSafetensors
	case strings.HasSuffix(path, ".json"):
		return MediaTypeTokenizer
	default:
		return MediaTypePayload
	}
}
