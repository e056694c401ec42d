package vllm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Vortextech01/OpenLLM/pkg/artifact"
	"github.com/Vortextech01/OpenLLM/pkg/hub"
	"github.com/Vortextech01/OpenLLM/pkg/inference"
)

const (
	// configFile is the model configuration vllm requires in the serving
	// directory.
	configFile = "config.json"
	// tokenizerFile is the file staged as the artifact's tokenizer payload
	// when present.
	tokenizerFile = "tokenizer.json"
	// weightsSuffix is the extension of the weight files this backend serves.
	weightsSuffix = ".safetensors"
)

// auxiliaryFiles are the configuration files staged alongside the weights
// when present. vllm reads them from the serving directory.
var auxiliaryFiles = []string{
	configFile,
	tokenizerFile,
	"generation_config.json",
	"tokenizer_config.json",
	"special_tokens_map.json",
	"vocab.json",
	"merges.txt",
	"tokenizer.model",
}

// modelConfig is the subset of a model repository's config.json this backend
// cares about.
type modelConfig struct {
	Architectures         []string `json:"architectures"`
	MaxPositionEmbeddings uint64   `json:"max_position_embeddings"`
	NPositions            uint64   `json:"n_positions"`
	TorchDtype            string   `json:"torch_dtype"`
}

// contextSize returns the model's maximum sequence length. Decoder-only
// configurations carry max_position_embeddings; encoder-decoder ones carry
// n_positions.
func (c *modelConfig) contextSize() uint64 {
	if c.MaxPositionEmbeddings > 0 {
		return c.MaxPositionEmbeddings
	}
	return c.NPositions
}

// taskForArchitecture maps a model architecture class name to the task its
// engine endpoint serves.
func taskForArchitecture(arch string) (inference.TaskKind, bool) {
	switch {
	case strings.HasSuffix(arch, "ForConditionalGeneration"):
		return inference.TaskText2TextGeneration, true
	case strings.HasSuffix(arch, "ForCausalLM"), strings.HasSuffix(arch, "LMHeadModel"):
		return inference.TaskTextGeneration, true
	default:
		return inference.TaskUnknown, false
	}
}

// classifyConfig determines the task and architecture for a model
// configuration.
func classifyConfig(config *modelConfig, reference string) (inference.TaskKind, string, error) {
	if len(config.Architectures) == 0 {
		return inference.TaskUnknown, "", &inference.UnsupportedModelError{
			Reference: reference,
			Backend:   Name,
		}
	}
	arch := config.Architectures[0]
	task, ok := taskForArchitecture(arch)
	if !ok {
		return inference.TaskUnknown, arch, &inference.UnsupportedModelError{
			Reference:    reference,
			Architecture: arch,
			Backend:      Name,
		}
	}
	return task, arch, nil
}

// Classify implements inference.Backend.Classify.
func (v *vLLM) Classify(ctx context.Context, req inference.ImportRequest) (inference.TaskKind, error) {
	config, err := v.loadModelConfig(ctx, req.Reference)
	if err != nil {
		return inference.TaskUnknown, err
	}
	task, _, err := classifyConfig(config, req.Reference)
	return task, err
}

// loadModelConfig reads and parses the reference's config.json without
// staging the weights.
func (v *vLLM) loadModelConfig(ctx context.Context, reference string) (*modelConfig, error) {
	var raw []byte
	var err error
	if isLocalReference(reference) {
		raw, err = os.ReadFile(filepath.Join(reference, configFile))
	} else {
		raw, err = v.hubClient.GetFile(ctx, reference, configFile)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to read %s for %q: %w", configFile, reference, err)
	}
	return parseModelConfig(raw, reference)
}

func parseModelConfig(raw []byte, reference string) (*modelConfig, error) {
	config := &modelConfig{}
	if err := json.Unmarshal(raw, config); err != nil {
		return nil, fmt.Errorf("unable to parse %s for %q: %w", configFile, reference, err)
	}
	return config, nil
}

// Import implements inference.Backend.Import.
func (v *vLLM) Import(ctx context.Context, req inference.ImportRequest) (*inference.ImportResult, error) {
	var weights []inference.ImportedFile
	customObjects := make(map[string]inference.ImportedFile)

	if isLocalReference(req.Reference) {
		entries, err := os.ReadDir(req.Reference)
		if err != nil {
			return nil, err
		}
		var names []string
		for _, entry := range entries {
			if !entry.IsDir() && strings.HasSuffix(entry.Name(), weightsSuffix) {
				names = append(names, entry.Name())
			}
		}
		if len(names) == 0 {
			return nil, &inference.UnsupportedModelError{Reference: req.Reference, Backend: Name}
		}
		sort.Strings(names)
		for _, name := range names {
			weights = append(weights, inference.ImportedFile{
				Name: name,
				Path: filepath.Join(req.Reference, name),
			})
		}
		for _, name := range auxiliaryFiles {
			path := filepath.Join(req.Reference, name)
			if _, err := os.Stat(path); err == nil {
				customObjects[objectKey(name)] = inference.ImportedFile{Name: name, Path: path}
			}
		}
		if req.TrustRemoteCode {
			for _, entry := range entries {
				if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".py") {
					customObjects[objectKey(entry.Name())] = inference.ImportedFile{
						Name: entry.Name(),
						Path: filepath.Join(req.Reference, entry.Name()),
					}
				}
			}
		}
	} else {
		files, err := v.hubClient.ListFiles(ctx, req.Reference)
		if err != nil {
			return nil, err
		}
		names, err := selectWeightFiles(req.Reference, files)
		if err != nil {
			return nil, err
		}
		paths, err := v.hubClient.DownloadFiles(ctx, req.Reference, names, req.WorkDir)
		if err != nil {
			return nil, err
		}
		for i, name := range names {
			weights = append(weights, inference.ImportedFile{Name: name, Path: paths[i]})
		}
		var extras []string
		for _, name := range auxiliaryFiles {
			if hasFile(files, name) {
				extras = append(extras, name)
			}
		}
		// Model definition code only ships when the caller opted into
		// executing it.
		if req.TrustRemoteCode {
			for _, file := range files {
				if strings.HasSuffix(file.Name, ".py") {
					extras = append(extras, file.Name)
				}
			}
		}
		extraPaths, err := v.hubClient.DownloadFiles(ctx, req.Reference, extras, req.WorkDir)
		if err != nil {
			return nil, err
		}
		for i, name := range extras {
			customObjects[objectKey(name)] = inference.ImportedFile{Name: name, Path: extraPaths[i]}
		}
	}

	configObject, ok := customObjects[configFile]
	if !ok {
		return nil, fmt.Errorf("model %q has no %s, which vllm requires", req.Reference, configFile)
	}
	raw, err := os.ReadFile(configObject.Path)
	if err != nil {
		return nil, fmt.Errorf("unable to read staged %s: %w", configFile, err)
	}
	config, err := parseModelConfig(raw, req.Reference)
	if err != nil {
		return nil, err
	}
	task, arch, err := classifyConfig(config, req.Reference)
	if err != nil {
		return nil, err
	}

	return &inference.ImportResult{
		Task:          task,
		Format:        formatSafetensors,
		Architecture:  arch,
		Quantization:  config.TorchDtype,
		ContextSize:   config.contextSize(),
		Weights:       weights,
		CustomObjects: customObjects,
	}, nil
}

// objectKey returns the custom object key a staged file is stored under. The
// tokenizer payload uses the well-known tokenizer key so that tokenizer
// loading finds it; everything else keeps its filename.
func objectKey(name string) string {
	if name == tokenizerFile {
		return artifact.TokenizerObject
	}
	return name
}

// isLocalReference reports whether the reference names a model directory on
// disk rather than a hub repository.
func isLocalReference(reference string) bool {
	info, err := os.Stat(reference)
	return err == nil && info.IsDir()
}

// selectWeightFiles picks the safetensors weight files to import from a
// repository listing.
func selectWeightFiles(reference string, files []hub.FileInfo) ([]string, error) {
	var names []string
	for _, file := range files {
		if strings.HasSuffix(file.Name, weightsSuffix) {
			names = append(names, file.Name)
		}
	}
	if len(names) == 0 {
		return nil, &inference.UnsupportedModelError{Reference: reference, Backend: Name}
	}
	sort.Strings(names)
	return names, nil
}

// hasFile reports whether the listing contains the named file.
func hasFile(files []hub.FileInfo, name string) bool {
	for _, file := range files {
		if file.Name == name {
			return true
		}
	}
	return false
}
