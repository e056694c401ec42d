package llamacpp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	parser "github.com/gpustack/gguf-parser-go"

	"github.com/Vortextech01/OpenLLM/pkg/artifact"
	"github.com/Vortextech01/OpenLLM/pkg/hub"
	"github.com/Vortextech01/OpenLLM/pkg/inference"
)

// architectureTasks maps GGUF model architectures to the task their engine
// endpoint serves. Architectures outside this table are unsupported.
var architectureTasks = map[string]inference.TaskKind{
	"llama":     inference.TaskTextGeneration,
	"falcon":    inference.TaskTextGeneration,
	"gpt2":      inference.TaskTextGeneration,
	"gptj":      inference.TaskTextGeneration,
	"gptneox":   inference.TaskTextGeneration,
	"mpt":       inference.TaskTextGeneration,
	"starcoder": inference.TaskTextGeneration,
	"baichuan":  inference.TaskTextGeneration,
	"bloom":     inference.TaskTextGeneration,
	"stablelm":  inference.TaskTextGeneration,
	"qwen2":     inference.TaskTextGeneration,
	"gemma":     inference.TaskTextGeneration,
	"gemma2":    inference.TaskTextGeneration,
	"phi2":      inference.TaskTextGeneration,
	"phi3":      inference.TaskTextGeneration,
	"chatglm":   inference.TaskTextGeneration,
	"t5":        inference.TaskText2TextGeneration,
	"t5encoder": inference.TaskText2TextGeneration,
}

// shardPattern matches the shard suffix of split GGUF files, e.g.
// "model-00001-of-00003.gguf".
var shardPattern = regexp.MustCompile(`-\d{5}-of-\d{5}\.gguf$`)

// tokenizerFile is the hub file staged as the artifact's tokenizer payload
// when present.
const tokenizerFile = "tokenizer.json"

// Classify implements inference.Backend.Classify.
func (l *llamaCpp) Classify(ctx context.Context, req inference.ImportRequest) (inference.TaskKind, error) {
	modelGGUF, err := l.probeGGUF(ctx, req)
	if err != nil {
		return inference.TaskUnknown, err
	}
	arch := architectureOf(extractMetadata(&modelGGUF.Header))
	task, ok := architectureTasks[arch]
	if !ok {
		return inference.TaskUnknown, &inference.UnsupportedModelError{
			Reference:    req.Reference,
			Architecture: arch,
			Backend:      Name,
		}
	}
	return task, nil
}

// Import implements inference.Backend.Import.
func (l *llamaCpp) Import(ctx context.Context, req inference.ImportRequest) (*inference.ImportResult, error) {
	var weights []inference.ImportedFile
	customObjects := make(map[string]inference.ImportedFile)

	if isLocalReference(req.Reference) {
		shards := parser.CompleteShardGGUFFilename(req.Reference)
		if len(shards) == 0 {
			shards = []string{req.Reference} // single file
		}
		for _, shard := range shards {
			weights = append(weights, inference.ImportedFile{
				Name: filepath.Base(shard),
				Path: shard,
			})
		}
	} else {
		files, err := l.hubClient.ListFiles(ctx, req.Reference)
		if err != nil {
			return nil, err
		}
		names, err := selectWeightFiles(req.Reference, files, req.ModelParams)
		if err != nil {
			return nil, err
		}
		paths, err := l.hubClient.DownloadFiles(ctx, req.Reference, names, req.WorkDir)
		if err != nil {
			return nil, err
		}
		for i, name := range names {
			weights = append(weights, inference.ImportedFile{Name: name, Path: paths[i]})
		}
		if hasFile(files, tokenizerFile) {
			path, err := l.hubClient.DownloadFile(ctx, req.Reference, tokenizerFile, req.WorkDir)
			if err != nil {
				return nil, err
			}
			customObjects[artifact.TokenizerObject] = inference.ImportedFile{
				Name: tokenizerFile,
				Path: path,
			}
		}
	}

	modelGGUF, err := parser.ParseGGUFFile(weights[0].Path)
	if err != nil {
		return nil, &inference.ErrGGUFParse{Err: err}
	}
	metadata := extractMetadata(&modelGGUF.Header)
	arch := architectureOf(metadata)
	task, ok := architectureTasks[arch]
	if !ok {
		return nil, &inference.UnsupportedModelError{
			Reference:    req.Reference,
			Architecture: arch,
			Backend:      Name,
		}
	}

	return &inference.ImportResult{
		Task:          task,
		Format:        formatGGUF,
		Architecture:  arch,
		Quantization:  strings.TrimSpace(modelGGUF.Metadata().FileType.String()),
		ContextSize:   contextLengthOf(metadata),
		Weights:       weights,
		CustomObjects: customObjects,
	}, nil
}

// probeGGUF parses the reference's GGUF header without staging the weights.
// Hub-hosted files are parsed remotely over range requests.
func (l *llamaCpp) probeGGUF(ctx context.Context, req inference.ImportRequest) (*parser.GGUFFile, error) {
	if isLocalReference(req.Reference) {
		modelGGUF, err := parser.ParseGGUFFile(req.Reference)
		if err != nil {
			return nil, &inference.ErrGGUFParse{Err: err}
		}
		return modelGGUF, nil
	}
	files, err := l.hubClient.ListFiles(ctx, req.Reference)
	if err != nil {
		return nil, err
	}
	names, err := selectWeightFiles(req.Reference, files, req.ModelParams)
	if err != nil {
		return nil, err
	}
	modelGGUF, err := parser.ParseGGUFFileRemote(ctx,
		l.hubClient.ResolveURL(req.Reference, names[0]),
		parser.UseBearerAuth(l.hubClient.Token()))
	if err != nil {
		return nil, &inference.ErrGGUFParse{Err: err}
	}
	return modelGGUF, nil
}

// isLocalReference reports whether the reference names a file on disk rather
// than a hub repository.
func isLocalReference(reference string) bool {
	info, err := os.Stat(reference)
	return err == nil && !info.IsDir()
}

// selectWeightFiles picks the GGUF weight files to import from a repository
// listing. A "quantization" model parameter narrows the choice; sharded
// models contribute every shard of the chosen file's group.
func selectWeightFiles(reference string, files []hub.FileInfo, modelParams map[string]any) ([]string, error) {
	var ggufs []string
	for _, file := range files {
		if strings.HasSuffix(file.Name, ".gguf") {
			ggufs = append(ggufs, file.Name)
		}
	}
	if len(ggufs) == 0 {
		return nil, &inference.UnsupportedModelError{Reference: reference, Backend: Name}
	}
	sort.Strings(ggufs)

	chosen := ggufs[0]
	if quant, ok := modelParams["quantization"].(string); ok && quant != "" {
		found := false
		for _, name := range ggufs {
			if strings.Contains(strings.ToLower(name), strings.ToLower(quant)) {
				chosen = name
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("no file with quantization %q among %d GGUF files in %q", quant, len(ggufs), reference)
		}
	}

	if !shardPattern.MatchString(chosen) {
		return []string{chosen}, nil
	}
	prefix := shardPattern.ReplaceAllString(chosen, "")
	var shards []string
	for _, name := range ggufs {
		if shardPattern.MatchString(name) && shardPattern.ReplaceAllString(name, "") == prefix {
			shards = append(shards, name)
		}
	}
	return shards, nil
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
