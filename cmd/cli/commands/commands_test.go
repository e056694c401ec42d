package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Vortextech01/OpenLLM/pkg/auth"
	"github.com/Vortextech01/OpenLLM/pkg/models"
	"github.com/Vortextech01/OpenLLM/pkg/scheduling"
)

// executeCommand runs the CLI against a daemon stub, returning everything
// written to stdout and stderr.
func executeCommand(t *testing.T, handler http.Handler, args ...string) (string, error) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	root := NewRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(append(args, "--host", server.URL))
	err := root.Execute()
	return buf.String(), err
}

func TestStatusCommand(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/status", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(scheduling.StatusResponse{
			Status: "running",
			Backends: map[string]scheduling.BackendState{
				"llamacpp": {Install: "installed", Detail: "running llama.cpp"},
				"vllm":     {Install: "installing"},
			},
		})
	})

	out, err := executeCommand(t, mux, "status")
	require.NoError(t, err)
	require.Contains(t, out, "The OpenLLM daemon is running")
	require.Contains(t, out, "llamacpp: installed (running llama.cpp)")
	require.Contains(t, out, "vllm: installing")
}

func TestStatusCommandNotRunning(t *testing.T) {
	exitCode := -1
	originalExit := osExit
	osExit = func(code int) { exitCode = code }
	defer func() { osExit = originalExit }()

	root := NewRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs([]string{"status", "--host", filepath.Join(t.TempDir(), "missing.sock")})

	require.NoError(t, root.Execute())
	require.Contains(t, buf.String(), "The OpenLLM daemon is not running")
	require.Equal(t, 1, exitCode)
}

func TestListCommand(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/models", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(models.ModelList{
			{Tag: "llamacpp/org/tiny:abcdef123456", Family: "llama", Backend: "llamacpp", Format: "gguf", Size: 4 << 20},
		})
	})

	out, err := executeCommand(t, mux, "ls")
	require.NoError(t, err)
	require.Contains(t, out, "TAG")
	require.Contains(t, out, "llamacpp/org/tiny:abcdef123456")
	require.Contains(t, out, "llama")

	out, err = executeCommand(t, mux, "ls", "--json")
	require.NoError(t, err)
	var list models.ModelList
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 1)
}

func TestFamiliesCommand(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/families", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([]*models.Family{
			{Name: "flan-t5", DefaultModel: "google/flan-t5-large", Variants: []string{"google/flan-t5-small", "google/flan-t5-large"}, ContextSize: 512},
			{Name: "llama", ContextSize: 4096},
		})
	})

	out, err := executeCommand(t, mux, "families")
	require.NoError(t, err)
	require.Contains(t, out, "FAMILY")
	require.Contains(t, out, "flan-t5")
	require.Contains(t, out, "google/flan-t5-large")

	out, err = executeCommand(t, mux, "families", "--json")
	require.NoError(t, err)
	var families []*models.Family
	require.NoError(t, json.Unmarshal([]byte(out), &families))
	require.Len(t, families, 2)
}

func TestImportCommand(t *testing.T) {
	var got models.ImportRequest
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/models/import", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(models.Model{
			Tag:  "llamacpp/thebloke/llama-2-7b-chat-gguf:abcdef123456",
			Size: 4 << 30,
		})
	})

	out, err := executeCommand(t, mux, "import", "llama",
		"--pretrained", "TheBloke/Llama-2-7B-Chat-GGUF",
		"--param", "quantization=q5_k_m",
		"--param", "_tokenizer_padding_side=left",
	)
	require.NoError(t, err)
	require.Equal(t, "llama", got.Family)
	require.Equal(t, "TheBloke/Llama-2-7B-Chat-GGUF", got.Pretrained)
	require.Equal(t, map[string]any{
		"quantization":            "q5_k_m",
		"_tokenizer_padding_side": "left",
	}, got.Params)
	require.Contains(t, out, "Imported llamacpp/thebloke/llama-2-7b-chat-gguf:abcdef123456")
}

func TestRemoveCommandReportsMissing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /v1/models/{tag...}", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "artifact not found", http.StatusNotFound)
	})

	_, err := executeCommand(t, mux, "rm", "llamacpp/org/tiny:abcdef123456")
	require.Error(t, err)
	require.Contains(t, err.Error(), "artifact not found")
}

func TestServeAndStopCommands(t *testing.T) {
	var got scheduling.CreateRunnerRequest
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/runners", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(scheduling.RunnerState{
			Name:    "alt",
			Family:  "llama",
			Tag:     "llamacpp/org/tiny:abcdef123456",
			Backend: "llamacpp",
		})
	})
	mux.HandleFunc("DELETE /v1/runners/alt", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	out, err := executeCommand(t, mux, "serve", "llama", "--name", "alt", "--max-batch-size", "8")
	require.NoError(t, err)
	require.Equal(t, "llama", got.Family)
	require.Equal(t, "alt", got.Name)
	require.Equal(t, 8, got.MaxBatchSize)
	require.Contains(t, out, "Runner alt is serving llamacpp/org/tiny:abcdef123456 on llamacpp")

	out, err = executeCommand(t, mux, "stop", "alt")
	require.NoError(t, err)
	require.Contains(t, out, "Stopped alt")
}

func TestRunCommandStreams(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/runners/llm-llama-runner/generate_stream", func(w http.ResponseWriter, r *http.Request) {
		var req scheduling.GenerateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Prompt == "" {
			http.Error(w, "prompt is required", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = fmt.Fprint(w, "data: {\"id\":\"gen-1\",\"text\":\"Hello\"}\n\n")
		_, _ = fmt.Fprint(w, "data: {\"id\":\"gen-1\",\"text\":\", world\"}\n\n")
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	})

	out, err := executeCommand(t, mux, "run", "llm-llama-runner", "say", "hello")
	require.NoError(t, err)
	require.Contains(t, out, "Hello, world")
}

func TestRunCommandNoStream(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/runners/llm-llama-runner/generate", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(scheduling.GenerateResponse{ID: "gen-1", Text: "echo: hi"})
	})

	out, err := executeCommand(t, mux, "run", "llm-llama-runner", "hi", "--no-stream")
	require.NoError(t, err)
	require.Contains(t, out, "echo: hi")
}

func TestKeysCommands(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth/keys", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(auth.CreatedKey{
			Key:    auth.Key{ID: "id-1", Name: "ci", Prefix: "sk-abcd"},
			Secret: "sk-abcdef0123456789",
		})
	})
	mux.HandleFunc("GET /v1/auth/keys", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([]*auth.Key{{ID: "id-1", Name: "ci", Prefix: "sk-abcd"}})
	})
	mux.HandleFunc("DELETE /v1/auth/keys/id-1", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	out, err := executeCommand(t, mux, "keys", "create", "ci")
	require.NoError(t, err)
	require.Contains(t, out, "sk-abcdef0123456789")

	out, err = executeCommand(t, mux, "keys", "ls")
	require.NoError(t, err)
	require.Contains(t, out, "sk-abcd...")
	require.NotContains(t, out, "sk-abcdef0123456789")

	out, err = executeCommand(t, mux, "keys", "rm", "id-1")
	require.NoError(t, err)
	require.Contains(t, out, "Removed id-1")
}

func TestCommandSendsAPIKey(t *testing.T) {
	var header string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/models", func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(models.ModelList{})
	})

	_, err := executeCommand(t, mux, "ls", "--api-key", "sk-secret")
	require.NoError(t, err)
	require.Equal(t, "Bearer sk-secret", header)
}
