package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "runner.yaml", "port: \"8090\"\nstore_path: /tmp/store\norigins:\n  - http://foo.com\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "8090", cfg.Port)
	require.Equal(t, "/tmp/store", cfg.StorePath)
	require.Equal(t, []string{"http://foo.com"}, cfg.Origins)
	// Untouched fields keep their defaults.
	require.Equal(t, "https://huggingface.co", cfg.HubURL)
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "runner.toml", "port = \"8091\"\nrequire_api_key = true\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "8091", cfg.Port)
	require.True(t, cfg.RequireAPIKey)
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "runner.json", `{"port":"8092","engine_args":"-ngl 42"}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "8092", cfg.Port)
	require.Equal(t, "-ngl 42", cfg.EngineArgs)
}

func TestLoadUnsupportedExtension(t *testing.T) {
	path := writeConfig(t, "runner.ini", "port=1")
	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "runner.yaml", "port: \"8090\"\n")
	t.Setenv("OPENLLM_PORT", "9000")
	t.Setenv("OPENLLM_ORIGINS", "http://a.com,http://b.com")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "9000", cfg.Port)
	require.Equal(t, []string{"http://a.com", "http://b.com"}, cfg.Origins)
}

func TestParseEngineArgs(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []string
		wantErr bool
	}{
		{name: "empty", raw: "", want: nil},
		{name: "plain", raw: "-ngl 100 --threads 4", want: []string{"-ngl", "100", "--threads", "4"}},
		{name: "quoted", raw: `--override-kv "tokenizer.ggml.add_bos_token=bool:false"`, want: []string{"--override-kv", "tokenizer.ggml.add_bos_token=bool:false"}},
		{name: "reserved model", raw: "--model /tmp/x.gguf", wantErr: true},
		{name: "reserved host", raw: "--host 0.0.0.0", wantErr: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Config{EngineArgs: test.raw}
			got, err := cfg.ParseEngineArgs()
			if test.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, test.want, got)
		})
	}
}
