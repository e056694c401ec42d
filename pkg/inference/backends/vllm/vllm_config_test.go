package vllm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Vortextech01/OpenLLM/pkg/inference"
)

type testModel struct {
	path string
	meta map[string]string
}

func (m *testModel) Path() string {
	return m.path
}

func (m *testModel) Meta() map[string]string {
	return m.meta
}

func TestGetArgs(t *testing.T) {
	tests := []struct {
		name     string
		model    *testModel
		mode     inference.BackendMode
		expected []string
	}{
		{
			name: "basic args without context size",
			model: &testModel{
				path: "/path/to/model-00001-of-00002.safetensors",
				meta: map[string]string{},
			},
			mode: inference.BackendModeCompletion,
			expected: []string{
				"serve",
				"/path/to",
				"--uds",
				"/tmp/socket",
			},
		},
		{
			name: "served model name from metadata",
			model: &testModel{
				path: "/path/to/model.safetensors",
				meta: map[string]string{"pretrained": "facebook/opt-125m"},
			},
			mode: inference.BackendModeCompletion,
			expected: []string{
				"serve",
				"/path/to",
				"--uds",
				"/tmp/socket",
				"--served-model-name",
				"facebook/opt-125m",
			},
		},
		{
			name: "context size caps model length",
			model: &testModel{
				path: "/path/to/model.safetensors",
				meta: map[string]string{"context_size": "8192"},
			},
			mode: inference.BackendModeCompletion,
			expected: []string{
				"serve",
				"/path/to",
				"--uds",
				"/tmp/socket",
				"--max-model-len",
				"8192",
			},
		},
		{
			name: "unparseable context size is ignored",
			model: &testModel{
				path: "/path/to/model.safetensors",
				meta: map[string]string{"context_size": "lots"},
			},
			mode: inference.BackendModeCompletion,
			expected: []string{
				"serve",
				"/path/to",
				"--uds",
				"/tmp/socket",
			},
		},
		{
			name: "embedding mode adds no flags",
			model: &testModel{
				path: "/path/to/model.safetensors",
				meta: map[string]string{},
			},
			mode: inference.BackendModeEmbedding,
			expected: []string{
				"serve",
				"/path/to",
				"--uds",
				"/tmp/socket",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := NewDefaultConfig()
			args, err := config.GetArgs(tt.model, "/tmp/socket", tt.mode)
			require.NoError(t, err)
			require.Equal(t, tt.expected, args)
		})
	}
}

func TestGetArgsRejectsUnknownMode(t *testing.T) {
	config := NewDefaultConfig()
	model := &testModel{path: "/path/to/model.safetensors", meta: map[string]string{}}
	_, err := config.GetArgs(model, "/tmp/socket", inference.BackendMode(42))
	require.Error(t, err)
}
