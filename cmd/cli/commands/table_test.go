package commands

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Vortextech01/OpenLLM/pkg/activity"
	"github.com/Vortextech01/OpenLLM/pkg/auth"
	"github.com/Vortextech01/OpenLLM/pkg/models"
	"github.com/Vortextech01/OpenLLM/pkg/scheduling"
)

func TestModelTable(t *testing.T) {
	out := modelTable(models.ModelList{
		{
			Tag:     "llamacpp/org/tiny:abcdef123456",
			Family:  "llama",
			Backend: "llamacpp",
			Format:  "gguf",
			Size:    4 << 30,
			Created: time.Now().Add(-2 * time.Hour),
		},
	})
	require.Contains(t, out, "TAG")
	require.Contains(t, out, "llamacpp/org/tiny:abcdef123456")
	require.Contains(t, out, "gguf")
	require.Contains(t, out, "2 hours ago")
}

func TestRunnerTable(t *testing.T) {
	out := runnerTable([]*scheduling.RunnerState{
		{
			Name:    "llm-llama-runner",
			Family:  "llama",
			Backend: "llamacpp",
			Tag:     "llamacpp/org/tiny:abcdef123456",
			Created: time.Now().Add(-5 * time.Minute),
		},
	})
	require.Contains(t, out, "NAME")
	require.Contains(t, out, "llm-llama-runner")
	require.Contains(t, out, "5 minutes ago")
}

func TestFamilyTable(t *testing.T) {
	out := familyTable([]*models.Family{
		{Name: "flan-t5", DefaultModel: "google/flan-t5-large", Variants: []string{"a", "b", "c"}, ContextSize: 512},
		{Name: "baichuan", ContextSize: 4096},
	})
	require.Contains(t, out, "FAMILY")
	require.Contains(t, out, "flan-t5")
	require.Contains(t, out, "google/flan-t5-large")
	require.Contains(t, out, "3")
	require.Contains(t, out, "baichuan")
	require.Contains(t, out, "-")
}

func TestDiskUsageTable(t *testing.T) {
	out := diskUsageTable(&models.DiskUsage{
		Store: 4 << 30,
		Backends: map[string]int64{
			"llamacpp": 120 << 20,
			"vllm":     0,
		},
		Total: (4 << 30) + (120 << 20),
	})
	require.Contains(t, out, "Models")
	require.Contains(t, out, "llamacpp engine")
	require.NotContains(t, out, "vllm")
	require.Contains(t, out, "Total")
}

func TestActivityTable(t *testing.T) {
	out := activityTable([]*activity.Event{
		{
			Kind:    "import",
			Subject: "llamacpp/org/tiny:abcdef123456",
			Detail:  "imported org/tiny",
			At:      time.Now().Add(-time.Minute),
		},
	})
	require.Contains(t, out, "KIND")
	require.Contains(t, out, "import")
	require.Contains(t, out, "About a minute ago")
}

func TestKeyTable(t *testing.T) {
	used := time.Now().Add(-time.Hour)
	out := keyTable([]*auth.Key{
		{ID: "id-1", Name: "ci", Prefix: "sk-abcd", Created: time.Now().Add(-24 * time.Hour)},
		{ID: "id-2", Name: "laptop", Prefix: "sk-ef01", Created: time.Now().Add(-time.Hour), LastUsed: &used},
	})
	require.Contains(t, out, "sk-abcd...")
	require.Contains(t, out, "never")
	require.Contains(t, out, "About an hour ago")
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"quantization=q5_k_m", "_tokenizer_padding_side=left"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{
		"quantization":            "q5_k_m",
		"_tokenizer_padding_side": "left",
	}, params)

	params, err = parseParams(nil)
	require.NoError(t, err)
	require.Nil(t, params)

	_, err = parseParams([]string{"noequals"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "noequals")
}
