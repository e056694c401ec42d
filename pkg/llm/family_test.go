package llm

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterValidation(t *testing.T) {
	var confErr *ConfigurationError

	err := Register(Family{Config: FamilyConfig{ContextSize: 2048}})
	require.ErrorAs(t, err, &confErr)

	err = Register(Family{Name: "no-context"})
	require.ErrorAs(t, err, &confErr)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	// "llama" is a builtin.
	err := Register(Family{Name: "llama", Config: FamilyConfig{ContextSize: 4096}})
	require.ErrorIs(t, err, ErrForbiddenMutation)
}

func TestFamilyByNameUnknown(t *testing.T) {
	_, err := FamilyByName("not-a-family")
	var confErr *ConfigurationError
	require.ErrorAs(t, err, &confErr)
	require.Equal(t, "family", confErr.Field)
}

func TestFamiliesSorted(t *testing.T) {
	families := Families()
	require.NotEmpty(t, families)
	names := make([]string, len(families))
	for i, f := range families {
		names[i] = f.Name
	}
	require.True(t, sort.StringsAreSorted(names))
	require.Contains(t, names, "llama")
	require.Contains(t, names, "flan-t5")
}

func TestRegistryIsolatesState(t *testing.T) {
	registered := Family{
		Name:         "isolation-probe",
		DefaultModel: "org/probe",
		Variants:     []string{"org/probe", "org/probe-large"},
		Config:       FamilyConfig{ContextSize: 1024},
		ImportParams: map[string]any{"dtype": "float16"},
	}
	require.NoError(t, Register(registered))

	// Mutating the caller's value after registration must not reach the
	// registry.
	registered.Variants[0] = "changed"
	registered.ImportParams["dtype"] = "changed"

	fetched, err := FamilyByName("isolation-probe")
	require.NoError(t, err)
	require.Equal(t, "org/probe", fetched.Variants[0])
	require.Equal(t, "float16", fetched.ImportParams["dtype"])

	// Nor must mutating a fetched copy.
	fetched.Variants[1] = "changed"
	fetched.ImportParams["dtype"] = "changed"

	again, err := FamilyByName("isolation-probe")
	require.NoError(t, err)
	require.Equal(t, "org/probe-large", again.Variants[1])
	require.Equal(t, "float16", again.ImportParams["dtype"])
}

func TestEnvPretrained(t *testing.T) {
	t.Setenv("OPENLLM_FLAN_T5_PRETRAINED", "google/flan-t5-xl")
	value, ok := EnvPretrained("flan-t5")
	require.True(t, ok)
	require.Equal(t, "google/flan-t5-xl", value)

	t.Setenv("OPENLLM_FLAN_T5_PRETRAINED", "")
	_, ok = EnvPretrained("flan-t5")
	require.False(t, ok)

	_, ok = EnvPretrained("never-registered")
	require.False(t, ok)
}

func TestRegisterDuplicateKeepsOriginal(t *testing.T) {
	original := Family{
		Name:         "duplicate-probe",
		DefaultModel: "org/original",
		Config:       FamilyConfig{ContextSize: 512},
	}
	require.NoError(t, Register(original))

	err := Register(Family{
		Name:         "duplicate-probe",
		DefaultModel: "org/replacement",
		Config:       FamilyConfig{ContextSize: 512},
	})
	require.ErrorIs(t, err, ErrForbiddenMutation)

	fetched, err := FamilyByName("duplicate-probe")
	require.NoError(t, err)
	require.Equal(t, "org/original", fetched.DefaultModel)
}
