package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAliases() *ModelAliases {
	return &ModelAliases{
		Aliases: map[string]string{
			"fast":    "gpt-4o-mini",
			"quality": "claude-sonnet-4-20250514",
		},
		Providers: map[string][]string{
			"openai":    {"gpt-4o", "gpt-4o-mini"},
			"anthropic": {"claude-sonnet-4-20250514"},
		},
	}
}

func TestResolve(t *testing.T) {
	aliases := testAliases()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "known alias", input: "fast", expected: "gpt-4o-mini"},
		{name: "another alias", input: "quality", expected: "claude-sonnet-4-20250514"},
		{name: "unknown returns input", input: "unknown-model", expected: "unknown-model"},
		{name: "canonical unchanged", input: "gpt-4o", expected: "gpt-4o"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, aliases.Resolve(tt.input))
		})
	}

	var nilAliases *ModelAliases
	assert.Equal(t, "fast", nilAliases.Resolve("fast"))
}

func TestValidateModel(t *testing.T) {
	aliases := testAliases()
	assert.NoError(t, aliases.ValidateModel("openai", "gpt-4o"))
	assert.ErrorContains(t, aliases.ValidateModel("openai", "gpt-9"), "not in openai provider list")
	assert.ErrorContains(t, aliases.ValidateModel("cohere", "command"), "unknown adapter")

	var nilAliases *ModelAliases
	assert.NoError(t, nilAliases.ValidateModel("anything", "goes"))
}

func TestProviderLookups(t *testing.T) {
	aliases := testAliases()
	assert.Equal(t, "openai", aliases.GetProviderForModel("gpt-4o-mini"))
	assert.Empty(t, aliases.GetProviderForModel("missing"))
	assert.Equal(t, []string{"anthropic", "openai"}, aliases.ListProviders())
	assert.Equal(t, []string{"claude-sonnet-4-20250514"}, aliases.GetProviderModels("anthropic"))

	list := aliases.ListAliases()
	list["fast"] = "mutated"
	assert.Equal(t, "gpt-4o-mini", aliases.Resolve("fast"))
}

func TestLoadAliases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	content := `aliases:
  fast: gpt-4o-mini
providers:
  openai:
    - gpt-4o-mini
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	aliases, err := LoadAliases(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", aliases.Resolve("fast"))
	assert.Equal(t, "openai", aliases.GetProviderForModel("gpt-4o-mini"))

	_, err = LoadAliases(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadAliasesWithFallback(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)

	fallback := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(fallback, []byte("aliases:\n  fast: from-fallback\n"), 0644))

	aliases, err := LoadAliasesWithFallback(fallback)
	require.NoError(t, err)
	assert.Equal(t, "from-fallback", aliases.Resolve("fast"))

	userPath := filepath.Join(home, DirName, "models.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(userPath), 0755))
	require.NoError(t, os.WriteFile(userPath, []byte("aliases:\n  fast: from-user\n"), 0644))

	aliases, err = LoadAliasesWithFallback(fallback)
	require.NoError(t, err)
	assert.Equal(t, "from-user", aliases.Resolve("fast"))

	setHomeEnv(t, t.TempDir())
	aliases, err = LoadAliasesWithFallback("")
	require.NoError(t, err)
	assert.Empty(t, aliases.ListAliases())
}

func TestValidateOracleConfig(t *testing.T) {
	aliases := testAliases()

	valid := &OracleConfig{
		Default: RouteTarget{Adapter: "openai", Model: "fast"},
		Stages: map[string]RouteTarget{
			"build_model":  {Adapter: "anthropic", Model: "quality"},
			"process_data": {Model: "gpt-4o"},
		},
	}
	assert.Empty(t, aliases.ValidateOracleConfig(valid))

	invalid := &OracleConfig{
		Default: RouteTarget{Adapter: "openai", Model: "gpt-9"},
		Stages: map[string]RouteTarget{
			"build_model": {Adapter: "cohere", Model: "command"},
			"smoke":       {Adapter: "mock", Model: "anything"},
		},
	}
	errs := aliases.ValidateOracleConfig(invalid)
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0].Error(), "default")
	assert.Contains(t, errs[1].Error(), "build_model")
}

func TestDefaultAliasesAreValid(t *testing.T) {
	aliases := DefaultAliases()
	for alias, model := range aliases.ListAliases() {
		assert.NotEmpty(t, aliases.GetProviderForModel(model), "alias %s -> %s has no provider", alias, model)
	}
	assert.Empty(t, aliases.ValidateOracleConfig(DefaultOracleConfig()))
}
