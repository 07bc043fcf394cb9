package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, home, name, content string) {
	t.Helper()
	dir := filepath.Join(home, DirName)
	require.NoError(t, os.MkdirAll(dir, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0600))
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GOOGLE_API_KEY", "DEEPSEEK_API_KEY",
		"POND_AGENT_INTERPRETER", "POND_AGENT_LOG_LEVEL", "POND_AGENT_LOG_FORMAT", "POND_AGENT_REPAIR_BUDGET",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	setHomeEnv(t, t.TempDir())
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultInterpreter, cfg.Execution.Interpreter)
	assert.Equal(t, DefaultSearchPathVar, cfg.Execution.SearchPathVar)
	assert.Equal(t, DefaultRepairBudget, cfg.Execution.Budget())
	assert.Zero(t, cfg.Execution.Timeout())
	assert.Equal(t, "openai", cfg.Oracle.Default.Adapter)
	assert.Equal(t, 2, cfg.Oracle.Retry.MaxRetries)
	assert.True(t, cfg.HasAdapter("mock"))
	assert.False(t, cfg.HasAdapter("openai"))
}

func TestLoadFileValues(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)
	clearEnv(t)
	writeConfigFile(t, home, "config.yaml", `api_keys:
  anthropic: file-ant
execution:
  interpreter: /usr/bin/python3.12
  repair_budget: 0
  timeout_seconds: 600
logging:
  level: debug
`)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "file-ant", cfg.AnthropicAPIKey)
	assert.Equal(t, "/usr/bin/python3.12", cfg.Execution.Interpreter)
	assert.Equal(t, 0, cfg.Execution.Budget())
	assert.Equal(t, "10m0s", cfg.Execution.Timeout().String())
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestEnvOverridesFile(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)
	clearEnv(t)
	writeConfigFile(t, home, "config.yaml", "api_keys:\n  openai: file-openai\nexecution:\n  repair_budget: 5\n")

	t.Setenv("OPENAI_API_KEY", "env-openai")
	t.Setenv("POND_AGENT_REPAIR_BUDGET", "1")
	t.Setenv("POND_AGENT_INTERPRETER", "python")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "env-openai", cfg.OpenAIAPIKey)
	assert.Equal(t, 1, cfg.Execution.Budget())
	assert.Equal(t, "python", cfg.Execution.Interpreter)
}

func TestInvalidBudgetEnv(t *testing.T) {
	setHomeEnv(t, t.TempDir())
	clearEnv(t)
	t.Setenv("POND_AGENT_REPAIR_BUDGET", "-1")

	_, err := Load()
	assert.ErrorContains(t, err, "POND_AGENT_REPAIR_BUDGET")
}

func TestMalformedConfigFile(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)
	clearEnv(t)
	writeConfigFile(t, home, "config.yaml", "execution: [not, a, map")

	_, err := Load()
	assert.Error(t, err)
}

func TestOracleFile(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)
	clearEnv(t)
	writeConfigFile(t, home, "oracle.yaml", `default:
  adapter: anthropic
  model: claude-sonnet-4-20250514
stages:
  build_model:
    model: claude-opus-4-20250514
max_budget_usd: 2.5
`)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2.5, cfg.Oracle.MaxBudgetUSD)
	assert.Equal(t, RouteTarget{Adapter: "anthropic", Model: "claude-opus-4-20250514"}, cfg.Oracle.Target("build_model"))
	assert.Equal(t, RouteTarget{Adapter: "anthropic", Model: "claude-sonnet-4-20250514"}, cfg.Oracle.Target("process_data"))

	_, err = LoadWithOracleFile(filepath.Join(home, "missing.yaml"))
	assert.Error(t, err)
}

func setHomeEnv(t *testing.T, home string) {
	t.Helper()
	t.Setenv("HOME", home)
	if runtime.GOOS == "windows" {
		t.Setenv("USERPROFILE", home)
	}
}
