package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DirName is the per-user configuration directory under $HOME.
const DirName = ".pond-agent"

// Execution defaults.
const (
	DefaultInterpreter   = "python3"
	DefaultSearchPathVar = "PYTHONPATH"
	DefaultRepairBudget  = 3
)

// Config holds the application configuration.
type Config struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GoogleAPIKey    string
	DeepSeekAPIKey  string
	Oracle          *OracleConfig
	Execution       ExecutionConfig
	Logging         LoggingConfig
	ConfigDir       string
}

// FileConfig represents the structure of ~/.pond-agent/config.yaml
type FileConfig struct {
	APIKeys   APIKeysConfig   `yaml:"api_keys"`
	Execution ExecutionConfig `yaml:"execution"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// APIKeysConfig holds API key configuration from file.
type APIKeysConfig struct {
	Anthropic string `yaml:"anthropic"`
	OpenAI    string `yaml:"openai"`
	Google    string `yaml:"google"`
	DeepSeek  string `yaml:"deepseek"`
}

// ExecutionConfig controls how generated scripts are run.
type ExecutionConfig struct {
	Interpreter    string   `yaml:"interpreter,omitempty"`
	SearchPathVar  string   `yaml:"search_path_var,omitempty"`
	SearchPaths    []string `yaml:"search_paths,omitempty"`
	RepairBudget   *int     `yaml:"repair_budget,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
}

// Budget returns the configured repair budget, defaulting to DefaultRepairBudget.
func (e ExecutionConfig) Budget() int {
	if e.RepairBudget == nil {
		return DefaultRepairBudget
	}
	return *e.RepairBudget
}

// Timeout returns the per-execution timeout; zero means none.
func (e ExecutionConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// LoggingConfig selects log level and format.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// Load reads configuration from config files and environment variables.
// Environment variables take precedence over file configuration.
func Load() (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	return load(configDir, filepath.Join(configDir, "oracle.yaml"), false)
}

// LoadWithOracleFile loads config with a specific oracle policy file.
func LoadWithOracleFile(oraclePath string) (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	return load(configDir, oraclePath, true)
}

func load(configDir, oraclePath string, required bool) (*Config, error) {
	fileConfig, err := loadFileConfig(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AnthropicAPIKey: getEnvOrDefault("ANTHROPIC_API_KEY", fileConfig.APIKeys.Anthropic),
		OpenAIAPIKey:    getEnvOrDefault("OPENAI_API_KEY", fileConfig.APIKeys.OpenAI),
		GoogleAPIKey:    getEnvOrDefault("GOOGLE_API_KEY", fileConfig.APIKeys.Google),
		DeepSeekAPIKey:  getEnvOrDefault("DEEPSEEK_API_KEY", fileConfig.APIKeys.DeepSeek),
		Execution:       fileConfig.Execution,
		Logging:         fileConfig.Logging,
		ConfigDir:       configDir,
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	applyExecutionDefaults(&cfg.Execution)

	if _, statErr := os.Stat(oraclePath); statErr == nil || required {
		oracle, err := LoadOracleConfig(oraclePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load oracle config from %s: %w", oraclePath, err)
		}
		cfg.Oracle = oracle
	} else {
		cfg.Oracle = DefaultOracleConfig()
	}

	return cfg, nil
}

// HasAdapter returns true if the API key for the given adapter is configured.
func (c *Config) HasAdapter(name string) bool {
	switch name {
	case "anthropic":
		return c.AnthropicAPIKey != ""
	case "openai":
		return c.OpenAIAPIKey != ""
	case "google":
		return c.GoogleAPIKey != ""
	case "deepseek":
		return c.DeepSeekAPIKey != ""
	case "mock":
		return true
	default:
		return false
	}
}

// loadFileConfig reads the config file, returning empty config if not found.
func loadFileConfig(path string) (*FileConfig, error) {
	cfg := &FileConfig{}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.Execution.Interpreter = getEnvOrDefault("POND_AGENT_INTERPRETER", cfg.Execution.Interpreter)
	cfg.Logging.Level = getEnvOrDefault("POND_AGENT_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnvOrDefault("POND_AGENT_LOG_FORMAT", cfg.Logging.Format)
	if v := os.Getenv("POND_AGENT_REPAIR_BUDGET"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("POND_AGENT_REPAIR_BUDGET must be a non-negative integer, got %q", v)
		}
		cfg.Execution.RepairBudget = &n
	}
	return nil
}

func applyExecutionDefaults(e *ExecutionConfig) {
	if e.Interpreter == "" {
		e.Interpreter = DefaultInterpreter
	}
	if e.SearchPathVar == "" {
		e.SearchPathVar = DefaultSearchPathVar
	}
	if e.TimeoutSeconds < 0 {
		e.TimeoutSeconds = 0
	}
}

// getEnvOrDefault returns the environment variable value if set,
// otherwise returns the default value.
func getEnvOrDefault(envVar, defaultValue string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return defaultValue
}

func getConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(home, DirName)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}
	return configDir, nil
}
