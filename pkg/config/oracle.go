package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// OracleConfig selects the completion provider and the call policy around it.
type OracleConfig struct {
	Default      RouteTarget            `yaml:"default"`
	Stages       map[string]RouteTarget `yaml:"stages,omitempty"`
	Retry        RetryConfig            `yaml:"retry,omitempty"`
	Fallback     FallbackConfig         `yaml:"fallback,omitempty"`
	Pricing      PricingConfig          `yaml:"pricing,omitempty"`
	MaxBudgetUSD float64                `yaml:"max_budget_usd,omitempty"`
}

// RouteTarget specifies an adapter and model combination.
type RouteTarget struct {
	Adapter string `yaml:"adapter"`
	Model   string `yaml:"model"`
}

// RetryConfig defines retry and backoff behavior.
type RetryConfig struct {
	MaxRetries    int `yaml:"max_retries,omitempty"`
	BaseBackoffMs int `yaml:"base_backoff_ms,omitempty"`
	MaxBackoffMs  int `yaml:"max_backoff_ms,omitempty"`
}

// FallbackConfig defines adapter/model fallbacks.
type FallbackConfig struct {
	AllowFallback bool                     `yaml:"allow_fallback,omitempty"`
	FallbackChain map[string][]RouteTarget `yaml:"fallback_chain,omitempty"`
}

// PricingConfig maps adapter -> model -> pricing.
type PricingConfig map[string]map[string]ModelPricing

// ModelPricing defines per-1k token pricing.
type ModelPricing struct {
	PromptPer1K     float64 `yaml:"prompt_per_1k,omitempty"`
	CompletionPer1K float64 `yaml:"completion_per_1k,omitempty"`
}

// Target returns the route for a stage, falling back to the default.
func (c *OracleConfig) Target(stage string) RouteTarget {
	if c == nil {
		return RouteTarget{}
	}
	target := c.Default
	if override, ok := c.Stages[stage]; ok {
		if override.Adapter != "" {
			target.Adapter = override.Adapter
		}
		if override.Model != "" {
			target.Model = override.Model
		}
	}
	return target
}

// LoadOracleConfig reads oracle configuration from a YAML file.
func LoadOracleConfig(path string) (*OracleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg OracleConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyOracleDefaults(&cfg)
	return &cfg, nil
}

// DefaultOracleConfig returns the default oracle configuration.
func DefaultOracleConfig() *OracleConfig {
	cfg := &OracleConfig{
		Pricing: PricingConfig{
			"anthropic": {
				"claude-sonnet-4-20250514": {PromptPer1K: 0.003, CompletionPer1K: 0.015},
				"claude-opus-4-20250514":   {PromptPer1K: 0.015, CompletionPer1K: 0.075},
			},
			"openai": {
				"gpt-4o":      {PromptPer1K: 0.0025, CompletionPer1K: 0.01},
				"gpt-4o-mini": {PromptPer1K: 0.00015, CompletionPer1K: 0.0006},
				"gpt-4.1":     {PromptPer1K: 0.002, CompletionPer1K: 0.008},
			},
			"deepseek": {
				"default": {PromptPer1K: 0.00027, CompletionPer1K: 0.0011},
			},
		},
	}
	applyOracleDefaults(cfg)
	return cfg
}

func applyOracleDefaults(cfg *OracleConfig) {
	if cfg == nil {
		return
	}
	if cfg.Default.Adapter == "" {
		cfg.Default.Adapter = "openai"
	}
	if cfg.Default.Model == "" && cfg.Default.Adapter == "openai" {
		cfg.Default.Model = "gpt-4o"
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = 2
	}
	if cfg.Retry.BaseBackoffMs == 0 {
		cfg.Retry.BaseBackoffMs = 200
	}
	if cfg.Retry.MaxBackoffMs == 0 {
		cfg.Retry.MaxBackoffMs = 2000
	}
	if cfg.Retry.MaxBackoffMs < cfg.Retry.BaseBackoffMs {
		cfg.Retry.MaxBackoffMs = cfg.Retry.BaseBackoffMs
	}
}
