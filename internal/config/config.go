// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type AdminConfig struct {
	Port int `yaml:"port"` // diagnostics HTTP server (health, metrics, model introspection)
}

// ProviderConfig is one backend's credentials and defaults. The API key is
// overlaid from the backend's environment variable; adapters never read the
// environment themselves.
type ProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

type AIConfig struct {
	DefaultProvider string         `yaml:"default_provider"` // anthropic | openai | gemini | noop
	Anthropic       ProviderConfig `yaml:"anthropic"`
	OpenAI          ProviderConfig `yaml:"openai"`
	Gemini          ProviderConfig `yaml:"gemini"`

	MaxOutputTokens int     `yaml:"max_output_tokens"` // default per-call output budget
	Temperature     float64 `yaml:"temperature"`       // default sampling temperature
	ConcurrentLimit int     `yaml:"concurrent_limit"`  // max concurrent calls per backend
}

// RetryConfig parameterizes the shared backoff engine.
type RetryConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	MaxRetries   int           `yaml:"max_retries"`
}

type Config struct {
	Log   LogConfig   `yaml:"log"`
	Admin AdminConfig `yaml:"admin"`
	AI    AIConfig    `yaml:"ai"`
	Retry RetryConfig `yaml:"retry"`

	Runtime RuntimeConfig `yaml:"-"`
}

// Environment variable per backend; absence just leaves the adapter
// unconfigured.
const (
	EnvAnthropicKey = "ANTHROPIC_API_KEY"
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvGeminiKey    = "GEMINI_API_KEY"
)

// LoadConfig reads the YAML file, overlays credentials from the
// environment and normalizes defaults.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Runtime.Dev = dev
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAnthropicKey); v != "" {
		c.AI.Anthropic.APIKey = v
	}
	if v := os.Getenv(EnvOpenAIKey); v != "" {
		c.AI.OpenAI.APIKey = v
	}
	if v := os.Getenv(EnvGeminiKey); v != "" {
		c.AI.Gemini.APIKey = v
	}
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Admin.Port <= 0 {
		c.Admin.Port = 8090
	}
	if c.AI.DefaultProvider == "" {
		c.AI.DefaultProvider = "anthropic"
	}
	if c.AI.Anthropic.DefaultModel == "" {
		c.AI.Anthropic.DefaultModel = "claude-sonnet-4-0"
	}
	if c.AI.OpenAI.DefaultModel == "" {
		c.AI.OpenAI.DefaultModel = "gpt-4o-mini"
	}
	if c.AI.Gemini.DefaultModel == "" {
		c.AI.Gemini.DefaultModel = "gemini-2.5-flash"
	}
	if c.AI.MaxOutputTokens <= 0 {
		c.AI.MaxOutputTokens = 1024
	}
	if c.AI.Temperature <= 0 {
		c.AI.Temperature = 0.7
	}
	if c.AI.ConcurrentLimit <= 0 {
		c.AI.ConcurrentLimit = 16
	}
	if c.Retry.InitialDelay <= 0 {
		c.Retry.InitialDelay = time.Second
	}
	if c.Retry.Multiplier <= 0 {
		c.Retry.Multiplier = 2
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = 10 * time.Second
	}
	if c.Retry.MaxRetries <= 0 {
		c.Retry.MaxRetries = 3
	}
}
