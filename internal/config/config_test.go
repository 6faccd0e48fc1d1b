package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, "{}\n")
	cfg, err := LoadConfig(path, false)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("log defaults = %+v", cfg.Log)
	}
	if cfg.Admin.Port != 8090 {
		t.Errorf("admin port = %d", cfg.Admin.Port)
	}
	if cfg.AI.DefaultProvider != "anthropic" {
		t.Errorf("default provider = %q", cfg.AI.DefaultProvider)
	}
	if cfg.AI.MaxOutputTokens != 1024 || cfg.AI.Temperature != 0.7 || cfg.AI.ConcurrentLimit != 16 {
		t.Errorf("ai defaults = %+v", cfg.AI)
	}
	if cfg.Retry.InitialDelay != time.Second || cfg.Retry.Multiplier != 2 ||
		cfg.Retry.MaxDelay != 10*time.Second || cfg.Retry.MaxRetries != 3 {
		t.Errorf("retry defaults = %+v", cfg.Retry)
	}
	if cfg.Runtime.Dev {
		t.Error("dev flag should be false")
	}
}

func TestLoadConfigValues(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: console
admin:
  port: 9999
ai:
  default_provider: openai
  openai:
    api_key: file-key
    default_model: gpt-4o
  temperature: 0.3
retry:
  initial_delay: 500ms
  multiplier: 3
  max_delay: 20s
  max_retries: 5
`)
	cfg, err := LoadConfig(path, true)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "console" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if cfg.AI.DefaultProvider != "openai" || cfg.AI.OpenAI.APIKey != "file-key" || cfg.AI.OpenAI.DefaultModel != "gpt-4o" {
		t.Errorf("ai = %+v", cfg.AI)
	}
	if cfg.AI.Temperature != 0.3 {
		t.Errorf("temperature = %v", cfg.AI.Temperature)
	}
	if cfg.Retry.InitialDelay != 500*time.Millisecond || cfg.Retry.MaxRetries != 5 {
		t.Errorf("retry = %+v", cfg.Retry)
	}
	if !cfg.Runtime.Dev {
		t.Error("dev flag should carry through")
	}
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
ai:
  anthropic:
    api_key: from-file
`)
	t.Setenv(EnvAnthropicKey, "from-env")
	t.Setenv(EnvOpenAIKey, "openai-env")
	t.Setenv(EnvGeminiKey, "")

	cfg, err := LoadConfig(path, false)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.AI.Anthropic.APIKey != "from-env" {
		t.Errorf("anthropic key = %q, env must win", cfg.AI.Anthropic.APIKey)
	}
	if cfg.AI.OpenAI.APIKey != "openai-env" {
		t.Errorf("openai key = %q", cfg.AI.OpenAI.APIKey)
	}
	if cfg.AI.Gemini.APIKey != "" {
		t.Errorf("gemini key = %q, empty env must not overwrite", cfg.AI.Gemini.APIKey)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), false); err == nil {
		t.Fatal("missing file should fail")
	}
}

func TestLoadConfigMalformedYAML(t *testing.T) {
	path := writeConfig(t, "log: [not a map\n")
	if _, err := LoadConfig(path, false); err == nil {
		t.Fatal("malformed YAML should fail")
	}
}
