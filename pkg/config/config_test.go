package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/zen-systems/inkflow/pkg/provider"
)

func TestConfigUsesEnvAPIKeys(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)

	t.Setenv("ANTHROPIC_API_KEY", "env-ant")
	t.Setenv("OPENAI_API_KEY", "env-openai")
	t.Setenv("GOOGLE_API_KEY", "env-google")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AnthropicAPIKey != "env-ant" || cfg.OpenAIAPIKey != "env-openai" || cfg.GoogleAPIKey != "env-google" {
		t.Fatalf("expected env API keys to be used")
	}
}

func TestConfigEnvOverridesFile(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)

	configDir := filepath.Join(home, ".inkflow")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	data := []byte("api_keys:\n  anthropic: file-ant\n  openai: file-openai\n  google: file-google\n")
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), data, 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("ANTHROPIC_API_KEY", "env-ant")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AnthropicAPIKey != "env-ant" {
		t.Fatalf("expected env key to win, got %q", cfg.AnthropicAPIKey)
	}
	if cfg.OpenAIAPIKey != "file-openai" || cfg.GoogleAPIKey != "file-google" {
		t.Fatalf("expected file keys as fallback, got %q/%q", cfg.OpenAIAPIKey, cfg.GoogleAPIKey)
	}
}

func TestCredentialMapping(t *testing.T) {
	cfg := &Config{
		AnthropicAPIKey: "ant",
		OpenAIAPIKey:    "oai",
		GoogleAPIKey:    "goo",
	}

	tests := []struct {
		id   provider.ID
		want string
	}{
		{provider.OpenAI, "oai"},
		{provider.OpenAIImage, "oai"},
		{provider.Anthropic, "ant"},
		{provider.Google, "goo"},
		{provider.Mock, ""},
	}
	for _, tt := range tests {
		got, err := cfg.Credential(tt.id)
		if err != nil {
			t.Fatalf("credential %s: %v", tt.id, err)
		}
		if got != tt.want {
			t.Fatalf("credential %s: expected %q, got %q", tt.id, tt.want, got)
		}
	}

	if _, err := cfg.Credential(provider.ID("unknown_vendor")); err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if !cfg.HasProvider(provider.Mock) {
		t.Fatal("mock provider should always be available")
	}
}

func setHomeEnv(t *testing.T, home string) {
	t.Helper()
	t.Setenv("HOME", home)
	if runtime.GOOS == "windows" {
		t.Setenv("USERPROFILE", home)
	}
}
