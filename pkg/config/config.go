// Package config supplies the external configuration collaborators: API
// credentials and per-project stage definitions.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/zen-systems/inkflow/pkg/provider"
)

// Config holds resolved credentials. The core receives opaque strings; key
// storage, encryption, and rotation live outside this process.
type Config struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GoogleAPIKey    string
	ConfigDir       string
}

// FileConfig represents the structure of ~/.inkflow/config.yaml
type FileConfig struct {
	APIKeys APIKeysConfig `yaml:"api_keys"`
}

// APIKeysConfig holds API key configuration from file.
type APIKeysConfig struct {
	Anthropic string `yaml:"anthropic"`
	OpenAI    string `yaml:"openai"`
	Google    string `yaml:"google"`
}

// Load reads configuration from a local .env file, the config file, and
// environment variables. Environment variables take precedence over file
// configuration.
func Load() (*Config, error) {
	_ = godotenv.Load() // best effort; absent .env is the normal case

	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("get config directory: %w", err)
	}

	fileConfig := loadFileConfig(filepath.Join(configDir, "config.yaml"))

	return &Config{
		AnthropicAPIKey: getEnvOrDefault("ANTHROPIC_API_KEY", fileConfig.APIKeys.Anthropic),
		OpenAIAPIKey:    getEnvOrDefault("OPENAI_API_KEY", fileConfig.APIKeys.OpenAI),
		GoogleAPIKey:    getEnvOrDefault("GOOGLE_API_KEY", fileConfig.APIKeys.Google),
		ConfigDir:       configDir,
	}, nil
}

// Credential returns the API key for a provider identifier, satisfying the
// coordinator's credential collaborator contract. The mock provider needs no
// key and the image variant shares the OpenAI credential.
func (c *Config) Credential(id provider.ID) (string, error) {
	switch id {
	case provider.OpenAI, provider.OpenAIImage:
		return c.OpenAIAPIKey, nil
	case provider.Anthropic:
		return c.AnthropicAPIKey, nil
	case provider.Google:
		return c.GoogleAPIKey, nil
	case provider.Mock:
		return "", nil
	}
	return "", fmt.Errorf("no credential source for provider %q", id)
}

// HasProvider returns true if the API key for the given provider is
// configured.
func (c *Config) HasProvider(id provider.ID) bool {
	key, err := c.Credential(id)
	if err != nil {
		return false
	}
	return key != "" || id == provider.Mock
}

// loadFileConfig reads the config file, returning empty config if not found.
func loadFileConfig(path string) *FileConfig {
	cfg := &FileConfig{}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg // Return empty config if file doesn't exist
	}

	_ = yaml.Unmarshal(data, cfg) // Ignore parse errors, use defaults
	return cfg
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
	configDir := filepath.Join(home, ".inkflow")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}
	return configDir, nil
}
