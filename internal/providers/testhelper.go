package providers

import (
	"os"
)

// TestConfig holds provider credentials loaded from environment variables
// so live tests use the same configuration path as production.
type TestConfig struct {
	GeminiAPIKey     string
	OpenAIAPIKey     string
	OpenRouterAPIKey string
}

// LoadTestConfig loads provider API keys from environment variables.
func LoadTestConfig() TestConfig {
	return TestConfig{
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenRouterAPIKey: os.Getenv("OPENROUTER_API_KEY"),
	}
}

// HasAnyLLM returns true if any provider key is configured.
func (c TestConfig) HasAnyLLM() bool {
	return c.GeminiAPIKey != "" || c.OpenAIAPIKey != "" || c.OpenRouterAPIKey != ""
}

// ToRegistryConfig converts test config to a RegistryConfig, including only
// providers that have keys.
func (c TestConfig) ToRegistryConfig() RegistryConfig {
	cfg := RegistryConfig{Providers: make(map[string]ProviderConfig)}
	if c.GeminiAPIKey != "" {
		cfg.Providers[GeminiName] = ProviderConfig{Type: GeminiName, APIKey: c.GeminiAPIKey, RateLimit: 10, Enabled: true}
	}
	if c.OpenAIAPIKey != "" {
		cfg.Providers[OpenAIName] = ProviderConfig{Type: OpenAIName, APIKey: c.OpenAIAPIKey, RateLimit: 60, Enabled: true}
	}
	if c.OpenRouterAPIKey != "" {
		cfg.Providers[OpenRouterName] = ProviderConfig{Type: OpenRouterName, APIKey: c.OpenRouterAPIKey, RateLimit: 60, Enabled: true}
	}
	return cfg
}
