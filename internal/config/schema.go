package config

import (
	"time"
)

// Config holds novella configuration.
// Stored at: {home}/config.yaml
type Config struct {
	Providers map[string]ProviderCfg `mapstructure:"providers" yaml:"providers" validate:"dive"`
	Defaults  DefaultsCfg            `mapstructure:"defaults" yaml:"defaults"`
	Analysis  AnalysisCfg            `mapstructure:"analysis" yaml:"analysis"`
	Server    ServerCfg              `mapstructure:"server" yaml:"server"`
	Logging   LoggingCfg             `mapstructure:"logging" yaml:"logging"`
}

// ProviderCfg configures an LLM provider.
type ProviderCfg struct {
	Type      string  `mapstructure:"type" yaml:"type" validate:"required,oneof=gemini openai openrouter mock"`
	Model     string  `mapstructure:"model" yaml:"model"`
	APIKey    string  `mapstructure:"api_key" yaml:"api_key"`         // supports ${ENV_VAR} syntax
	BaseURL   string  `mapstructure:"base_url" yaml:"base_url"`       // optional endpoint override
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per minute, 0 = unlimited
	Enabled   bool    `mapstructure:"enabled" yaml:"enabled"`
}

// DefaultsCfg specifies default provider selections.
type DefaultsCfg struct {
	Provider string `mapstructure:"provider" yaml:"provider" validate:"required"`
}

// AnalysisCfg tunes chunking, scheduling and retry behavior.
type AnalysisCfg struct {
	ChunkSizeBytes       int         `mapstructure:"chunk_size_bytes" yaml:"chunk_size_bytes" validate:"min=1024"`
	MaxChunksOpening     int         `mapstructure:"max_chunks_opening" yaml:"max_chunks_opening" validate:"min=1"`
	FullConcurrency      int         `mapstructure:"full_concurrency" yaml:"full_concurrency" validate:"min=1,max=16"`
	OpeningDelayMs       int         `mapstructure:"opening_delay_ms" yaml:"opening_delay_ms" validate:"min=0"`
	FullDelayMs          int         `mapstructure:"full_delay_ms" yaml:"full_delay_ms" validate:"min=0"`
	HistoryChunks        int         `mapstructure:"history_chunks" yaml:"history_chunks" validate:"min=0"`
	FullHistory          bool        `mapstructure:"full_history" yaml:"full_history"`
	ConversationTurns    int         `mapstructure:"conversation_turns" yaml:"conversation_turns" validate:"min=0"`
	RateLimitCooldownSec int         `mapstructure:"rate_limit_cooldown_sec" yaml:"rate_limit_cooldown_sec" validate:"min=0"`
	Temperature          float64     `mapstructure:"temperature" yaml:"temperature" validate:"min=0,max=2"`
	Retry                RetryCfg    `mapstructure:"retry" yaml:"retry"`
}

// RetryCfg configures the rate-limit retry controller.
type RetryCfg struct {
	MaxRetries     int     `mapstructure:"max_retries" yaml:"max_retries" validate:"min=0"`
	InitialDelayMs int     `mapstructure:"initial_delay_ms" yaml:"initial_delay_ms" validate:"min=0"`
	Multiplier     float64 `mapstructure:"multiplier" yaml:"multiplier" validate:"min=1"`
	MaxJitterMs    int     `mapstructure:"max_jitter_ms" yaml:"max_jitter_ms" validate:"min=0"`
}

// ServerCfg configures the HTTP API server.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host" validate:"required"`
	Port string `mapstructure:"port" yaml:"port" validate:"required,numeric"`
}

// LoggingCfg configures log output.
type LoggingCfg struct {
	Level string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	File  bool   `mapstructure:"file" yaml:"file"` // also write JSON logs under {home}/logs
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Providers: map[string]ProviderCfg{
			"gemini": {
				Type:    "gemini",
				Model:   "gemini-2.5-flash",
				APIKey:  "${GEMINI_API_KEY}",
				Enabled: true,
			},
			"openrouter": {
				Type:    "openrouter",
				Model:   "google/gemini-2.5-flash",
				APIKey:  "${OPENROUTER_API_KEY}",
				Enabled: false,
			},
		},
		Defaults: DefaultsCfg{
			Provider: "gemini",
		},
		Analysis: AnalysisCfg{
			ChunkSizeBytes:       100 * 1024,
			MaxChunksOpening:     15,
			FullConcurrency:      2,
			OpeningDelayMs:       3000,
			FullDelayMs:          5000,
			HistoryChunks:        5,
			ConversationTurns:    3,
			RateLimitCooldownSec: 60,
			Temperature:          0.7,
			Retry: RetryCfg{
				MaxRetries:     3,
				InitialDelayMs: 2000,
				Multiplier:     2,
				MaxJitterMs:    1000,
			},
		},
		Server: ServerCfg{
			Host: "127.0.0.1",
			Port: "8080",
		},
		Logging: LoggingCfg{
			Level: "info",
			File:  true,
		},
	}
}

// GetProvider returns a provider config by name.
func (c *Config) GetProvider(name string) (ProviderCfg, bool) {
	cfg, ok := c.Providers[name]
	return cfg, ok
}

// EnabledProviders returns all enabled providers.
func (c *Config) EnabledProviders() map[string]ProviderCfg {
	result := make(map[string]ProviderCfg)
	for name, cfg := range c.Providers {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}

// OpeningDelay is the minimum spacing between submissions in opening mode.
func (a AnalysisCfg) OpeningDelay() time.Duration {
	return time.Duration(a.OpeningDelayMs) * time.Millisecond
}

// FullDelay is the minimum spacing between submissions in full mode.
func (a AnalysisCfg) FullDelay() time.Duration {
	return time.Duration(a.FullDelayMs) * time.Millisecond
}

// RateLimitCooldown is how long a rate-limited job waits before resuming on its own.
func (a AnalysisCfg) RateLimitCooldown() time.Duration {
	return time.Duration(a.RateLimitCooldownSec) * time.Second
}

// InitialDelay is the wait before the first rate-limit retry.
func (r RetryCfg) InitialDelay() time.Duration {
	return time.Duration(r.InitialDelayMs) * time.Millisecond
}

// MaxJitter is the upper bound of random jitter added to each retry wait.
func (r RetryCfg) MaxJitter() time.Duration {
	return time.Duration(r.MaxJitterMs) * time.Millisecond
}
