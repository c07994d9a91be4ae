package jobs

import (
	"time"

	"github.com/jackzampolin/novella/internal/analysis"
	"github.com/jackzampolin/novella/internal/config"
	"github.com/jackzampolin/novella/internal/document"
)

// Settings are the scheduling values a job is created with.
type Settings struct {
	ChunkSize         int
	BatchSize         int
	MaxChunksOpening  int
	FullConcurrency   int
	OpeningDelay      time.Duration
	FullDelay         time.Duration
	HistoryChunks     int
	FullHistory       bool
	RateLimitCooldown time.Duration // 0 waits for a manual resume
	TickInterval      time.Duration // 0 derives it from the submit delay
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return SettingsFrom(config.DefaultConfig().Analysis)
}

// SettingsFrom converts the analysis section of the configuration.
func SettingsFrom(a config.AnalysisCfg) Settings {
	return Settings{
		ChunkSize:         a.ChunkSizeBytes,
		BatchSize:         document.DefaultBatchSize,
		MaxChunksOpening:  a.MaxChunksOpening,
		FullConcurrency:   a.FullConcurrency,
		OpeningDelay:      a.OpeningDelay(),
		FullDelay:         a.FullDelay(),
		HistoryChunks:     a.HistoryChunks,
		FullHistory:       a.FullHistory,
		RateLimitCooldown: a.RateLimitCooldown(),
	}
}

// Ceiling is the number of chunks analyzed at once in mode.
func (s Settings) Ceiling(mode analysis.Mode) int {
	if mode == analysis.ModeOpening || s.FullConcurrency < 1 {
		return 1
	}
	return s.FullConcurrency
}

// SubmitDelay is the minimum spacing between two dispatches in mode.
func (s Settings) SubmitDelay(mode analysis.Mode) time.Duration {
	if mode == analysis.ModeOpening {
		return s.OpeningDelay
	}
	return s.FullDelay
}

// Tick is the scheduler period in mode.
func (s Settings) Tick(mode analysis.Mode) time.Duration {
	if s.TickInterval > 0 {
		return s.TickInterval
	}
	return max(s.SubmitDelay(mode)/2, 10*time.Millisecond)
}

// Limit caps how many chunks mode analyzes; 0 means all.
func (s Settings) Limit(mode analysis.Mode) int {
	if mode == analysis.ModeOpening {
		return s.MaxChunksOpening
	}
	return 0
}
