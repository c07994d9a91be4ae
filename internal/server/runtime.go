package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackzampolin/novella/internal/analysis"
	"github.com/jackzampolin/novella/internal/config"
	"github.com/jackzampolin/novella/internal/home"
	"github.com/jackzampolin/novella/internal/jobs"
	"github.com/jackzampolin/novella/internal/llmcall"
	"github.com/jackzampolin/novella/internal/progress"
	"github.com/jackzampolin/novella/internal/prompts"
	"github.com/jackzampolin/novella/internal/providers"
	"github.com/jackzampolin/novella/internal/svcctx"
)

// RuntimeConfig configures OpenRuntime.
type RuntimeConfig struct {
	Home          *home.Dir
	ConfigManager *config.Manager // nil uses the built-in defaults
	Logger        *slog.Logger
	// LLM replaces the configured default provider. Credential overrides
	// still build clients from the configured provider.
	LLM   providers.LLMClient
	Clock jobs.Clock
}

// Runtime owns the stores, provider clients and job manager of a process.
// The HTTP server and the in-process analyze command both run on one.
type Runtime struct {
	Services *svcctx.Services

	home      *home.Dir
	configMgr *config.Manager
	logger    *slog.Logger
	registry  *providers.Registry
	progress  progress.Store
	calls     *llmcall.Store
	recorder  *llmcall.Recorder
	prompts   *prompts.Resolver
	llm       providers.LLMClient

	mu       sync.RWMutex
	analyzer *analysis.Client
	provider string

	closeOnce sync.Once
}

// OpenRuntime opens the home directory stores and starts a job manager.
// Jobs stop when ctx ends or the runtime is closed.
func OpenRuntime(ctx context.Context, cfg RuntimeConfig) (_ *Runtime, err error) {
	if cfg.Home == nil {
		return nil, errors.New("home directory is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := cfg.Home.EnsureExists(); err != nil {
		return nil, err
	}
	conf := config.DefaultConfig()
	if cfg.ConfigManager != nil {
		conf = cfg.ConfigManager.Get()
	}

	rt := &Runtime{
		home:      cfg.Home,
		configMgr: cfg.ConfigManager,
		logger:    cfg.Logger,
		llm:       cfg.LLM,
		registry:  providers.NewRegistry(),
	}
	defer func() {
		if err != nil {
			rt.closeStores()
		}
	}()
	rt.registry.SetLogger(cfg.Logger)
	rt.registry.Reload(conf.ToProviderRegistryConfig())

	if rt.progress, err = progress.OpenBadger(cfg.Home.ProgressPath(), cfg.Logger); err != nil {
		return nil, fmt.Errorf("failed to open progress store: %w", err)
	}
	if rt.calls, err = llmcall.Open(ctx, cfg.Home.CallsDBPath()); err != nil {
		return nil, fmt.Errorf("failed to open call log: %w", err)
	}
	rt.recorder = llmcall.NewRecorder(rt.calls, llmcall.RecorderConfig{Logger: cfg.Logger})
	rt.prompts = analysis.NewPromptResolver(cfg.Home.PromptsDir(), cfg.Logger)

	analyzer, provider, err := rt.buildAnalyzer(conf)
	if err != nil {
		return nil, err
	}
	rt.analyzer, rt.provider = analyzer, provider

	jm, err := jobs.NewManager(ctx, jobs.ManagerConfig{
		Analyzer:    analyzer,
		Credentials: rt.credential,
		Store:       rt.progress,
		Reports:     cfg.Home,
		Clock:       cfg.Clock,
		Settings:    jobs.SettingsFrom(conf.Analysis),
		Logger:      cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create job manager: %w", err)
	}

	rt.Services = &svcctx.Services{
		JobManager:    jm,
		Registry:      rt.registry,
		ProgressStore: rt.progress,
		LLMCallStore:  rt.calls,
		Prompts:       rt.prompts,
		Logger:        cfg.Logger,
		Home:          cfg.Home,
	}

	if cfg.ConfigManager != nil {
		cfg.ConfigManager.OnChange(rt.reload)
	}
	return rt, nil
}

// buildAnalyzer binds an analysis client to the default provider.
func (rt *Runtime) buildAnalyzer(conf *config.Config) (*analysis.Client, string, error) {
	provider := conf.Defaults.Provider
	llm := rt.llm
	if llm == nil {
		var err error
		if llm, err = rt.registry.GetLLM(provider); err != nil {
			return nil, "", fmt.Errorf("default provider %q is unavailable (check that it is enabled and has an api_key): %w", provider, err)
		}
	}
	a := conf.Analysis
	client, err := analysis.New(analysis.Config{
		LLM:      llm,
		Prompts:  rt.prompts,
		Recorder: rt.recorder,
		Retry: analysis.RetryPolicy{
			MaxRetries:   a.Retry.MaxRetries,
			InitialDelay: a.Retry.InitialDelay(),
			Multiplier:   a.Retry.Multiplier,
			MaxJitter:    a.Retry.MaxJitter(),
		},
		Temperature:       a.Temperature,
		ConversationTurns: a.ConversationTurns,
		Logger:            rt.logger,
	})
	if err != nil {
		return nil, "", err
	}
	return client, provider, nil
}

// reload applies a changed configuration to jobs started afterwards.
func (rt *Runtime) reload(conf *config.Config) {
	rt.registry.Reload(conf.ToProviderRegistryConfig())
	analyzer, provider, err := rt.buildAnalyzer(conf)
	if err != nil {
		rt.logger.Warn("keeping previous analyzer after config change", "error", err)
	} else {
		rt.mu.Lock()
		rt.analyzer, rt.provider = analyzer, provider
		rt.mu.Unlock()
		rt.Services.JobManager.SetAnalyzer(analyzer)
	}
	rt.Services.JobManager.SetSettings(jobs.SettingsFrom(conf.Analysis))
	rt.logger.Info("configuration reloaded", "provider", conf.Defaults.Provider)
}

// credential probes key against the default provider and returns an
// analyzer that uses it.
func (rt *Runtime) credential(ctx context.Context, key string) (jobs.Analyzer, error) {
	rt.mu.RLock()
	base, provider := rt.analyzer, rt.provider
	rt.mu.RUnlock()

	llm, err := rt.registry.WithAPIKey(provider, key)
	if err != nil {
		return nil, err
	}
	client := base.WithLLM(llm)
	if err := client.Probe(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// JobManager returns the job manager.
func (rt *Runtime) JobManager() *jobs.Manager {
	return rt.Services.JobManager
}

// Close stops every job and closes the stores. Progress of paused jobs is
// already persisted.
func (rt *Runtime) Close() error {
	rt.closeOnce.Do(func() {
		if rt.Services != nil && rt.Services.JobManager != nil {
			rt.Services.JobManager.Shutdown()
		}
		rt.closeStores()
	})
	return nil
}

func (rt *Runtime) closeStores() {
	if rt.recorder != nil {
		rt.recorder.Close()
	}
	if rt.calls != nil {
		if err := rt.calls.Close(); err != nil {
			rt.logger.Error("call log close error", "error", err)
		}
	}
	if rt.progress != nil {
		if err := rt.progress.Close(); err != nil {
			rt.logger.Error("progress store close error", "error", err)
		}
	}
}
