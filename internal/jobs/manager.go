package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/jackzampolin/novella/internal/analysis"
	"github.com/jackzampolin/novella/internal/document"
	"github.com/jackzampolin/novella/internal/progress"
)

var (
	// ErrNotFound is returned for unknown job ids.
	ErrNotFound = errors.New("job not found")
	// ErrJobRunning is returned when starting a job that is already active.
	ErrJobRunning = errors.New("job already running")
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Analyzer    Analyzer
	Credentials CredentialFunc
	Store       progress.Store
	Reports     ReportWriter
	Clock       Clock
	Settings    Settings
	Logger      *slog.Logger
}

// Manager owns the live jobs of a process.
type Manager struct {
	mu     sync.RWMutex
	cfg    ManagerConfig
	jobs   map[string]*Job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewManager creates a Manager. Jobs run until ctx ends or Shutdown.
func NewManager(ctx context.Context, cfg ManagerConfig) (*Manager, error) {
	if cfg.Analyzer == nil {
		return nil, errors.New("analyzer is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Store == nil {
		cfg.Store = progress.NewMemoryStore(cfg.Logger)
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Manager{
		cfg:    cfg,
		jobs:   make(map[string]*Job),
		ctx:    ctx,
		cancel: cancel,
		logger: cfg.Logger,
	}, nil
}

// SetSettings changes the settings used by jobs started from now on.
func (m *Manager) SetSettings(s Settings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Settings = s
}

// SetAnalyzer changes the analyzer used by jobs started from now on.
func (m *Manager) SetAnalyzer(a Analyzer) {
	if a == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Analyzer = a
}

// Store returns the progress store.
func (m *Manager) Store() progress.Store {
	return m.cfg.Store
}

// StartRequest describes a document to analyze.
type StartRequest struct {
	Document *document.Document
	Path     string // where the document can be reopened, if anywhere
	Mode     analysis.Mode
	Fresh    bool // ignore saved progress
}

// Start begins analyzing a document. When saved progress exists for the
// same file and mode, the job is restored paused and waits for Resume.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*Job, error) {
	if req.Document == nil {
		return nil, errors.New("no document")
	}
	if !req.Mode.Valid() {
		return nil, fmt.Errorf("unknown mode %q", req.Mode)
	}
	id := req.Document.Fingerprint(string(req.Mode))

	job, runCtx, err := m.newJob(id)
	if err != nil {
		return nil, err
	}

	if req.Fresh {
		m.cfg.Store.Clear(ctx, id)
	} else if snap, ok := m.cfg.Store.Load(ctx, id); ok {
		job.restore(snap, req.Document, req.Path)
		m.run(runCtx, job)
		return job, nil
	}

	m.run(runCtx, job)
	if err := job.SelectMode(ctx, req.Mode); err != nil {
		return nil, err
	}
	if err := job.Submit(ctx, req.Document, req.Path); err != nil {
		return nil, err
	}
	return job, nil
}

// Restore reopens a saved job from its snapshot and recorded document path.
func (m *Manager) Restore(ctx context.Context, id string) (*Job, error) {
	snap, ok := m.cfg.Store.Load(ctx, id)
	if !ok {
		return nil, fmt.Errorf("%w: no saved progress for %s", ErrNotFound, id)
	}
	var doc *document.Document
	if snap.DocumentPath != "" {
		d, err := document.Open(snap.DocumentPath, snap.Encoding)
		if err != nil {
			return nil, fmt.Errorf("failed to reopen document: %w", err)
		}
		doc = d
	}
	job, runCtx, err := m.newJob(id)
	if err != nil {
		return nil, err
	}
	job.restore(snap, doc, snap.DocumentPath)
	m.run(runCtx, job)
	return job, nil
}

// newJob registers a job for id and the context its loop will run with.
// The job's stop func is set before the lock is released, so a concurrent
// newJob for the same id can always stop it.
func (m *Manager) newJob(id string) (*Job, context.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.jobs[id]; ok {
		select {
		case <-existing.Done():
		default:
			if s := existing.View().Status; s.Active() || s.Paused() {
				return nil, nil, fmt.Errorf("%w: %s", ErrJobRunning, id)
			}
			existing.stopLoop()
		}
	}

	job, err := New(Config{
		ID:          id,
		Analyzer:    m.cfg.Analyzer,
		Credentials: m.cfg.Credentials,
		Store:       m.cfg.Store,
		Reports:     m.cfg.Reports,
		Clock:       m.cfg.Clock,
		Settings:    m.cfg.Settings,
		Logger:      m.logger,
	})
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithCancel(m.ctx)
	job.stop = cancel
	m.jobs[id] = job
	return job, ctx, nil
}

func (m *Manager) run(ctx context.Context, job *Job) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer job.stopLoop()
		job.Run(ctx)
	}()
}

// Get returns a job by id.
func (m *Manager) Get(id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return job, nil
}

// List returns views of every known job ordered by id.
func (m *Manager) List() []View {
	m.mu.RLock()
	views := make([]View, 0, len(m.jobs))
	for _, job := range m.jobs {
		views = append(views, job.View())
	}
	m.mu.RUnlock()
	sort.Slice(views, func(a, b int) bool { return views[a].ID < views[b].ID })
	return views
}

// Pause pauses job id.
func (m *Manager) Pause(ctx context.Context, id string) error {
	return m.with(id, func(j *Job) error { return j.Pause(ctx) })
}

// Resume resumes job id.
func (m *Manager) Resume(ctx context.Context, id string) error {
	return m.with(id, func(j *Job) error { return j.Resume(ctx) })
}

// Cancel cancels job id.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	return m.with(id, func(j *Job) error { return j.Cancel(ctx) })
}

// ClearError clears the error of job id.
func (m *Manager) ClearError(ctx context.Context, id string, discard bool) error {
	return m.with(id, func(j *Job) error { return j.ClearError(ctx, discard) })
}

// OverrideCredential resumes rate-limited job id with another API key.
func (m *Manager) OverrideCredential(ctx context.Context, id, key string) error {
	return m.with(id, func(j *Job) error { return j.OverrideCredential(ctx, key) })
}

func (m *Manager) with(id string, fn func(*Job) error) error {
	job, err := m.Get(id)
	if err != nil {
		return err
	}
	return fn(job)
}

// Snapshots lists saved progress.
func (m *Manager) Snapshots(ctx context.Context) ([]*progress.Snapshot, error) {
	return m.cfg.Store.List(ctx)
}

// DiscardSnapshot deletes saved progress for id unless its job is active.
func (m *Manager) DiscardSnapshot(ctx context.Context, id string) error {
	if job, err := m.Get(id); err == nil {
		if s := job.View().Status; s.Active() {
			return fmt.Errorf("%w: %s", ErrJobRunning, id)
		}
	}
	m.cfg.Store.Clear(ctx, id)
	return nil
}

// Shutdown stops every job loop, saving resumable progress, and waits.
func (m *Manager) Shutdown() {
	m.cancel()
	m.wg.Wait()
}
