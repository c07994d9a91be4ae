// Package jobs runs document analysis jobs: the status state machine, the
// tick-driven chunk scheduler, report finalization and resumable progress.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackzampolin/novella/internal/analysis"
	"github.com/jackzampolin/novella/internal/document"
	"github.com/jackzampolin/novella/internal/knowledge"
	"github.com/jackzampolin/novella/internal/progress"
)

var (
	// ErrJobClosed is returned by controls sent after the run loop exited.
	ErrJobClosed = errors.New("job is no longer running")
	// ErrNoCredentials is returned when no credential override is configured.
	ErrNoCredentials = errors.New("credential override is not configured")
)

// Analyzer analyzes chunks and writes reports. *analysis.Client implements it.
type Analyzer interface {
	AnalyzeChunk(ctx context.Context, req analysis.Request) (*analysis.Result, error)
	Synthesize(ctx context.Context, req analysis.SynthesisRequest) (string, error)
	StartConversation(mode analysis.Mode) analysis.ConversationID
	EndConversation(id analysis.ConversationID)
}

// CredentialFunc verifies key and returns an Analyzer that uses it.
type CredentialFunc func(ctx context.Context, key string) (Analyzer, error)

// ReportWriter stores finished reports. *home.Dir implements it.
type ReportWriter interface {
	WriteReport(jobID, reportType, text string) (string, error)
}

// Config configures a Job.
type Config struct {
	ID          string
	Analyzer    Analyzer
	Credentials CredentialFunc // optional
	Store       progress.Store // defaults to an in-memory store
	Reports     ReportWriter   // optional
	Clock       Clock          // defaults to RealClock
	Settings    Settings
	Logger      *slog.Logger
}

type command struct {
	fn    func() error
	reply chan error
}

type chunkOutcome struct {
	order    int
	dispatch int
	result   *analysis.Result
	err      error
	elapsed  time.Duration
}

type finalOutcome struct {
	reports map[analysis.ReportType]string
	err     error
}

// Job is one document analysis. All state is owned by the goroutine in Run;
// other goroutines use the control methods and View.
type Job struct {
	id       string
	cfg      Config
	store    progress.Store
	clock    Clock
	logger   *slog.Logger
	analyzer Analyzer

	ctx             context.Context
	status          Status
	mode            analysis.Mode
	doc             *document.Document
	docPath         string
	chunkSize       int
	cursor          int
	lastCompleted   int
	totalDiscovered int
	totalToProcess  int
	chunkingDone    bool
	chunkingPercent float64
	chunks          []*Chunk
	entities        knowledge.Map
	reports         map[analysis.ReportType]string
	reportPaths     map[analysis.ReportType]string
	errMsg          string
	conversation    analysis.ConversationID
	inFlight        map[int]context.CancelFunc
	lastDispatch    time.Time
	cooldownUntil   time.Time
	estimator       Estimator
	events          <-chan document.Event
	stopChunker     context.CancelFunc
	stopFinal       context.CancelFunc

	outcomes chan chunkOutcome
	finals   chan finalOutcome
	commands chan command
	done     chan struct{}
	stop     context.CancelFunc // cancels the context Run was started with

	viewMu sync.RWMutex
	view   View
}

// New creates an idle job. Call Run to start its loop.
func New(cfg Config) (*Job, error) {
	if cfg.ID == "" {
		return nil, errors.New("job id is required")
	}
	if cfg.Analyzer == nil {
		return nil, errors.New("analyzer is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store := cfg.Store
	if store == nil {
		store = progress.NewMemoryStore(logger)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = RealClock{}
	}

	j := &Job{
		id:            cfg.ID,
		cfg:           cfg,
		store:         store,
		clock:         clock,
		logger:        logger.With("job_id", cfg.ID),
		analyzer:      cfg.Analyzer,
		ctx:           context.Background(),
		status:        StatusIdle,
		lastCompleted: -1,
		inFlight:      make(map[int]context.CancelFunc),
		outcomes:      make(chan chunkOutcome, 64),
		finals:        make(chan finalOutcome, 1),
		commands:      make(chan command),
		done:          make(chan struct{}),
	}
	j.publish()
	return j, nil
}

// ID returns the job id.
func (j *Job) ID() string {
	return j.id
}

// Done is closed when the run loop exits.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Run drives the job until it completes, is cancelled, or ctx ends. When ctx
// ends first, in-flight work is aborted and progress is saved for resume.
func (j *Job) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer close(j.done)
	j.ctx = ctx

	tickMode := j.mode
	ticker := j.clock.NewTicker(j.cfg.Settings.Tick(tickMode))
	defer func() { ticker.Stop() }()

	for {
		select {
		case <-ctx.Done():
			j.shutdown()
			j.publish()
			return
		case now := <-ticker.C():
			j.advance(now)
		case ev, ok := <-j.events:
			if !ok {
				j.events = nil
				continue
			}
			j.handleEvent(ev)
		case o := <-j.outcomes:
			j.applyOutcome(o)
		case f := <-j.finals:
			j.applyFinal(f)
		case cmd := <-j.commands:
			cmd.reply <- cmd.fn()
		}

		if j.mode != tickMode {
			tickMode = j.mode
			ticker.Stop()
			ticker = j.clock.NewTicker(j.cfg.Settings.Tick(tickMode))
		}
		j.publish()
		if j.status.Terminal() {
			return
		}
	}
}

// do runs fn on the loop goroutine and returns its result.
func (j *Job) do(ctx context.Context, fn func() error) error {
	cmd := command{fn: fn, reply: make(chan error, 1)}
	select {
	case j.commands <- cmd:
	case <-j.done:
		return ErrJobClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-j.done:
		select {
		case err := <-cmd.reply:
			return err
		default:
			return ErrJobClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SelectMode chooses how the document will be analyzed.
func (j *Job) SelectMode(ctx context.Context, mode analysis.Mode) error {
	return j.do(ctx, func() error { return j.selectMode(mode) })
}

// Submit starts chunking doc. path is remembered so a saved job can be
// reopened later; it may be empty.
func (j *Job) Submit(ctx context.Context, doc *document.Document, path string) error {
	return j.do(ctx, func() error { return j.submit(doc, path) })
}

// Pause stops dispatching and aborts chunks in flight.
func (j *Job) Pause(ctx context.Context) error {
	return j.do(ctx, j.pause)
}

// Resume continues a paused job from the chunk after the last completed one.
func (j *Job) Resume(ctx context.Context) error {
	return j.do(ctx, j.resume)
}

// Cancel aborts all work and forgets saved progress.
func (j *Job) Cancel(ctx context.Context) error {
	return j.do(ctx, j.cancel)
}

// ClearError returns a failed job to idle. Saved progress is kept unless
// discard is set. It does nothing while the job waits out a rate limit.
func (j *Job) ClearError(ctx context.Context, discard bool) error {
	return j.do(ctx, func() error { return j.clearError(discard) })
}

// OverrideCredential verifies key and, if it works, resumes a rate-limited
// job with it.
func (j *Job) OverrideCredential(ctx context.Context, key string) error {
	if j.cfg.Credentials == nil {
		return ErrNoCredentials
	}
	if s := j.View().Status; s != StatusPausedRateLimited {
		return transitionError(s, StatusAnalyzing)
	}
	an, err := j.cfg.Credentials(ctx, key)
	if err != nil {
		return fmt.Errorf("credential rejected: %w", err)
	}
	return j.do(ctx, func() error { return j.useAnalyzer(an) })
}

func (j *Job) transition(to Status) error {
	if !j.status.CanTransition(to) {
		return transitionError(j.status, to)
	}
	j.logger.Debug("job status", "from", j.status, "to", to)
	j.status = to
	return nil
}

func (j *Job) selectMode(mode analysis.Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("unknown mode %q", mode)
	}
	if err := j.transition(StatusModeSelected); err != nil {
		return err
	}
	j.mode = mode
	return nil
}

func (j *Job) submit(doc *document.Document, path string) error {
	if doc == nil {
		return errors.New("no document")
	}
	if err := j.transition(StatusPreparing); err != nil {
		return err
	}
	j.doc = doc
	j.docPath = path
	j.chunkSize = j.cfg.Settings.ChunkSize
	if j.chunkSize <= 0 {
		j.chunkSize = document.DefaultChunkSize
	}

	ctx, cancel := context.WithCancel(j.ctx)
	j.stopChunker = cancel
	chunker := &document.Chunker{ChunkSize: j.chunkSize, BatchSize: j.cfg.Settings.BatchSize, Logger: j.logger}
	j.events = chunker.Run(ctx, doc, j.cfg.Settings.Limit(j.mode))

	j.logger.Info("job submitted", "document", doc.Name, "mode", j.mode, "bytes", doc.Len())
	return nil
}

func (j *Job) pause() error {
	if err := j.transition(StatusPausedAwaitResume); err != nil {
		return err
	}
	j.abortInFlight(pausedSuffix)
	j.logger.Info("job paused", "last_completed", j.lastCompleted)
	j.persist()
	return nil
}

func (j *Job) resume() error {
	if !j.status.Paused() {
		return transitionError(j.status, StatusAnalyzing)
	}
	if err := j.transition(StatusAnalyzing); err != nil {
		return err
	}
	j.cursor = j.lastCompleted + 1
	j.errMsg = ""
	j.cooldownUntil = time.Time{}
	j.logger.Info("job resumed", "cursor", j.cursor)
	j.save()
	return nil
}

func (j *Job) useAnalyzer(an Analyzer) error {
	if j.status != StatusPausedRateLimited {
		return transitionError(j.status, StatusAnalyzing)
	}
	j.analyzer = an
	j.logger.Info("credential override accepted")
	return j.resume()
}

func (j *Job) cancel() error {
	if !j.status.Active() {
		return transitionError(j.status, StatusCancelled)
	}
	j.abortInFlight("")
	j.stopChunking()
	j.stopFinalizing()
	j.status = StatusCancelled
	j.endConversation()
	j.store.Clear(j.ctx, j.id)
	j.logger.Info("job cancelled")
	return nil
}

func (j *Job) clearError(discard bool) error {
	if j.status == StatusPausedRateLimited {
		return nil
	}
	if err := j.transition(StatusIdle); err != nil {
		return err
	}
	if discard {
		j.store.Clear(j.ctx, j.id)
	}
	j.endConversation()
	j.reset()
	return nil
}

// fail moves the job to error. Saved progress is left in place.
func (j *Job) fail(err error) {
	if !j.status.CanTransition(StatusError) {
		j.logger.Warn("ignoring failure in current status", "status", j.status, "error", err)
		return
	}
	j.abortInFlight("")
	j.stopChunking()
	j.stopFinalizing()
	j.status = StatusError
	j.errMsg = err.Error()
	j.logger.Error("job failed", "error", err)
}

// shutdown stops work when the loop's context ends.
func (j *Job) shutdown() {
	j.stopChunking()
	j.stopFinalizing()
	j.abortInFlight("")
	if j.status == StatusAnalyzing {
		j.save()
	}
}

func (j *Job) reset() {
	j.mode = ""
	j.doc = nil
	j.docPath = ""
	j.cursor = 0
	j.lastCompleted = -1
	j.totalDiscovered = 0
	j.totalToProcess = 0
	j.chunkingDone = false
	j.chunkingPercent = 0
	j.chunks = nil
	j.entities = nil
	j.reports = nil
	j.reportPaths = nil
	j.errMsg = ""
	j.lastDispatch = time.Time{}
	j.cooldownUntil = time.Time{}
	j.estimator.Reset()
}

func (j *Job) stopChunking() {
	if j.stopChunker != nil {
		j.stopChunker()
		j.stopChunker = nil
	}
	j.events = nil
}

func (j *Job) stopFinalizing() {
	if j.stopFinal != nil {
		j.stopFinal()
		j.stopFinal = nil
	}
}

func (j *Job) stopLoop() {
	if j.stop != nil {
		j.stop()
	}
}

func (j *Job) endConversation() {
	if j.conversation != "" {
		j.analyzer.EndConversation(j.conversation)
		j.conversation = ""
	}
}
