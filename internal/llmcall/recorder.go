package llmcall

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RecorderConfig tunes the background writer.
type RecorderConfig struct {
	BatchSize     int           // flush after this many calls (default 50)
	FlushInterval time.Duration // flush at least this often (default 1s)
	Buffer        int           // queued calls before Record starts dropping (default 1000)
	Logger        *slog.Logger
}

// Recorder handles fire-and-forget LLM call recording. Calls are queued and
// written in batches by a background goroutine.
type Recorder struct {
	store  *Store
	ch     chan Call
	cfg    RecorderConfig
	logger *slog.Logger

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewRecorder starts a recorder writing to store.
func NewRecorder(store *Store, cfg RecorderConfig) *Recorder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1000
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Recorder{
		store:  store,
		ch:     make(chan Call, cfg.Buffer),
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Record queues a call. It never blocks; when the queue is full the call is
// dropped and a warning logged.
func (r *Recorder) Record(call Call) {
	if r == nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.ch <- call:
	default:
		r.logger.Warn("llm call log queue full, dropping record", "prompt_key", call.PromptKey, "job_id", call.JobID)
	}
}

// Close flushes pending calls and stops the writer. Calls recorded after
// Close are dropped.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.ch)
		r.mu.Unlock()
		<-r.done
	})
}

func (r *Recorder) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Call, 0, r.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.store.Create(ctx, batch...); err != nil {
			r.logger.Warn("failed to write llm call batch", "count", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case call, ok := <-r.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, call)
			if len(batch) >= r.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
