package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackzampolin/novella/internal/analysis"
	"github.com/jackzampolin/novella/internal/document"
	"github.com/jackzampolin/novella/internal/knowledge"
)

// knownEntitiesLimit bounds the entity names repeated in each chunk prompt.
const knownEntitiesLimit = 40

// advance is called on every tick. It dispatches queued chunks while slots
// and the submit delay allow, and starts finalization once every chunk is
// done. It never fails and is a no-op when nothing is eligible.
func (j *Job) advance(now time.Time) {
	switch j.status {
	case StatusPausedRateLimited:
		if !j.cooldownUntil.IsZero() && !now.Before(j.cooldownUntil) {
			j.logger.Info("rate limit cool-down elapsed")
			_ = j.resume()
		}
		return
	case StatusAnalyzing:
	default:
		return
	}

	ceiling := j.cfg.Settings.Ceiling(j.mode)
	delay := j.cfg.Settings.SubmitDelay(j.mode)
	total := j.total()

	for j.cursor < total {
		c := j.chunkAt(j.cursor)
		if c == nil {
			// not delivered by the chunker yet
			break
		}
		if c.Status == ChunkQueued {
			if len(j.inFlight) >= ceiling {
				break
			}
			if delay > 0 && !j.lastDispatch.IsZero() && now.Sub(j.lastDispatch) < delay {
				break
			}
			j.dispatch(c, now)
		}
		j.cursor++
	}

	if total > 0 && j.cursor >= total && len(j.inFlight) == 0 && j.chunkingDone {
		j.startFinalize()
	}
}

// dispatch starts the analysis of c in its own goroutine.
func (j *Job) dispatch(c *Chunk, now time.Time) {
	c.Status = ChunkReading
	c.Error = ""
	c.dispatch++
	j.lastDispatch = now

	text := c.Text
	if text == "" {
		var err error
		text, err = document.Rehydrate(j.doc, c.Order, j.chunkSize)
		if err != nil {
			j.logger.Warn("failed to read chunk", "order", c.Order, "error", err)
			c.Status = ChunkErrored
			c.Error = fmt.Sprintf("read failed: %v", err)
			j.chunkFinished()
			return
		}
	}

	if j.mode == analysis.ModeOpening && j.conversation == "" {
		j.conversation = j.analyzer.StartConversation(j.mode)
	}

	req := analysis.Request{
		JobID:         j.id,
		DocumentName:  j.documentName(),
		Mode:          j.mode,
		Order:         c.Order,
		Total:         j.total(),
		Text:          text,
		KnownEntities: j.entities.Names(knownEntitiesLimit),
	}
	if prev := j.chunkAt(c.Order - 1); prev != nil && prev.Status == ChunkAnalyzed {
		req.PreviousSummary = prev.Summary
	}
	if j.mode == analysis.ModeOpening || j.cfg.Settings.FullHistory {
		req.HistoricalContext = knowledge.HistoricalContext(j.summaries(), c.Order, j.cfg.Settings.HistoryChunks)
	}
	if j.mode == analysis.ModeOpening {
		req.Conversation = j.conversation
	}

	c.Status = ChunkAnalyzing
	ctx, cancel := context.WithCancel(j.ctx)
	j.inFlight[c.Order] = cancel

	an := j.analyzer
	order, token := c.Order, c.dispatch
	start := j.clock.Now()
	j.logger.Debug("chunk dispatched", "order", order, "in_flight", len(j.inFlight))

	go func() {
		res, err := an.AnalyzeChunk(ctx, req)
		o := chunkOutcome{order: order, dispatch: token, result: res, err: err, elapsed: j.clock.Now().Sub(start)}
		select {
		case j.outcomes <- o:
		case <-ctx.Done():
		}
	}()
}

// applyOutcome folds a finished analysis into the job. Outcomes of aborted
// dispatches are ignored.
func (j *Job) applyOutcome(o chunkOutcome) {
	c := j.chunkAt(o.order)
	if c == nil || c.dispatch != o.dispatch || c.Status != ChunkAnalyzing {
		return
	}
	if cancel, ok := j.inFlight[o.order]; ok {
		cancel()
		delete(j.inFlight, o.order)
	}

	if o.err == nil {
		c.Status = ChunkAnalyzed
		c.Summary = o.result.Summary
		c.Analysis = o.result.Analysis
		c.Text = ""
		j.entities = knowledge.Merge(j.entities, o.result.Entities, o.order)
		j.estimator.Add(o.elapsed)
		j.logger.Info("chunk analyzed", "order", o.order, "elapsed", o.elapsed, "entities", len(o.result.Entities))
		j.chunkFinished()
		return
	}

	switch analysis.KindOf(o.err) {
	case analysis.KindCancelled:
		c.Status = ChunkQueued
		j.cursor = min(j.cursor, c.Order)
	case analysis.KindRateLimit:
		c.Status = ChunkQueued
		j.pauseRateLimited(o.err)
	case analysis.KindAuth:
		c.Status = ChunkQueued
		j.fail(o.err)
	default:
		c.Status = ChunkErrored
		c.Error = o.err.Error()
		c.Text = ""
		j.logger.Warn("chunk failed", "order", o.order, "error", o.err)
		j.chunkFinished()
	}
}

// chunkFinished runs after a chunk becomes terminal.
func (j *Job) chunkFinished() {
	for {
		next := j.chunkAt(j.lastCompleted + 1)
		if next == nil || !next.Status.Terminal() {
			break
		}
		j.lastCompleted++
	}
	j.save()
}

func (j *Job) pauseRateLimited(err error) {
	if transErr := j.transition(StatusPausedRateLimited); transErr != nil {
		j.logger.Warn("rate limit outside analysis or synthesis", "status", j.status, "error", err)
		return
	}
	j.abortInFlight("")
	j.errMsg = err.Error()
	if cooldown := j.cfg.Settings.RateLimitCooldown; cooldown > 0 {
		j.cooldownUntil = j.clock.Now().Add(cooldown)
	}
	j.logger.Warn("paused on rate limit", "last_completed", j.lastCompleted, "resume_at", j.cooldownUntil, "error", err)
	j.persist()
}

// abortInFlight cancels every running chunk and returns it to the queue,
// appending suffix to its error when set.
func (j *Job) abortInFlight(suffix string) {
	for order, cancel := range j.inFlight {
		cancel()
		if c := j.chunkAt(order); c != nil && c.Status.InFlight() {
			c.Status = ChunkQueued
			if suffix != "" {
				c.Error = strings.TrimSpace(c.Error + " " + suffix)
			}
		}
	}
	clear(j.inFlight)
}

func (j *Job) handleEvent(ev document.Event) {
	switch ev.Kind {
	case document.EventStarted:
		j.totalDiscovered = ev.TotalDiscovered
		j.totalToProcess = ev.TotalToProcess
		j.logger.Info("chunking started", "discovered", ev.TotalDiscovered, "to_process", ev.TotalToProcess)
	case document.EventFirstChunk, document.EventBatch:
		for _, p := range ev.Chunks {
			j.addChunk(p)
		}
		if j.status == StatusPreparing {
			_ = j.transition(StatusAnalyzing)
		}
	case document.EventProgress:
		j.chunkingPercent = ev.Percent
	case document.EventCompleted:
		j.totalDiscovered = ev.TotalDiscovered
		j.totalToProcess = ev.TotalToProcess
		j.chunkingDone = true
		j.chunkingPercent = 100
		j.stopChunking()
		j.save()
	case document.EventError:
		j.stopChunking()
		j.fail(fmt.Errorf("chunking failed: %w", ev.Err))
	}
}

func (j *Job) addChunk(p document.Piece) {
	for len(j.chunks) <= p.Order {
		j.chunks = append(j.chunks, nil)
	}
	if c := j.chunks[p.Order]; c != nil {
		if c.Text == "" && !c.Status.Terminal() {
			c.Text = p.Text
		}
		return
	}
	j.chunks[p.Order] = &Chunk{ID: p.ID, Order: p.Order, Status: ChunkQueued, Text: p.Text}
}

func (j *Job) chunkAt(order int) *Chunk {
	if order < 0 || order >= len(j.chunks) {
		return nil
	}
	return j.chunks[order]
}

// total is the number of chunks to process, tolerating chunks that arrive
// before the totals do.
func (j *Job) total() int {
	return max(j.totalToProcess, len(j.chunks))
}

func (j *Job) summaries() []knowledge.Summarized {
	out := make([]knowledge.Summarized, 0, len(j.chunks))
	for _, c := range j.chunks {
		if c != nil && c.Status == ChunkAnalyzed {
			out = append(out, knowledge.Summarized{Order: c.Order, Summary: c.Summary})
		}
	}
	return out
}

func (j *Job) documentName() string {
	if j.doc != nil {
		return j.doc.Name
	}
	return ""
}
