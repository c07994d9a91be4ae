package jobs

import (
	"maps"

	"github.com/google/uuid"

	"github.com/jackzampolin/novella/internal/analysis"
	"github.com/jackzampolin/novella/internal/document"
	"github.com/jackzampolin/novella/internal/progress"
)

// save writes a snapshot while the job is resumable and at least one chunk
// has finished, in any order.
func (j *Job) save() {
	if !j.hasFinishedChunk() {
		return
	}
	j.persist()
}

// persist writes a snapshot whenever the job is resumable. Pauses call it
// directly so a pause is never lost.
func (j *Job) persist() {
	switch j.status {
	case StatusAnalyzing, StatusPausedAwaitResume, StatusPausedRateLimited:
	default:
		return
	}
	j.store.Save(j.ctx, j.snapshot())
}

func (j *Job) hasFinishedChunk() bool {
	for _, c := range j.chunks {
		if c != nil && c.Status.Terminal() {
			return true
		}
	}
	return false
}

func (j *Job) snapshot() *progress.Snapshot {
	snap := &progress.Snapshot{
		Version:         progress.CurrentVersion,
		JobID:           j.id,
		Mode:            string(j.mode),
		DocumentName:    j.documentName(),
		DocumentPath:    j.docPath,
		Status:          string(j.status),
		Cursor:          j.cursor,
		LastCompleted:   j.lastCompleted,
		TotalDiscovered: j.totalDiscovered,
		TotalToProcess:  j.totalToProcess,
		ChunkSize:       j.chunkSize,
		Entities:        maps.Clone(j.entities),
		Error:           j.errMsg,
		SavedAt:         j.clock.Now().UTC(),
	}
	if j.doc != nil {
		snap.Encoding = j.doc.Encoding
	}
	for _, c := range j.chunks {
		if c == nil {
			continue
		}
		snap.Chunks = append(snap.Chunks, progress.ChunkState{
			ID:       c.ID,
			Order:    c.Order,
			Status:   string(c.Status),
			Summary:  c.Summary,
			Analysis: c.Analysis,
			Error:    c.Error,
		})
	}
	if len(j.reports) > 0 {
		snap.Reports = make(map[string]string, len(j.reports))
		for t, text := range j.reports {
			snap.Reports[string(t)] = text
		}
	}
	return snap
}

// restore loads a snapshot into an idle job, leaving it paused, or
// completed when the snapshot holds a finished job. Chunks the snapshot
// lacks are rebuilt from doc. Must be called before Run.
func (j *Job) restore(snap *progress.Snapshot, doc *document.Document, path string) {
	j.mode = analysis.Mode(snap.Mode)
	j.doc = doc
	j.docPath = path
	if path == "" {
		j.docPath = snap.DocumentPath
	}
	j.chunkSize = snap.ChunkSize
	if j.chunkSize <= 0 {
		j.chunkSize = document.DefaultChunkSize
	}
	j.cursor = snap.Cursor
	j.lastCompleted = snap.LastCompleted
	j.totalDiscovered = snap.TotalDiscovered
	j.totalToProcess = snap.TotalToProcess
	j.entities = maps.Clone(snap.Entities)
	j.errMsg = snap.Error
	j.status = StatusPausedAwaitResume
	if Status(snap.Status) == StatusCompleted && len(snap.Reports) > 0 {
		j.status = StatusCompleted
	}

	if doc != nil && j.totalToProcess == 0 {
		j.totalDiscovered = doc.ChunkCount(j.chunkSize)
		j.totalToProcess = j.totalDiscovered
		if limit := j.cfg.Settings.Limit(j.mode); limit > 0 && j.totalToProcess > limit {
			j.totalToProcess = limit
		}
	}

	j.chunks = make([]*Chunk, max(j.totalToProcess, len(snap.Chunks)))
	for _, cs := range snap.Chunks {
		if cs.Order < 0 || cs.Order >= len(j.chunks) {
			continue
		}
		c := &Chunk{
			ID:       cs.ID,
			Order:    cs.Order,
			Status:   ChunkStatus(cs.Status),
			Summary:  cs.Summary,
			Analysis: cs.Analysis,
			Error:    cs.Error,
		}
		if !c.Status.Terminal() {
			c.Status = ChunkQueued
		}
		j.chunks[cs.Order] = c
	}

	missing := 0
	for order, c := range j.chunks {
		if c == nil {
			j.chunks[order] = &Chunk{ID: uuid.New().String(), Order: order, Status: ChunkQueued}
			missing++
		}
	}
	j.chunkingDone = true
	j.chunkingPercent = 100

	if len(snap.Reports) > 0 {
		j.reports = make(map[analysis.ReportType]string, len(snap.Reports))
		for t, text := range snap.Reports {
			j.reports[analysis.ReportType(t)] = text
		}
	}

	j.logger.Info("restored saved progress",
		"last_completed", j.lastCompleted,
		"chunks", len(j.chunks),
		"rebuilt", missing,
		"saved_at", snap.SavedAt)
	j.publish()
}
