package jobs

import (
	"maps"
	"time"

	"github.com/jackzampolin/novella/internal/analysis"
	"github.com/jackzampolin/novella/internal/knowledge"
)

// ChunkView is the read-only state of one chunk.
type ChunkView struct {
	Order   int         `json:"order"`
	Status  ChunkStatus `json:"status"`
	Summary string      `json:"summary,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// View is a point-in-time copy of a job for readers outside the run loop.
type View struct {
	ID              string                         `json:"id"`
	Mode            analysis.Mode                  `json:"mode,omitempty"`
	DocumentName    string                         `json:"document_name,omitempty"`
	Status          Status                         `json:"status"`
	Cursor          int                            `json:"cursor"`
	LastCompleted   int                            `json:"last_completed"`
	TotalDiscovered int                            `json:"total_discovered"`
	TotalToProcess  int                            `json:"total_to_process"`
	InFlight        int                            `json:"in_flight"`
	Analyzed        int                            `json:"analyzed"`
	Errored         int                            `json:"errored"`
	ChunkingDone    bool                           `json:"chunking_done"`
	ChunkingPercent float64                        `json:"chunking_percent"`
	Percent         float64                        `json:"percent"`
	ETA             time.Duration                  `json:"eta"`
	CooldownUntil   time.Time                      `json:"cooldown_until,omitempty"`
	Error           string                         `json:"error,omitempty"`
	Reports         map[analysis.ReportType]string `json:"-"`
	ReportPaths     map[analysis.ReportType]string `json:"report_paths,omitempty"`
	Chunks          []ChunkView                    `json:"chunks,omitempty"`
	Entities        []knowledge.Entity             `json:"-"`
	UpdatedAt       time.Time                      `json:"updated_at"`
}

// View returns the latest published state.
func (j *Job) View() View {
	j.viewMu.RLock()
	defer j.viewMu.RUnlock()
	return j.view
}

// publish refreshes the view. Called from the run loop only.
func (j *Job) publish() {
	v := View{
		ID:              j.id,
		Mode:            j.mode,
		DocumentName:    j.documentName(),
		Status:          j.status,
		Cursor:          j.cursor,
		LastCompleted:   j.lastCompleted,
		TotalDiscovered: j.totalDiscovered,
		TotalToProcess:  j.totalToProcess,
		InFlight:        len(j.inFlight),
		ChunkingDone:    j.chunkingDone,
		ChunkingPercent: j.chunkingPercent,
		CooldownUntil:   j.cooldownUntil,
		Error:           j.errMsg,
		Reports:         maps.Clone(j.reports),
		ReportPaths:     maps.Clone(j.reportPaths),
		Entities:        j.entities.Sorted(),
		UpdatedAt:       j.clock.Now(),
	}
	v.Chunks = make([]ChunkView, 0, len(j.chunks))
	for _, c := range j.chunks {
		if c == nil {
			continue
		}
		switch c.Status {
		case ChunkAnalyzed:
			v.Analyzed++
		case ChunkErrored:
			v.Errored++
		}
		v.Chunks = append(v.Chunks, ChunkView{Order: c.Order, Status: c.Status, Summary: c.Summary, Error: c.Error})
	}
	if total := j.total(); total > 0 {
		done := v.Analyzed + v.Errored
		v.Percent = 100 * float64(done) / float64(total)
		if j.status == StatusAnalyzing {
			v.ETA = j.estimator.ETA(total-done, j.cfg.Settings.Ceiling(j.mode), j.cfg.Settings.SubmitDelay(j.mode))
		}
	}

	j.viewMu.Lock()
	j.view = v
	j.viewMu.Unlock()
}
