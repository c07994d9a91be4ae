package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackzampolin/novella/internal/analysis"
	"github.com/jackzampolin/novella/internal/knowledge"
)

// ErrNoSuccessfulChunks is returned when no chunk was analyzed.
var ErrNoSuccessfulChunks = errors.New("no chunks were analyzed successfully")

// Synthesizer writes one report. *analysis.Client implements it.
type Synthesizer interface {
	Synthesize(ctx context.Context, req analysis.SynthesisRequest) (string, error)
}

// FinalizeInput is what the finalizer reads from a job.
type FinalizeInput struct {
	JobID        string
	DocumentName string
	Mode         analysis.Mode
	Chunks       []*Chunk
	Entities     knowledge.Map
}

// Finalize issues one synthesis per report type of the mode from the
// analyzed chunks in order. Errored chunks are skipped; with none analyzed
// it fails without calling s.
func Finalize(ctx context.Context, s Synthesizer, in FinalizeInput) (map[analysis.ReportType]string, error) {
	summaries := make([]knowledge.Summarized, 0, len(in.Chunks))
	for _, c := range in.Chunks {
		if c != nil && c.Status == ChunkAnalyzed {
			summaries = append(summaries, knowledge.Summarized{Order: c.Order, Summary: c.Summary})
		}
	}
	if len(summaries) == 0 {
		return nil, ErrNoSuccessfulChunks
	}
	sort.Slice(summaries, func(a, b int) bool { return summaries[a].Order < summaries[b].Order })

	reports := make(map[analysis.ReportType]string)
	for _, t := range in.Mode.ReportTypes() {
		text, err := s.Synthesize(ctx, analysis.SynthesisRequest{
			JobID:        in.JobID,
			DocumentName: in.DocumentName,
			Type:         t,
			Summaries:    summaries,
			Entities:     in.Entities,
		})
		if err != nil {
			return nil, fmt.Errorf("%s report: %w", t, err)
		}
		reports[t] = text
	}
	return reports, nil
}

func (j *Job) startFinalize() {
	if err := j.transition(StatusGenerating); err != nil {
		j.logger.Warn("cannot finalize", "error", err)
		return
	}
	j.logger.Info("generating final report", "chunks", len(j.chunks))

	in := FinalizeInput{
		JobID:        j.id,
		DocumentName: j.documentName(),
		Mode:         j.mode,
		Chunks:       make([]*Chunk, len(j.chunks)),
		Entities:     j.entities,
	}
	for i, c := range j.chunks {
		if c != nil {
			cp := *c
			in.Chunks[i] = &cp
		}
	}

	ctx, cancel := context.WithCancel(j.ctx)
	j.stopFinal = cancel
	an := j.analyzer
	go func() {
		reports, err := Finalize(ctx, an, in)
		select {
		case j.finals <- finalOutcome{reports: reports, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (j *Job) applyFinal(f finalOutcome) {
	if j.status != StatusGenerating {
		return
	}
	j.stopFinalizing()
	if f.err != nil {
		if analysis.KindOf(f.err) == analysis.KindRateLimit {
			j.pauseRateLimited(fmt.Errorf("final report: %w", f.err))
			return
		}
		j.fail(fmt.Errorf("final report failed: %w", f.err))
		return
	}

	j.reports = f.reports
	j.reportPaths = make(map[analysis.ReportType]string, len(f.reports))
	if j.cfg.Reports != nil {
		for t, text := range f.reports {
			path, err := j.cfg.Reports.WriteReport(j.id, string(t), text)
			if err != nil {
				j.logger.Warn("failed to write report", "type", t, "error", err)
				continue
			}
			j.reportPaths[t] = path
		}
	}
	_ = j.transition(StatusCompleted)
	j.endConversation()
	j.store.Clear(j.ctx, j.id)
	j.logger.Info("job completed", "reports", len(f.reports))
}
