package analysis

import (
	"github.com/jackzampolin/novella/internal/knowledge"
)

// Mode selects the analysis strategy.
type Mode string

const (
	// ModeOpening analyzes the first chunks sequentially with chained context.
	ModeOpening Mode = "opening"
	// ModeFull analyzes every chunk with bounded parallelism.
	ModeFull Mode = "full"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeOpening || m == ModeFull
}

// ReportType names a synthesized report.
type ReportType string

const (
	ReportOpeningAssessment ReportType = "opening-assessment"
	ReportFullNovel         ReportType = "full-novel"
)

// ReportTypes lists the reports a mode produces.
func (m Mode) ReportTypes() []ReportType {
	if m == ModeOpening {
		return []ReportType{ReportOpeningAssessment}
	}
	return []ReportType{ReportFullNovel}
}

// Request asks for the analysis of one chunk.
type Request struct {
	JobID             string
	DocumentName      string
	Mode              Mode
	Order             int // 0-based
	Total             int
	Text              string
	PreviousSummary   string
	HistoricalContext string
	KnownEntities     string
	Conversation      ConversationID
}

// Result is a validated chunk analysis.
type Result struct {
	Summary  string
	Analysis string
	Entities []knowledge.Entity
	Repaired bool // control characters had to be escaped
}

// SynthesisRequest asks for one final report.
type SynthesisRequest struct {
	JobID        string
	DocumentName string
	Type         ReportType
	Summaries    []knowledge.Summarized
	Entities     knowledge.Map
}
