package report

import (
	_ "embed"

	"github.com/jackzampolin/novella/internal/prompts"
)

//go:embed system.tmpl
var systemPrompt string

//go:embed opening_assessment.tmpl
var openingAssessmentTmpl string

//go:embed full_novel.tmpl
var fullNovelTmpl string

// Prompt keys
const (
	SystemKey            = "report.system"
	OpeningAssessmentKey = "report.opening-assessment"
	FullNovelKey         = "report.full-novel"
)

// Data is the template input for the report prompts.
type Data struct {
	DocumentName string
	ChunkCount   int
	Summaries    string
	Entities     string
}

// RegisterPrompts registers the report prompts with the resolver.
func RegisterPrompts(r *prompts.Resolver) {
	r.Register(prompts.EmbeddedPrompt{
		Key:         SystemKey,
		Text:        systemPrompt,
		Description: "Report synthesis system prompt",
	})
	r.Register(prompts.EmbeddedPrompt{
		Key:         OpeningAssessmentKey,
		Text:        openingAssessmentTmpl,
		Description: "Opening assessment report prompt",
	})
	r.Register(prompts.EmbeddedPrompt{
		Key:         FullNovelKey,
		Text:        fullNovelTmpl,
		Description: "Full novel report prompt",
	})
}
