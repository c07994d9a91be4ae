package chunk

import (
	_ "embed"

	"github.com/jackzampolin/novella/internal/prompts"
)

//go:embed opening_system.tmpl
var openingSystemPrompt string

//go:embed full_system.tmpl
var fullSystemPrompt string

//go:embed user.tmpl
var userPromptTmpl string

// Prompt keys
const (
	OpeningSystemKey = "chunk.opening.system"
	FullSystemKey    = "chunk.full.system"
	UserKey          = "chunk.user"
)

// UserData is the template input for UserKey.
type UserData struct {
	DocumentName      string
	Position          int // 1-based
	Total             int
	Opening           bool
	PreviousSummary   string
	HistoricalContext string
	KnownEntities     string
	Text              string
}

// SystemKey returns the system prompt key for a mode.
func SystemKey(opening bool) string {
	if opening {
		return OpeningSystemKey
	}
	return FullSystemKey
}

// RegisterPrompts registers the chunk analysis prompts with the resolver.
func RegisterPrompts(r *prompts.Resolver) {
	r.Register(prompts.EmbeddedPrompt{
		Key:         OpeningSystemKey,
		Text:        openingSystemPrompt,
		Description: "Opening assessment chunk system prompt",
	})
	r.Register(prompts.EmbeddedPrompt{
		Key:         FullSystemKey,
		Text:        fullSystemPrompt,
		Description: "Full novel chunk system prompt",
	})
	r.Register(prompts.EmbeddedPrompt{
		Key:         UserKey,
		Text:        userPromptTmpl,
		Description: "Chunk analysis user prompt template",
	})
}
