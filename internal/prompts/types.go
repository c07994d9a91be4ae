// Package prompts provides prompt management with embedded defaults and
// user-level overrides.
//
// Embedded .tmpl files are the source of truth for defaults. A user may drop
// a file named <key>.tmpl into the prompts directory under the novella home
// to replace any default without rebuilding.
//
// Resolution order:
//  1. Override file (if present and parseable)
//  2. Embedded default
package prompts

// EmbeddedPrompt represents a prompt loaded from an embedded .tmpl file.
type EmbeddedPrompt struct {
	Key         string   // Hierarchical key: chunk.opening.system
	Text        string   // The prompt text (Go template)
	Description string   // Human-readable description
	Variables   []string // Extracted template variables
	Hash        string   // SHA256 hash of the text for change detection
}

// ResolvedPrompt is the result of resolving a prompt key.
type ResolvedPrompt struct {
	Key        string   `json:"key"`
	Text       string   `json:"text"`
	Variables  []string `json:"variables,omitempty"`
	Hash       string   `json:"hash"`
	IsOverride bool     `json:"is_override"`
}
