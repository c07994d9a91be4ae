// Package llmcall records every LLM API call for traceability and cost
// accounting. Calls are stored in a local sqlite database through gorm.
package llmcall

import (
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/novella/internal/providers"
)

// Call represents a recorded LLM API call.
type Call struct {
	// Unique identifier
	ID string `json:"id" gorm:"primaryKey;size:36"`

	// Timing
	Timestamp time.Time `json:"timestamp" gorm:"index;not null"`
	LatencyMs int64     `json:"latency_ms"`

	// Context references
	JobID      string `json:"job_id,omitempty" gorm:"index;size:512"`
	ChunkOrder int    `json:"chunk_order"` // -1 for synthesis and probe calls
	Attempt    int    `json:"attempt"`

	// Prompt traceability
	PromptKey  string `json:"prompt_key" gorm:"index;size:128"`
	PromptHash string `json:"prompt_hash,omitempty" gorm:"size:64"`

	// Model info
	Provider    string  `json:"provider" gorm:"size:64"`
	Model       string  `json:"model" gorm:"size:128"`
	Temperature float64 `json:"temperature"`

	// Token usage
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`

	// Response
	Response string `json:"response,omitempty"`

	// Status
	Success   bool   `json:"success" gorm:"index"`
	ErrorKind string `json:"error_kind,omitempty" gorm:"size:32"`
	Error     string `json:"error,omitempty"`
}

// RecordOptions provides context for recording an LLM call.
type RecordOptions struct {
	JobID      string
	ChunkOrder int
	Attempt    int

	PromptKey  string
	PromptHash string

	// Provider name used when the call failed before a result existed.
	Provider    string
	Model       string
	Temperature float64
	Latency     time.Duration
}

// FromChatResult creates a Call from a provider result and error. Either may
// be nil.
func FromChatResult(result *providers.ChatResult, callErr error, errKind string, opts RecordOptions) Call {
	call := Call{
		ID:          uuid.New().String(),
		Timestamp:   time.Now().UTC(),
		LatencyMs:   opts.Latency.Milliseconds(),
		JobID:       opts.JobID,
		ChunkOrder:  opts.ChunkOrder,
		Attempt:     opts.Attempt,
		PromptKey:   opts.PromptKey,
		PromptHash:  opts.PromptHash,
		Provider:    opts.Provider,
		Model:       opts.Model,
		Temperature: opts.Temperature,
		Success:     callErr == nil,
	}

	if result != nil {
		if result.Provider != "" {
			call.Provider = result.Provider
		}
		if result.ModelUsed != "" {
			call.Model = result.ModelUsed
		}
		if result.ExecutionTime > 0 {
			call.LatencyMs = result.ExecutionTime.Milliseconds()
		}
		call.InputTokens = result.PromptTokens
		call.OutputTokens = result.CompletionTokens
		call.Response = result.Content
	}

	if callErr != nil {
		call.Error = callErr.Error()
		call.ErrorKind = errKind
	}
	return call
}
