// Package analysis sends chunks and synthesis requests to an LLM provider,
// retries throttling with bounded backoff, classifies every failure and
// validates chunk responses.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackzampolin/novella/internal/llmcall"
	"github.com/jackzampolin/novella/internal/prompts"
	"github.com/jackzampolin/novella/internal/prompts/chunk"
	"github.com/jackzampolin/novella/internal/prompts/report"
	"github.com/jackzampolin/novella/internal/providers"
)

// ProbeKey labels credential probe calls in the call log.
const ProbeKey = "probe"

// Recorder receives one record per provider attempt.
type Recorder interface {
	Record(call llmcall.Call)
}

// Config configures a Client.
type Config struct {
	LLM               providers.LLMClient
	Prompts           *prompts.Resolver // defaults to the embedded prompts
	Recorder          Recorder          // optional
	Retry             RetryPolicy
	Model             string // empty uses the provider default
	Temperature       float64
	ConversationTurns int
	Logger            *slog.Logger
}

// Client is safe for concurrent use.
type Client struct {
	llm         providers.LLMClient
	prompts     *prompts.Resolver
	recorder    Recorder
	retry       RetryPolicy
	model       string
	temperature float64
	convs       *conversations
	logger      *slog.Logger
}

// NewPromptResolver returns a resolver loaded with every embedded prompt.
func NewPromptResolver(overrideDir string, logger *slog.Logger) *prompts.Resolver {
	r := prompts.NewResolver(overrideDir, logger)
	chunk.RegisterPrompts(r)
	report.RegisterPrompts(r)
	return r
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.LLM == nil {
		return nil, errors.New("analysis: LLM client is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	resolver := cfg.Prompts
	if resolver == nil {
		resolver = NewPromptResolver("", logger)
	}
	return &Client{
		llm:         cfg.LLM,
		prompts:     resolver,
		recorder:    cfg.Recorder,
		retry:       cfg.Retry,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		convs:       newConversations(cfg.ConversationTurns),
		logger:      logger,
	}, nil
}

// WithLLM returns a Client bound to a different provider client. Open
// conversations are shared with c.
func (c *Client) WithLLM(llm providers.LLMClient) *Client {
	cp := *c
	cp.llm = llm
	return &cp
}

// Provider names the provider behind this client.
func (c *Client) Provider() string {
	return c.llm.Name()
}

// StartConversation opens a chat history for sequential analysis.
func (c *Client) StartConversation(mode Mode) ConversationID {
	return c.convs.start(mode)
}

// EndConversation releases a conversation handle.
func (c *Client) EndConversation(id ConversationID) {
	c.convs.end(id)
}

// AnalyzeChunk analyzes one chunk. Errors are always *Error.
func (c *Client) AnalyzeChunk(ctx context.Context, req Request) (*Result, error) {
	opening := req.Mode == ModeOpening
	system, sysPrompt, err := c.prompts.Render(chunk.SystemKey(opening), nil)
	if err != nil {
		return nil, &Error{Kind: KindTransient, Message: "build system prompt", Err: err}
	}
	user, _, err := c.prompts.Render(chunk.UserKey, chunk.UserData{
		DocumentName:      req.DocumentName,
		Position:          req.Order + 1,
		Total:             req.Total,
		Opening:           opening,
		PreviousSummary:   req.PreviousSummary,
		HistoricalContext: req.HistoricalContext,
		KnownEntities:     req.KnownEntities,
		Text:              req.Text,
	})
	if err != nil {
		return nil, &Error{Kind: KindTransient, Message: "build chunk prompt", Err: err}
	}

	messages := []providers.Message{{Role: providers.RoleSystem, Content: system}}
	messages = append(messages, c.convs.history(req.Conversation)...)
	messages = append(messages, providers.Message{Role: providers.RoleUser, Content: user})

	content, err := c.call(ctx, &providers.ChatRequest{
		Messages:    messages,
		Model:       c.model,
		Temperature: c.temperature,
		JSON:        true,
	}, llmcall.RecordOptions{
		JobID:      req.JobID,
		ChunkOrder: req.Order,
		PromptKey:  sysPrompt.Key,
		PromptHash: sysPrompt.Hash,
	})
	if err != nil {
		return nil, err
	}

	res, err := ParseResult(content)
	if err != nil {
		return nil, &Error{Kind: KindTransient, Message: fmt.Sprintf("chunk %d", req.Order+1), Err: err}
	}
	if res.Repaired {
		c.logger.Debug("repaired control characters in chunk response", "job_id", req.JobID, "order", req.Order)
	}
	c.convs.append(req.Conversation, user, content)
	return res, nil
}

// Synthesize produces one final report from ordered chunk summaries.
func (c *Client) Synthesize(ctx context.Context, req SynthesisRequest) (string, error) {
	key, err := reportKey(req.Type)
	if err != nil {
		return "", &Error{Kind: KindTransient, Err: err}
	}
	system, _, err := c.prompts.Render(report.SystemKey, nil)
	if err != nil {
		return "", &Error{Kind: KindTransient, Message: "build report system prompt", Err: err}
	}

	lines := make([]string, 0, len(req.Summaries))
	for _, s := range req.Summaries {
		lines = append(lines, fmt.Sprintf("[Chunk %d] %s", s.Order+1, strings.TrimSpace(s.Summary)))
	}
	user, userPrompt, err := c.prompts.Render(key, report.Data{
		DocumentName: req.DocumentName,
		ChunkCount:   len(req.Summaries),
		Summaries:    strings.Join(lines, "\n\n"),
		Entities:     req.Entities.Format(),
	})
	if err != nil {
		return "", &Error{Kind: KindTransient, Message: "build report prompt", Err: err}
	}

	content, err := c.call(ctx, &providers.ChatRequest{
		Messages: []providers.Message{
			{Role: providers.RoleSystem, Content: system},
			{Role: providers.RoleUser, Content: user},
		},
		Model:       c.model,
		Temperature: c.temperature,
	}, llmcall.RecordOptions{
		JobID:      req.JobID,
		ChunkOrder: -1,
		PromptKey:  userPrompt.Key,
		PromptHash: userPrompt.Hash,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

// Probe checks that the bound credential works with a minimal request.
// Throttling is not retried here; a rate-limited key is reported as such.
func (c *Client) Probe(ctx context.Context) error {
	start := time.Now()
	req := &providers.ChatRequest{
		Messages: []providers.Message{{Role: providers.RoleUser, Content: "Reply with the single word OK."}},
		Model:    c.model,
	}
	res, err := c.llm.Chat(ctx, req)
	classified := Classify(ctx, err)
	c.record(res, classified, llmcall.RecordOptions{ChunkOrder: -1, PromptKey: ProbeKey, Attempt: 1, Latency: time.Since(start)})
	if classified != nil {
		return classified
	}
	return nil
}

func reportKey(t ReportType) (string, error) {
	switch t {
	case ReportOpeningAssessment:
		return report.OpeningAssessmentKey, nil
	case ReportFullNovel:
		return report.FullNovelKey, nil
	default:
		return "", fmt.Errorf("unknown report type %q", t)
	}
}

// call sends req under the retry policy and returns the response text.
func (c *Client) call(ctx context.Context, req *providers.ChatRequest, opts llmcall.RecordOptions) (string, error) {
	var content string
	err := c.retry.do(ctx, func(attempt int) error {
		start := time.Now()
		res, err := c.llm.Chat(ctx, req)
		if err == nil && (res == nil || strings.TrimSpace(res.Content) == "") {
			err = providers.ErrEmptyResponse
		}
		classified := Classify(ctx, err)

		rec := opts
		rec.Attempt = attempt
		rec.Latency = time.Since(start)
		c.record(res, classified, rec)

		if classified != nil {
			return classified
		}
		content = res.Content
		return nil
	}, func(attempt int, wait time.Duration, err error) {
		c.logger.Warn("rate limited, backing off",
			"job_id", opts.JobID,
			"order", opts.ChunkOrder,
			"attempt", attempt,
			"wait", wait,
			"error", err)
	})
	if err != nil {
		var ae *Error
		if errors.As(err, &ae) && ae.Kind == KindRateLimit {
			return "", &Error{
				Kind:    KindRateLimit,
				Message: fmt.Sprintf("rate limit persisted after %d retries", c.retry.MaxRetries),
				Err:     ae.Err,
			}
		}
		return "", err
	}
	return content, nil
}

func (c *Client) record(res *providers.ChatResult, err *Error, opts llmcall.RecordOptions) {
	if c.recorder == nil {
		return
	}
	opts.Provider = c.llm.Name()
	opts.Model = c.model
	opts.Temperature = c.temperature
	var callErr error
	var kind string
	if err != nil {
		callErr = err
		kind = string(err.Kind)
	}
	c.recorder.Record(llmcall.FromChatResult(res, callErr, kind, opts))
}
