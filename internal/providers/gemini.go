package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

const (
	GeminiName         = "gemini"
	GeminiDefaultModel = "gemini-2.5-flash"
)

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	APIKey       string
	DefaultModel string
	RateLimit    float64 // requests per minute, 0 = unlimited
}

// GeminiClient implements LLMClient using the Google Gen AI SDK.
type GeminiClient struct {
	apiKey       string
	defaultModel string
	rateLimit    float64
	limiter      *RateLimiter
	client       *genai.Client
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = GeminiDefaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		apiKey:       cfg.APIKey,
		defaultModel: cfg.DefaultModel,
		rateLimit:    cfg.RateLimit,
		limiter:      NewRateLimiter(cfg.RateLimit),
		client:       client,
	}, nil
}

// Name returns the client identifier.
func (c *GeminiClient) Name() string {
	return GeminiName
}

// RateLimiter exposes the client's limiter for status reporting.
func (c *GeminiClient) RateLimiter() *RateLimiter {
	return c.limiter
}

// Chat sends a generateContent request. System messages become the system
// instruction; assistant turns are sent with the model role.
func (c *GeminiClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	queueStart := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := genai.RoleUser
		switch m.Role {
		case RoleSystem:
			continue
		case RoleAssistant:
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{genai.NewPartFromText(m.Content)},
		})
	}

	config := &genai.GenerateContentConfig{}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if system := req.SystemText(); system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.JSON {
		config.ResponseMIMEType = "application/json"
	}

	resp, err := c.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		apiErr := mapGeminiError(err)
		if apiErr.StatusCode == 429 {
			c.limiter.Record429(apiErr.RetryAfter)
		}
		return nil, apiErr
	}

	result := &ChatResult{
		Provider:      GeminiName,
		ModelUsed:     model,
		RequestID:     requestID,
		QueueTime:     start.Sub(queueStart),
		ExecutionTime: time.Since(start),
	}
	if resp != nil && resp.UsageMetadata != nil {
		result.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		result.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		result.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return result, ErrEmptyResponse
	}
	if resp.Candidates[0].FinishReason != "" {
		result.FinishReason = string(resp.Candidates[0].FinishReason)
	}

	result.Content = resp.Text()
	if strings.TrimSpace(result.Content) == "" {
		return result, fmt.Errorf("%w (finish reason %s)", ErrEmptyResponse, result.FinishReason)
	}
	return result, nil
}

// mapGeminiError converts SDK errors to *APIError. The SDK reports status as
// both an HTTP code and a symbolic string like RESOURCE_EXHAUSTED.
func mapGeminiError(err error) *APIError {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{
			Provider:   GeminiName,
			StatusCode: apiErr.Code,
			Status:     apiErr.Status,
			Message:    apiErr.Message,
			RetryAfter: extractRetryDelay(apiErr.Message),
		}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &APIError{
			Provider:   GeminiName,
			StatusCode: apiErrPtr.Code,
			Status:     apiErrPtr.Status,
			Message:    apiErrPtr.Message,
			RetryAfter: extractRetryDelay(apiErrPtr.Message),
		}
	}
	return &APIError{Provider: GeminiName, Message: err.Error()}
}

var _ LLMClient = (*GeminiClient)(nil)
