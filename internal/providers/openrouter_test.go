package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func chatCompletionBody(content string) map[string]any {
	return map[string]any{
		"id":      "test-id",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "test-model",
		"choices": []map[string]any{
			{
				"index": 0,
				"message": map[string]any{
					"role":    "assistant",
					"content": content,
				},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]int{
			"prompt_tokens":     10,
			"completion_tokens": 8,
			"total_tokens":      18,
		},
	}
}

func TestOpenRouterClient_Chat(t *testing.T) {
	t.Run("successful chat", func(t *testing.T) {
		var received openRouterRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/chat/completions" {
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
			if r.Method != http.MethodPost {
				t.Errorf("unexpected method: %s", r.Method)
			}
			if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
				t.Errorf("unexpected authorization: %s", auth)
			}
			json.NewDecoder(r.Body).Decode(&received)

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(chatCompletionBody(`{"summary":"s","analysis":"a"}`))
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{APIKey: "test-key", BaseURL: server.URL})

		result, err := client.Chat(context.Background(), &ChatRequest{
			Messages: []Message{
				{Role: RoleSystem, Content: "You are a literary analyst."},
				{Role: RoleUser, Content: "Chapter one"},
			},
			JSON: true,
		})
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if result.Content != `{"summary":"s","analysis":"a"}` {
			t.Errorf("Content = %q", result.Content)
		}
		if result.TotalTokens != 18 {
			t.Errorf("TotalTokens = %d, want 18", result.TotalTokens)
		}
		if result.RequestID == "" {
			t.Error("expected generated request ID")
		}
		if received.ResponseFormat == nil || received.ResponseFormat.Type != "json_object" {
			t.Error("expected json_object response format")
		}
		if received.Model != OpenRouterDefaultModel {
			t.Errorf("model = %s, want default", received.Model)
		}
		if len(received.Messages) != 2 || received.Messages[0].Role != RoleSystem {
			t.Errorf("messages not forwarded: %+v", received.Messages)
		}
	})

	t.Run("status errors are typed and not retried", func(t *testing.T) {
		tests := []struct {
			name       string
			status     int
			retryAfter string
			wantRetry  time.Duration
		}{
			{"rate limited", http.StatusTooManyRequests, "7", 7 * time.Second},
			{"unauthorized", http.StatusUnauthorized, "", 0},
			{"server error", http.StatusBadGateway, "", 0},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				calls := 0
				server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					calls++
					if tt.retryAfter != "" {
						w.Header().Set("Retry-After", tt.retryAfter)
					}
					w.WriteHeader(tt.status)
					w.Write([]byte(`{"error":{"message":"nope","code":` + "\"x\"" + `}}`))
				}))
				defer server.Close()

				client := NewOpenRouterClient(OpenRouterConfig{APIKey: "k", BaseURL: server.URL})
				_, err := client.Chat(context.Background(), &ChatRequest{
					Messages: []Message{{Role: RoleUser, Content: "hi"}},
				})

				apiErr, ok := AsAPIError(err)
				if !ok {
					t.Fatalf("expected *APIError, got %v", err)
				}
				if apiErr.StatusCode != tt.status {
					t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.status)
				}
				if apiErr.Message != "nope" {
					t.Errorf("Message = %q", apiErr.Message)
				}
				if apiErr.RetryAfter != tt.wantRetry {
					t.Errorf("RetryAfter = %v, want %v", apiErr.RetryAfter, tt.wantRetry)
				}
				if calls != 1 {
					t.Errorf("expected exactly one attempt, got %d", calls)
				}
			})
		}
	})

	t.Run("error object in 200 body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"error":{"message":"quota","code":429}}`))
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{APIKey: "k", BaseURL: server.URL})
		_, err := client.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})

		apiErr, ok := AsAPIError(err)
		if !ok || apiErr.StatusCode != http.StatusTooManyRequests {
			t.Fatalf("expected 429 APIError, got %v", err)
		}
	})

	t.Run("empty choices", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"id":"x","choices":[]}`))
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{APIKey: "k", BaseURL: server.URL})
		_, err := client.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
		if !errors.Is(err, ErrEmptyResponse) {
			t.Errorf("expected ErrEmptyResponse, got %v", err)
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{APIKey: "k", BaseURL: server.URL})
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := client.Chat(ctx, &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
	})
}

func TestOpenAIClient_Chat(t *testing.T) {
	t.Run("successful chat", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/chat/completions" {
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(chatCompletionBody("report text"))
		}))
		defer server.Close()

		client := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: server.URL})
		result, err := client.Chat(context.Background(), &ChatRequest{
			Messages:    []Message{{Role: RoleSystem, Content: "sys"}, {Role: RoleUser, Content: "hi"}},
			Temperature: 0.7,
		})
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if result.Content != "report text" {
			t.Errorf("Content = %q", result.Content)
		}
		if result.PromptTokens != 10 || result.CompletionTokens != 8 {
			t.Errorf("unexpected usage: %+v", result)
		}
	})

	t.Run("rate limit maps to APIError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":{"message":"slow down","type":"requests","code":"rate_limit_exceeded"}}`))
		}))
		defer server.Close()

		client := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: server.URL})
		_, err := client.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})

		apiErr, ok := AsAPIError(err)
		if !ok {
			t.Fatalf("expected *APIError, got %v", err)
		}
		if apiErr.StatusCode != http.StatusTooManyRequests {
			t.Errorf("StatusCode = %d", apiErr.StatusCode)
		}
		if apiErr.RetryAfter != 3*time.Second {
			t.Errorf("RetryAfter = %v", apiErr.RetryAfter)
		}
		if client.RateLimiter().Status().Total429 != 1 {
			t.Error("expected limiter to record the 429")
		}
	})
}
