package providers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestMockClient(t *testing.T) {
	t.Run("chat", func(t *testing.T) {
		c := NewMockClient()
		c.ResponseText = "hello world"

		result, err := c.Chat(context.Background(), &ChatRequest{
			Model:    "test-model",
			Messages: []Message{{Role: RoleUser, Content: "test"}},
		})
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if result.Content != "hello world" {
			t.Errorf("Content = %q, want %q", result.Content, "hello world")
		}
		if c.RequestCount() != 1 {
			t.Errorf("RequestCount = %d, want 1", c.RequestCount())
		}
		if len(c.Requests()) != 1 {
			t.Errorf("Requests() = %d, want 1", len(c.Requests()))
		}
	})

	t.Run("responder sees call number", func(t *testing.T) {
		c := NewMockClient()
		c.Latency = 0
		boom := errors.New("boom")
		c.Respond = func(req *ChatRequest, call int) (string, error) {
			if call == 2 {
				return "", boom
			}
			return "ok", nil
		}

		req := &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}}
		if _, err := c.Chat(context.Background(), req); err != nil {
			t.Fatalf("first call: %v", err)
		}
		if _, err := c.Chat(context.Background(), req); !errors.Is(err, boom) {
			t.Fatalf("second call: expected boom, got %v", err)
		}
	})

	t.Run("tracks peak concurrency", func(t *testing.T) {
		c := NewMockClient()
		c.Latency = 30 * time.Millisecond

		var wg sync.WaitGroup
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.Chat(context.Background(), &ChatRequest{})
			}()
		}
		wg.Wait()

		if c.MaxInFlight() < 2 {
			t.Errorf("MaxInFlight = %d, want >= 2", c.MaxInFlight())
		}
		c.Reset()
		if c.RequestCount() != 0 || c.MaxInFlight() != 0 {
			t.Error("Reset should clear counters")
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		c := NewMockClient()
		c.Latency = time.Second
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if _, err := c.Chat(ctx, &ChatRequest{}); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestRateLimiter(t *testing.T) {
	t.Run("unlimited does not block", func(t *testing.T) {
		rl := NewRateLimiter(0)
		start := time.Now()
		for i := 0; i < 50; i++ {
			if err := rl.Wait(context.Background()); err != nil {
				t.Fatal(err)
			}
		}
		if time.Since(start) > 100*time.Millisecond {
			t.Error("unlimited limiter should not wait")
		}
		status := rl.Status()
		if status.TotalConsumed != 50 {
			t.Errorf("TotalConsumed = %d, want 50", status.TotalConsumed)
		}
		if status.TokensAvailable != 0 {
			t.Errorf("unlimited limiter should report 0 tokens, got %v", status.TokensAvailable)
		}
	})

	t.Run("spaces requests", func(t *testing.T) {
		rl := NewRateLimiter(1200) // one every 50ms
		start := time.Now()
		for i := 0; i < 3; i++ {
			rl.Wait(context.Background())
		}
		if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
			t.Errorf("expected spacing, elapsed %v", elapsed)
		}
	})

	t.Run("429 holds waiters", func(t *testing.T) {
		rl := NewRateLimiter(0)
		rl.Record429(80 * time.Millisecond)

		start := time.Now()
		rl.Wait(context.Background())
		if time.Since(start) < 70*time.Millisecond {
			t.Error("expected wait for retry-after window")
		}
		if rl.Status().Total429 != 1 {
			t.Error("expected 429 to be counted")
		}
	})

	t.Run("wait honors context", func(t *testing.T) {
		rl := NewRateLimiter(0)
		rl.Record429(time.Minute)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
	})
}

func TestAPIError(t *testing.T) {
	err := &APIError{Provider: "gemini", StatusCode: 429, Status: "RESOURCE_EXHAUSTED", Message: "quota"}
	if got := err.Error(); got != "gemini error (status 429 RESOURCE_EXHAUSTED): quota" {
		t.Errorf("Error() = %q", got)
	}

	wrapped := errors.Join(errors.New("outer"), err)
	if got, ok := AsAPIError(wrapped); !ok || got != err {
		t.Error("AsAPIError should unwrap joined errors")
	}
	if _, ok := AsAPIError(errors.New("plain")); ok {
		t.Error("plain error is not an APIError")
	}
}

func TestExtractRetryDelay(t *testing.T) {
	tests := map[string]time.Duration{
		"Quota exceeded. Please retry in 45.5s.":            45500 * time.Millisecond,
		`details: [{"retryDelay": "12s"}]`:                  12 * time.Second,
		"something else entirely":                          0,
		strings.Repeat("x", 10) + " please RETRY IN 2s now": 2 * time.Second,
	}
	for msg, want := range tests {
		if got := extractRetryDelay(msg); got != want {
			t.Errorf("extractRetryDelay(%q) = %v, want %v", msg, got, want)
		}
	}

	if got := parseRetryAfter("5"); got != 5*time.Second {
		t.Errorf("parseRetryAfter = %v", got)
	}
	if got := parseRetryAfter("soon"); got != 0 {
		t.Errorf("parseRetryAfter(invalid) = %v", got)
	}
}
