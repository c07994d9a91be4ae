package analysis

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackzampolin/novella/internal/knowledge"
	"github.com/jackzampolin/novella/internal/llmcall"
	"github.com/jackzampolin/novella/internal/providers"
)

const validResponse = `{"summary":"Mei leaves the village.","analysis":"A quiet but effective hook.","entities":[{"name":"Mei","category":"character","context":"protagonist"}]}`

type captureRecorder struct {
	mu    sync.Mutex
	calls []llmcall.Call
}

func (r *captureRecorder) Record(call llmcall.Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *captureRecorder) snapshot() []llmcall.Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]llmcall.Call(nil), r.calls...)
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond, Multiplier: 2}
}

func newTestClient(t *testing.T, mock *providers.MockClient, rec Recorder) *Client {
	t.Helper()
	mock.Latency = 0
	c, err := New(Config{LLM: mock, Recorder: rec, Retry: fastRetry(), ConversationTurns: 2})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func rateLimited() error {
	return &providers.APIError{Provider: "mock", StatusCode: http.StatusTooManyRequests, Message: "slow down"}
}

func TestNew_RequiresLLM(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without LLM")
	}
}

func TestClient_AnalyzeChunk(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		mock := providers.NewMockClient()
		mock.ResponseText = validResponse
		rec := &captureRecorder{}
		c := newTestClient(t, mock, rec)

		res, err := c.AnalyzeChunk(context.Background(), Request{
			JobID: "job-1", Mode: ModeFull, Order: 2, Total: 6, Text: "chunk text",
			PreviousSummary: "earlier",
		})
		if err != nil {
			t.Fatalf("AnalyzeChunk() error = %v", err)
		}
		if res.Summary != "Mei leaves the village." || len(res.Entities) != 1 {
			t.Errorf("unexpected result %+v", res)
		}

		req := mock.Requests()[0]
		if !req.JSON {
			t.Error("chunk requests should ask for JSON")
		}
		user := req.Messages[len(req.Messages)-1].Content
		if !strings.Contains(user, "chunk 3 of 6") || !strings.Contains(user, "earlier") {
			t.Errorf("unexpected user prompt: %s", user)
		}

		calls := rec.snapshot()
		if len(calls) != 1 || !calls[0].Success || calls[0].ChunkOrder != 2 || calls[0].JobID != "job-1" {
			t.Errorf("unexpected call records %+v", calls)
		}
	})

	t.Run("rate limit retried then succeeds", func(t *testing.T) {
		mock := providers.NewMockClient()
		mock.Respond = func(_ *providers.ChatRequest, call int) (string, error) {
			if call <= 2 {
				return "", rateLimited()
			}
			return validResponse, nil
		}
		c := newTestClient(t, mock, nil)

		if _, err := c.AnalyzeChunk(context.Background(), Request{Mode: ModeFull, Total: 1}); err != nil {
			t.Fatalf("AnalyzeChunk() error = %v", err)
		}
		if mock.RequestCount() != 3 {
			t.Errorf("RequestCount = %d, want 3", mock.RequestCount())
		}
	})

	t.Run("rate limit exhausted after three retries", func(t *testing.T) {
		mock := providers.NewMockClient()
		mock.Respond = func(*providers.ChatRequest, int) (string, error) { return "", rateLimited() }
		rec := &captureRecorder{}
		c := newTestClient(t, mock, rec)

		_, err := c.AnalyzeChunk(context.Background(), Request{Mode: ModeFull, Total: 1})
		if KindOf(err) != KindRateLimit {
			t.Fatalf("expected rate-limit error, got %v", err)
		}
		if mock.RequestCount() != 4 {
			t.Errorf("RequestCount = %d, want 1 attempt + 3 retries", mock.RequestCount())
		}
		calls := rec.snapshot()
		if len(calls) != 4 || calls[3].Attempt != 4 || calls[3].ErrorKind != string(KindRateLimit) {
			t.Errorf("expected 4 recorded attempts, got %+v", calls)
		}
	})

	t.Run("auth is never retried", func(t *testing.T) {
		mock := providers.NewMockClient()
		mock.Respond = func(*providers.ChatRequest, int) (string, error) {
			return "", &providers.APIError{StatusCode: http.StatusUnauthorized}
		}
		c := newTestClient(t, mock, nil)

		_, err := c.AnalyzeChunk(context.Background(), Request{Mode: ModeFull, Total: 1})
		if KindOf(err) != KindAuth {
			t.Fatalf("expected auth error, got %v", err)
		}
		if mock.RequestCount() != 1 {
			t.Errorf("RequestCount = %d, want 1", mock.RequestCount())
		}
	})

	t.Run("malformed response is a transient chunk error", func(t *testing.T) {
		mock := providers.NewMockClient()
		mock.ResponseText = `{"summary": "only a summary"}`
		c := newTestClient(t, mock, nil)

		_, err := c.AnalyzeChunk(context.Background(), Request{Mode: ModeFull, Total: 1})
		if KindOf(err) != KindTransient || !errors.Is(err, ErrMalformedResponse) {
			t.Fatalf("expected transient malformed error, got %v", err)
		}
		if mock.RequestCount() != 1 {
			t.Errorf("parse failures must not be retried, got %d calls", mock.RequestCount())
		}
	})

	t.Run("cancellation aborts backoff", func(t *testing.T) {
		mock := providers.NewMockClient()
		mock.Respond = func(*providers.ChatRequest, int) (string, error) { return "", rateLimited() }
		mock.Latency = 0
		c, _ := New(Config{LLM: mock, Retry: RetryPolicy{MaxRetries: 3, InitialDelay: time.Hour, Multiplier: 2}})

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, err := c.AnalyzeChunk(ctx, Request{Mode: ModeFull, Total: 1})
		if KindOf(err) != KindCancelled {
			t.Fatalf("expected cancelled, got %v", err)
		}
		if time.Since(start) > time.Second {
			t.Error("cancellation did not interrupt the backoff wait")
		}
	})
}

func TestClient_Conversation(t *testing.T) {
	mock := providers.NewMockClient()
	mock.ResponseText = validResponse
	c := newTestClient(t, mock, nil)

	id := c.StartConversation(ModeOpening)
	for i := 0; i < 4; i++ {
		if _, err := c.AnalyzeChunk(context.Background(), Request{Mode: ModeOpening, Order: i, Total: 4, Conversation: id}); err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
	}

	reqs := mock.Requests()
	// system + 2 kept exchanges + new user turn
	if got := len(reqs[3].Messages); got != 1+4+1 {
		t.Errorf("fourth request has %d messages, want 6", got)
	}
	if got := len(reqs[0].Messages); got != 2 {
		t.Errorf("first request has %d messages, want 2", got)
	}
	if reqs[1].Messages[2].Role != providers.RoleAssistant {
		t.Error("history should alternate user and assistant turns")
	}

	c.EndConversation(id)
	if c.convs.len() != 0 {
		t.Error("EndConversation should release the handle")
	}
}

func TestClient_Synthesize(t *testing.T) {
	mock := providers.NewMockClient()
	mock.ResponseText = "  # Report\nGood book.  "
	c := newTestClient(t, mock, nil)

	text, err := c.Synthesize(context.Background(), SynthesisRequest{
		DocumentName: "The Long Road",
		Type:         ReportFullNovel,
		Summaries:    []knowledge.Summarized{{Order: 0, Summary: "first"}, {Order: 3, Summary: "fourth"}},
		Entities:     knowledge.Map{"Mei": {Name: "Mei", Category: "character"}},
	})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if text != "# Report\nGood book." {
		t.Errorf("text = %q", text)
	}

	user := mock.Requests()[0].Messages[1].Content
	for _, want := range []string{"[Chunk 1] first", "[Chunk 4] fourth", "Mei (character)", "All 2 analysed chunks"} {
		if !strings.Contains(user, want) {
			t.Errorf("synthesis prompt missing %q", want)
		}
	}

	if _, err := c.Synthesize(context.Background(), SynthesisRequest{Type: "bogus"}); err == nil {
		t.Error("expected error for unknown report type")
	}
}

func TestClient_Probe(t *testing.T) {
	mock := providers.NewMockClient()
	c := newTestClient(t, mock, nil)
	if err := c.Probe(context.Background()); err != nil {
		t.Fatalf("Probe() error = %v", err)
	}

	bad := providers.NewMockClient()
	bad.Respond = func(*providers.ChatRequest, int) (string, error) {
		return "", &providers.APIError{StatusCode: http.StatusForbidden}
	}
	err := c.WithLLM(bad).Probe(context.Background())
	if KindOf(err) != KindAuth {
		t.Fatalf("expected auth error, got %v", err)
	}
	if bad.RequestCount() != 1 {
		t.Errorf("probe should make exactly one call, got %d", bad.RequestCount())
	}
}
