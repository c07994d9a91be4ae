package providers

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestLiveProviders(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping live provider test in short mode")
	}
	cfg := LoadTestConfig()
	if !cfg.HasAnyLLM() {
		t.Skip("no provider API keys set")
	}

	r := NewRegistryFromConfig(cfg.ToRegistryConfig())
	for _, name := range r.ListLLM() {
		t.Run(name, func(t *testing.T) {
			client, _ := r.GetLLM(name)
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			result, err := client.Chat(ctx, &ChatRequest{
				Messages: []Message{
					{Role: RoleSystem, Content: "Reply with a JSON object."},
					{Role: RoleUser, Content: `Return {"ok": true}`},
				},
				JSON: true,
			})
			if err != nil {
				t.Fatalf("Chat() error = %v", err)
			}
			if !strings.Contains(result.Content, "ok") {
				t.Errorf("unexpected content %q", result.Content)
			}
		})
	}
}
