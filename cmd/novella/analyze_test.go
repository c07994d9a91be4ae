package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackzampolin/novella/internal/analysis"
	"github.com/jackzampolin/novella/internal/config"
	"github.com/jackzampolin/novella/internal/home"
	"github.com/jackzampolin/novella/internal/jobs"
	"github.com/jackzampolin/novella/internal/providers"
	"github.com/jackzampolin/novella/internal/server"
	"github.com/jackzampolin/novella/internal/testutil"
)

const fastConfig = `
analysis:
  chunk_size_bytes: 1024
  full_concurrency: 1
  opening_delay_ms: 0
  full_delay_ms: 0
  rate_limit_cooldown_sec: 0
  retry:
    max_retries: 0
    initial_delay_ms: 0
    multiplier: 1
    max_jitter_ms: 0
`

func openRuntime(t *testing.T, dir string, llm providers.LLMClient) *server.Runtime {
	t.Helper()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(fastConfig), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cm, err := config.NewManager(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	h, err := home.New(dir)
	if err != nil {
		t.Fatalf("home: %v", err)
	}
	rt, err := server.OpenRuntime(context.Background(), server.RuntimeConfig{Home: h, ConfigManager: cm, LLM: llm})
	if err != nil {
		t.Fatalf("OpenRuntime() error = %v", err)
	}
	t.Cleanup(func() { rt.Close() })
	return rt
}

func TestAnalyzeFile_Completes(t *testing.T) {
	rt := openRuntime(t, t.TempDir(), testutil.NewNovelMock())
	novel := testutil.WriteNovel(t, "book.txt", 3, 1024)

	var progress bytes.Buffer
	opts := analyzeOptions{Mode: analysis.ModeFull, Interval: 5 * time.Millisecond}
	view, err := analyzeFile(context.Background(), rt.JobManager(), novel, opts, &progress)
	if err != nil {
		t.Fatalf("analyzeFile() error = %v", err)
	}
	if view.Status != jobs.StatusCompleted || view.Analyzed != 3 {
		t.Fatalf("status %s with %d analyzed, want completed with 3", view.Status, view.Analyzed)
	}

	var out bytes.Buffer
	printReports(&out, view)
	if !strings.Contains(out.String(), "# full-novel") || !strings.Contains(out.String(), "well-paced") {
		t.Errorf("unexpected report output:\n%s", out.String())
	}
	if !strings.Contains(progress.String(), "completed") {
		t.Errorf("progress never reported completion:\n%s", progress.String())
	}
}

func TestAnalyzeFile_InterruptThenResume(t *testing.T) {
	dir := t.TempDir()
	novel := testutil.WriteNovel(t, "book.txt", 4, 1024)

	// first run: chunk 2 blocks until the run is interrupted
	block := make(chan struct{})
	mock := testutil.NewNovelMock()
	mock.Respond = func(req *providers.ChatRequest, call int) (string, error) {
		if req.JSON && call == 3 {
			<-block
		}
		return testutil.NovelResponder(req, call)
	}
	rt := openRuntime(t, dir, mock)
	t.Cleanup(func() { close(block) })

	ctx, cancel := context.WithCancel(context.Background())
	opts := analyzeOptions{Mode: analysis.ModeFull, Interval: 5 * time.Millisecond}
	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for mock.RequestCount() < 3 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		cancel()
	}()
	var progress bytes.Buffer
	view, err := analyzeFile(ctx, rt.JobManager(), novel, opts, &progress)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if view.Status != jobs.StatusPausedAwaitResume || view.LastCompleted != 1 {
		t.Fatalf("status %s lastCompleted %d, want paused after chunk 1", view.Status, view.LastCompleted)
	}
	rt.Close()

	// second run in a new process state picks up after chunk 1
	mock2 := testutil.NewNovelMock()
	rt2 := openRuntime(t, dir, mock2)
	progress.Reset()
	view, err = analyzeFile(context.Background(), rt2.JobManager(), novel, opts, &progress)
	if err != nil {
		t.Fatalf("resume error = %v", err)
	}
	if !strings.Contains(progress.String(), "resuming book.txt after chunk 2") {
		t.Errorf("expected resume notice:\n%s", progress.String())
	}
	if view.Analyzed != 4 {
		t.Errorf("analyzed = %d, want 4", view.Analyzed)
	}
	chunkCalls := 0
	for _, req := range mock2.Requests() {
		if req.JSON {
			chunkCalls++
		}
	}
	if chunkCalls != 2 {
		t.Errorf("resumed run analyzed %d chunks, want the remaining 2", chunkCalls)
	}
}

func TestProgressLine(t *testing.T) {
	tests := []struct {
		name string
		view jobs.View
		want string
	}{
		{"analyzing", jobs.View{Status: jobs.StatusAnalyzing, Percent: 50, Analyzed: 2, TotalToProcess: 4, ChunkingDone: true}, "[ 50.0%] 2/4 chunks analyzed"},
		{"errored and eta", jobs.View{Status: jobs.StatusAnalyzing, Percent: 75, Analyzed: 2, Errored: 1, TotalToProcess: 4, ChunkingDone: true, ETA: 12 * time.Second}, "[ 75.0%] 2/4 chunks analyzed, 1 errored, about 12s left"},
		{"manual rate limit", jobs.View{Status: jobs.StatusPausedRateLimited}, "rate limited"},
		{"generating", jobs.View{Status: jobs.StatusGenerating}, "writing the final report"},
		{"other", jobs.View{Status: jobs.StatusPreparing}, "preparing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := progressLine(tt.view); got != tt.want {
				t.Errorf("progressLine() = %q, want %q", got, tt.want)
			}
		})
	}
}
