package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackzampolin/novella/internal/analysis"
	"github.com/jackzampolin/novella/internal/document"
	"github.com/jackzampolin/novella/internal/progress"
)

func liveSettings(k int) Settings {
	s := testSettings(k)
	s.TickInterval = 2 * time.Millisecond
	return s
}

func newTestManager(t *testing.T, an Analyzer, store progress.Store, creds CredentialFunc) (*Manager, *memReports) {
	t.Helper()
	reports := &memReports{}
	m, err := NewManager(context.Background(), ManagerConfig{
		Analyzer:    an,
		Credentials: creds,
		Store:       store,
		Reports:     reports,
		Settings:    liveSettings(2),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(m.Shutdown)
	return m, reports
}

func writeNovel(t *testing.T, chunks int) (*document.Document, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "novel.txt")
	if err := os.WriteFile(path, []byte(strings.Repeat("word", chunks)), 0o644); err != nil {
		t.Fatal(err)
	}
	doc, err := document.Open(path, "")
	if err != nil {
		t.Fatal(err)
	}
	return doc, path
}

func TestManager_FullRun(t *testing.T) {
	an := &fakeAnalyzer{}
	store := progress.NewMemoryStore(nil)
	m, reports := newTestManager(t, an, store, nil)
	doc, path := writeNovel(t, 6)

	job, err := m.Start(context.Background(), StartRequest{Document: doc, Path: path, Mode: analysis.ModeFull})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if job.ID() != doc.Fingerprint("full") {
		t.Errorf("job id = %s", job.ID())
	}

	v := waitFor(t, job, "completion", func(v View) bool { return v.Status == StatusCompleted })
	if v.Analyzed != 6 || v.Percent != 100 {
		t.Errorf("analyzed = %d percent = %v", v.Analyzed, v.Percent)
	}
	if v.Reports[analysis.ReportFullNovel] == "" {
		t.Error("report missing from view")
	}
	if len(reports.reports) != 1 {
		t.Errorf("wrote %d reports", len(reports.reports))
	}
	if _, ok := store.Load(context.Background(), job.ID()); ok {
		t.Error("saved progress should be cleared on completion")
	}

	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not exit after completion")
	}
	if err := job.Pause(context.Background()); !errors.Is(err, ErrJobClosed) {
		t.Errorf("control after completion: %v", err)
	}
}

func TestManager_ConcurrentStartSameDocument(t *testing.T) {
	an := &fakeAnalyzer{gate: make(chan struct{})}
	m, _ := newTestManager(t, an, nil, nil)
	doc, path := writeNovel(t, 4)
	req := StartRequest{Document: doc, Path: path, Mode: analysis.ModeFull}

	const starts = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started []*Job
	)
	for i := 0; i < starts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := m.Start(context.Background(), req)
			if err != nil {
				if !errors.Is(err, ErrJobRunning) && !errors.Is(err, ErrJobClosed) {
					t.Errorf("Start() error = %v", err)
				}
				return
			}
			mu.Lock()
			started = append(started, job)
			mu.Unlock()
		}()
	}
	wg.Wait()

	current, err := m.Get(doc.Fingerprint("full"))
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, current, "analysis", func(v View) bool { return v.Status == StatusAnalyzing })

	for _, job := range started {
		if job == current {
			continue
		}
		select {
		case <-job.Done():
		case <-time.After(5 * time.Second):
			t.Error("replaced job is still running")
		}
	}
}

func TestManager_OpeningModeLimit(t *testing.T) {
	an := &fakeAnalyzer{}
	m, _ := newTestManager(t, an, nil, nil)
	s := liveSettings(1)
	s.MaxChunksOpening = 3
	m.SetSettings(s)

	doc, path := writeNovel(t, 8)
	job, err := m.Start(context.Background(), StartRequest{Document: doc, Path: path, Mode: analysis.ModeOpening})
	if err != nil {
		t.Fatal(err)
	}
	v := waitFor(t, job, "completion", func(v View) bool { return v.Status == StatusCompleted })

	if v.TotalDiscovered != 8 || v.TotalToProcess != 3 {
		t.Errorf("discovered = %d to process = %d", v.TotalDiscovered, v.TotalToProcess)
	}
	if got := an.orders(); !slices.Equal(got, []int{0, 1, 2}) {
		t.Errorf("orders = %v", got)
	}
	if synth := an.synthCalls(); len(synth) != 1 || synth[0].Type != analysis.ReportOpeningAssessment {
		t.Errorf("synthesis = %+v", synth)
	}
	if an.started != 1 || an.ended != 1 {
		t.Errorf("conversations started %d ended %d", an.started, an.ended)
	}
}

func TestManager_CredentialOverride(t *testing.T) {
	limited := &fakeAnalyzer{respond: func(req analysis.Request, _ int) (*analysis.Result, error) {
		if req.Order >= 2 {
			return nil, rateLimitErr()
		}
		return okResult(req.Order), nil
	}}
	fresh := &fakeAnalyzer{}
	creds := func(_ context.Context, key string) (Analyzer, error) {
		if key != "good-key" {
			return nil, &analysis.Error{Kind: analysis.KindAuth, Message: "API key invalid"}
		}
		return fresh, nil
	}
	store := progress.NewMemoryStore(nil)
	m, _ := newTestManager(t, limited, store, creds)
	m.SetSettings(liveSettings(1))
	doc, path := writeNovel(t, 5)
	ctx := context.Background()

	job, err := m.Start(ctx, StartRequest{Document: doc, Path: path, Mode: analysis.ModeFull})
	if err != nil {
		t.Fatal(err)
	}
	v := waitFor(t, job, "rate limit", func(v View) bool { return v.Status == StatusPausedRateLimited })
	if v.LastCompleted != 1 {
		t.Errorf("last completed = %d, want 1", v.LastCompleted)
	}

	if err := m.OverrideCredential(ctx, job.ID(), "bad-key"); err == nil {
		t.Fatal("bad key should be rejected")
	}
	if s := job.View().Status; s != StatusPausedRateLimited {
		t.Fatalf("status after bad key = %s", s)
	}

	if err := m.OverrideCredential(ctx, job.ID(), "good-key"); err != nil {
		t.Fatalf("OverrideCredential() error = %v", err)
	}
	waitFor(t, job, "completion", func(v View) bool { return v.Status == StatusCompleted })

	if got := fresh.orders(); !slices.Equal(got, []int{2, 3, 4}) {
		t.Errorf("orders with new key = %v", got)
	}
}

func TestManager_PauseResumeCancel(t *testing.T) {
	an := &fakeAnalyzer{gate: make(chan struct{})}
	m, _ := newTestManager(t, an, nil, nil)
	ctx := context.Background()

	doc, path := writeNovel(t, 4)
	job, err := m.Start(ctx, StartRequest{Document: doc, Path: path, Mode: analysis.ModeFull})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, job, "dispatch", func(v View) bool { return v.InFlight == 2 })

	if _, err := m.Start(ctx, StartRequest{Document: doc, Path: path, Mode: analysis.ModeFull}); !errors.Is(err, ErrJobRunning) {
		t.Errorf("second Start: %v", err)
	}

	if err := m.Pause(ctx, job.ID()); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	v := waitFor(t, job, "pause", func(v View) bool { return v.Status == StatusPausedAwaitResume })
	if v.InFlight != 0 {
		t.Errorf("in flight after pause = %d", v.InFlight)
	}

	close(an.gate)
	if err := m.Resume(ctx, job.ID()); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	waitFor(t, job, "completion", func(v View) bool { return v.Status == StatusCompleted })

	other, otherPath := writeNovel(t, 50)
	slow := &fakeAnalyzer{gate: make(chan struct{})}
	m.SetAnalyzer(slow)
	job2, err := m.Start(ctx, StartRequest{Document: other, Path: otherPath, Mode: analysis.ModeFull})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, job2, "dispatch", func(v View) bool { return v.InFlight > 0 })
	if err := m.Cancel(ctx, job2.ID()); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	select {
	case <-job2.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not exit after cancel")
	}
	if s := job2.View().Status; s != StatusCancelled {
		t.Errorf("status = %s", s)
	}

	if err := m.Pause(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown job: %v", err)
	}
}

func TestManager_RestoreAfterRestart(t *testing.T) {
	store := progress.NewMemoryStore(nil)
	ctx := context.Background()
	doc, path := writeNovel(t, 6)

	first := &fakeAnalyzer{respond: func(req analysis.Request, _ int) (*analysis.Result, error) {
		if req.Order == 3 {
			return nil, rateLimitErr()
		}
		return okResult(req.Order), nil
	}}
	m1, err := NewManager(ctx, ManagerConfig{Analyzer: first, Store: store, Settings: liveSettings(1)})
	if err != nil {
		t.Fatal(err)
	}
	job, err := m1.Start(ctx, StartRequest{Document: doc, Path: path, Mode: analysis.ModeFull})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, job, "rate limit", func(v View) bool { return v.Status == StatusPausedRateLimited })
	m1.Shutdown()

	snaps, err := m1.Snapshots(ctx)
	if err != nil || len(snaps) != 1 {
		t.Fatalf("snapshots = %v, %v", snaps, err)
	}
	if snaps[0].DocumentPath != path || snaps[0].LastCompleted != 2 {
		t.Errorf("snapshot = %+v", snaps[0])
	}

	second := &fakeAnalyzer{}
	m2, _ := newTestManager(t, second, store, nil)
	restored, err := m2.Restore(ctx, job.ID())
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	v := restored.View()
	if v.Status != StatusPausedAwaitResume || v.LastCompleted != 2 || v.Analyzed != 3 {
		t.Fatalf("restored view = %+v", v)
	}

	if err := m2.Resume(ctx, restored.ID()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, restored, "completion", func(v View) bool { return v.Status == StatusCompleted })
	got := second.orders()
	slices.Sort(got)
	if !slices.Equal(got, []int{3, 4, 5}) {
		t.Errorf("orders after restore = %v", got)
	}
	if synth := second.synthCalls(); len(synth) != 1 || len(synth[0].Summaries) != 6 {
		t.Errorf("synthesis = %+v", synth)
	}
	if _, err := m2.Restore(ctx, job.ID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("restore after completion: %v", err)
	}
}

func TestManager_StartRestoresSavedProgress(t *testing.T) {
	store := progress.NewMemoryStore(nil)
	ctx := context.Background()
	doc, path := writeNovel(t, 4)

	store.Save(ctx, &progress.Snapshot{
		Version:       progress.CurrentVersion,
		JobID:         doc.Fingerprint("full"),
		Mode:          "full",
		DocumentPath:  path,
		Status:        string(StatusAnalyzing),
		Cursor:        2,
		LastCompleted: 1,
		ChunkSize:     testChunkSize,
		Chunks: []progress.ChunkState{
			{ID: "a", Order: 0, Status: string(ChunkAnalyzed), Summary: "one"},
			{ID: "b", Order: 1, Status: string(ChunkAnalyzed), Summary: "two"},
		},
		SavedAt: time.Now(),
	})

	m, _ := newTestManager(t, &fakeAnalyzer{}, store, nil)
	job, err := m.Start(ctx, StartRequest{Document: doc, Path: path, Mode: analysis.ModeFull})
	if err != nil {
		t.Fatal(err)
	}
	if v := job.View(); v.Status != StatusPausedAwaitResume || v.TotalToProcess != 4 {
		t.Fatalf("view = %+v", v)
	}

	if err := m.DiscardSnapshot(ctx, job.ID()); !errors.Is(err, ErrJobRunning) {
		t.Errorf("discarding a paused job's progress should fail: %v", err)
	}
	if err := m.Cancel(ctx, job.ID()); err != nil {
		t.Fatal(err)
	}
	<-job.Done()

	fresh, err := m.Start(ctx, StartRequest{Document: doc, Path: path, Mode: analysis.ModeFull, Fresh: true})
	if err != nil {
		t.Fatal(err)
	}
	v := waitFor(t, fresh, "completion", func(v View) bool { return v.Status == StatusCompleted })
	if v.Analyzed != 4 {
		t.Errorf("fresh start analyzed %d chunks", v.Analyzed)
	}
}
