package jobs

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackzampolin/novella/internal/analysis"
	"github.com/jackzampolin/novella/internal/document"
	"github.com/jackzampolin/novella/internal/knowledge"
	"github.com/jackzampolin/novella/internal/progress"
)

const testChunkSize = 4

// fakeAnalyzer answers chunk requests from respond, or with a canned result.
// With gate set, every analysis blocks until a value is sent on gate.
type fakeAnalyzer struct {
	respond  func(req analysis.Request, call int) (*analysis.Result, error)
	gate     chan struct{}
	synthErr error

	mu          sync.Mutex
	calls       []analysis.Request
	synth       []analysis.SynthesisRequest
	inFlight    int
	maxInFlight int
	started     int
	ended       int
}

func (f *fakeAnalyzer) AnalyzeChunk(ctx context.Context, req analysis.Request) (*analysis.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	call := len(f.calls)
	f.inFlight++
	f.maxInFlight = max(f.maxInFlight, f.inFlight)
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, &analysis.Error{Kind: analysis.KindCancelled, Err: ctx.Err()}
		}
	}
	if f.respond != nil {
		return f.respond(req, call)
	}
	return okResult(req.Order), nil
}

func (f *fakeAnalyzer) Synthesize(_ context.Context, req analysis.SynthesisRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synth = append(f.synth, req)
	if f.synthErr != nil {
		return "", f.synthErr
	}
	return fmt.Sprintf("# %s report", req.Type), nil
}

func (f *fakeAnalyzer) StartConversation(analysis.Mode) analysis.ConversationID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	return analysis.ConversationID(fmt.Sprintf("conv-%d", f.started))
}

func (f *fakeAnalyzer) EndConversation(analysis.ConversationID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended++
}

func (f *fakeAnalyzer) orders() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Order
	}
	return out
}

func (f *fakeAnalyzer) requests() []analysis.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]analysis.Request(nil), f.calls...)
}

func (f *fakeAnalyzer) synthCalls() []analysis.SynthesisRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]analysis.SynthesisRequest(nil), f.synth...)
}

func okResult(order int) *analysis.Result {
	return &analysis.Result{
		Summary:  fmt.Sprintf("summary %d", order),
		Analysis: fmt.Sprintf("analysis %d", order),
		Entities: []knowledge.Entity{{Name: "Mei", Context: fmt.Sprintf("seen in %d", order)}},
	}
}

func rateLimitErr() error {
	return &analysis.Error{Kind: analysis.KindRateLimit, Message: "rate limit persisted after 3 retries"}
}

func malformedErr() error {
	return &analysis.Error{Kind: analysis.KindTransient, Message: "chunk", Err: analysis.ErrMalformedResponse}
}

type memReports struct {
	mu      sync.Mutex
	reports map[string]string
}

func (m *memReports) WriteReport(jobID, reportType, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reports == nil {
		m.reports = make(map[string]string)
	}
	path := jobID + "/" + reportType + ".md"
	m.reports[path] = text
	return path, nil
}

func testDoc(t *testing.T, chunks int) *document.Document {
	t.Helper()
	doc, err := document.FromBytes("novel.txt", bytes.Repeat([]byte("word"), chunks), "")
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func testSettings(k int) Settings {
	return Settings{
		ChunkSize:       testChunkSize,
		BatchSize:       10,
		FullConcurrency: k,
		HistoryChunks:   5,
	}
}

// newTestJob builds a job that is analyzing n fully delivered chunks. The
// run loop is not started; tests drive advance and applyOutcome directly.
func newTestJob(t *testing.T, an Analyzer, mode analysis.Mode, n int, s Settings) (*Job, *progress.MemoryStore, *FakeClock) {
	t.Helper()
	store := progress.NewMemoryStore(nil)
	clock := NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	j, err := New(Config{ID: "job-test", Analyzer: an, Store: store, Clock: clock, Settings: s})
	if err != nil {
		t.Fatal(err)
	}
	doc := testDoc(t, n)
	j.mode = mode
	j.status = StatusAnalyzing
	j.doc = doc
	j.chunkSize = testChunkSize
	for order := 0; order < n; order++ {
		text, err := document.Rehydrate(doc, order, testChunkSize)
		if err != nil {
			t.Fatal(err)
		}
		j.addChunk(document.Piece{ID: fmt.Sprintf("c%d", order), Order: order, Text: text})
	}
	j.totalDiscovered = n
	j.totalToProcess = n
	j.chunkingDone = true
	t.Cleanup(func() { j.abortInFlight("") })
	return j, store, clock
}

// step runs one scheduler tick and applies one outcome. It reports false
// when nothing was in flight after the tick.
func step(t *testing.T, j *Job) bool {
	t.Helper()
	j.advance(j.clock.Now())
	if len(j.inFlight) == 0 {
		return false
	}
	select {
	case o := <-j.outcomes:
		j.applyOutcome(o)
	case <-time.After(5 * time.Second):
		t.Fatal("no chunk outcome")
	}
	return true
}

// settle drives the job until the scheduler stops, then applies the final
// report outcome if finalization started.
func settle(t *testing.T, j *Job) {
	t.Helper()
	for i := 0; i < 10000; i++ {
		if !step(t, j) {
			break
		}
	}
	if j.status == StatusGenerating {
		select {
		case f := <-j.finals:
			j.applyFinal(f)
		case <-time.After(5 * time.Second):
			t.Fatal("no final outcome")
		}
	}
}

func chunkStatuses(j *Job) []ChunkStatus {
	out := make([]ChunkStatus, len(j.chunks))
	for i, c := range j.chunks {
		out[i] = c.Status
	}
	return out
}

func waitFor(t *testing.T, j *Job, what string, cond func(View) bool) View {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if v := j.View(); cond(v) {
			return v
		}
		time.Sleep(2 * time.Millisecond)
	}
	v := j.View()
	t.Fatalf("timed out waiting for %s; status=%s error=%q", what, v.Status, v.Error)
	return v
}
