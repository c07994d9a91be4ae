package document

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// DefaultBatchSize is how many chunks travel in one chunk-batch event.
const DefaultBatchSize = 10

// EventKind names a chunking event.
type EventKind string

const (
	EventStarted    EventKind = "chunking-started"
	EventFirstChunk EventKind = "first-chunk"
	EventBatch      EventKind = "chunk-batch"
	EventProgress   EventKind = "progress"
	EventCompleted  EventKind = "completed"
	EventError      EventKind = "error"
)

// Piece is one chunk as delivered by the Chunker.
type Piece struct {
	ID    string
	Order int
	Text  string
}

// Event is emitted on the channel returned by Chunker.Run.
type Event struct {
	Kind            EventKind
	TotalDiscovered int
	TotalToProcess  int
	Chunks          []Piece
	Percent         float64
	Err             error
}

// Chunker splits a Document into chunks and streams them as events.
type Chunker struct {
	ChunkSize int
	BatchSize int
	Logger    *slog.Logger
}

// NewChunker returns a Chunker with default sizes.
func NewChunker(logger *slog.Logger) *Chunker {
	return &Chunker{ChunkSize: DefaultChunkSize, BatchSize: DefaultBatchSize, Logger: logger}
}

// Run streams the chunks of doc. limit caps how many chunks are delivered
// (0 delivers all). The channel is closed after a completed or error event,
// or when ctx is done.
func (c *Chunker) Run(ctx context.Context, doc *Document, limit int) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		c.run(ctx, doc, limit, out)
	}()
	return out
}

func (c *Chunker) run(ctx context.Context, doc *Document, limit int, out chan<- Event) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	size := c.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	batchSize := c.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	send := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if doc == nil || doc.Empty() {
		send(Event{Kind: EventError, Err: ErrNoContent})
		return
	}

	discovered := doc.ChunkCount(size)
	total := discovered
	if limit > 0 && total > limit {
		total = limit
	}
	logger.Debug("chunking document", "name", doc.Name, "bytes", doc.Len(), "chunks", discovered, "to_process", total)

	if !send(Event{Kind: EventStarted, TotalDiscovered: discovered, TotalToProcess: total}) {
		return
	}

	piece := func(order int) (Piece, error) {
		text, err := Rehydrate(doc, order, size)
		return Piece{ID: uuid.New().String(), Order: order, Text: text}, err
	}

	first, err := piece(0)
	if err != nil {
		send(Event{Kind: EventError, Err: err})
		return
	}
	if !send(Event{Kind: EventFirstChunk, Chunks: []Piece{first}}) {
		return
	}

	for start := 1; start < total; start += batchSize {
		end := min(start+batchSize, total)
		batch := make([]Piece, 0, end-start)
		for order := start; order < end; order++ {
			p, err := piece(order)
			if err != nil {
				send(Event{Kind: EventError, Err: err})
				return
			}
			batch = append(batch, p)
		}
		if !send(Event{Kind: EventBatch, Chunks: batch}) {
			return
		}
		if !send(Event{Kind: EventProgress, Percent: 100 * float64(end) / float64(total)}) {
			return
		}
	}

	send(Event{Kind: EventCompleted, TotalDiscovered: discovered, TotalToProcess: total, Percent: 100})
}
