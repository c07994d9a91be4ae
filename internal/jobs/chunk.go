package jobs

// ChunkStatus is the state of one chunk.
type ChunkStatus string

const (
	ChunkQueued    ChunkStatus = "queued"
	ChunkReading   ChunkStatus = "reading"
	ChunkAnalyzing ChunkStatus = "analyzing"
	ChunkAnalyzed  ChunkStatus = "analyzed"
	ChunkErrored   ChunkStatus = "errored"
)

// Terminal reports whether the chunk is finished, successfully or not.
func (s ChunkStatus) Terminal() bool {
	return s == ChunkAnalyzed || s == ChunkErrored
}

// InFlight reports whether the chunk holds a concurrency slot.
func (s ChunkStatus) InFlight() bool {
	return s == ChunkReading || s == ChunkAnalyzing
}

// pausedSuffix marks chunks that were aborted by a pause.
const pausedSuffix = "(paused)"

// Chunk is one slice of the document and its analysis.
type Chunk struct {
	ID       string
	Order    int
	Status   ChunkStatus
	Summary  string
	Analysis string
	Error    string

	// Text is held only until the chunk is analyzed. Restored chunks start
	// without it and are re-sliced from the document on dispatch.
	Text string

	dispatch int // bumped on every dispatch to spot stale outcomes
}
