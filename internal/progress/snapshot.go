// Package progress persists resumable job snapshots.
package progress

import (
	"context"
	"maps"
	"time"

	"github.com/jackzampolin/novella/internal/knowledge"
)

// CurrentVersion is the snapshot layout version. Snapshots written with any
// other version are discarded on load.
const CurrentVersion = "1.0.1"

// ChunkState is the persisted part of a chunk. Chunk text is never saved;
// it is re-sliced from the document on resume.
type ChunkState struct {
	ID       string
	Order    int
	Status   string
	Summary  string
	Analysis string
	Error    string
}

// Snapshot is everything needed to resume a job.
type Snapshot struct {
	Version         string
	JobID           string
	Mode            string
	DocumentName    string
	DocumentPath    string // empty for uploads without a stored file
	Encoding        string
	Status          string
	Cursor          int
	LastCompleted   int
	TotalDiscovered int
	TotalToProcess  int
	ChunkSize       int
	Chunks          []ChunkState
	Entities        knowledge.Map
	Reports         map[string]string
	Error           string
	SavedAt         time.Time
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Chunks = append([]ChunkState(nil), s.Chunks...)
	cp.Entities = maps.Clone(s.Entities)
	cp.Reports = maps.Clone(s.Reports)
	return &cp
}

// Store saves, loads and clears snapshots keyed by job id. Save is best
// effort: failures are logged and never reach the caller.
type Store interface {
	Save(ctx context.Context, snap *Snapshot)
	Load(ctx context.Context, jobID string) (*Snapshot, bool)
	Clear(ctx context.Context, jobID string)
	List(ctx context.Context) ([]*Snapshot, error)
	Close() error
}

func key(jobID string) string {
	return "progress-" + jobID
}

// valid reports whether a loaded snapshot may be applied for jobID.
func valid(s *Snapshot, jobID string) bool {
	return s != nil && s.Version == CurrentVersion && s.JobID == jobID
}
