package progress

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// MemoryStore keeps snapshots in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	snaps  map[string]*Snapshot
	saves  int
	logger *slog.Logger
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{snaps: make(map[string]*Snapshot), logger: logger}
}

func (s *MemoryStore) Save(_ context.Context, snap *Snapshot) {
	if snap == nil || snap.JobID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[key(snap.JobID)] = snap.Clone()
	s.saves++
}

func (s *MemoryStore) Load(_ context.Context, jobID string) (*Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[key(jobID)]
	if !ok {
		return nil, false
	}
	if !valid(snap, jobID) {
		s.logger.Warn("discarding incompatible progress snapshot", "job_id", jobID, "version", snap.Version)
		delete(s.snaps, key(jobID))
		return nil, false
	}
	return snap.Clone(), true
}

func (s *MemoryStore) Clear(_ context.Context, jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, key(jobID))
}

func (s *MemoryStore) List(_ context.Context) ([]*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Snapshot, 0, len(s.snaps))
	for _, snap := range s.snaps {
		out = append(out, snap.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SavedAt.After(out[j].SavedAt) })
	return out, nil
}

// Saves returns how many times Save has been called.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
