package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/timshannon/badgerhold/v4"
)

// BadgerStore keeps snapshots in an embedded badger database.
type BadgerStore struct {
	store  *badgerhold.Store
	logger *slog.Logger
}

// OpenBadger opens (or creates) a snapshot database in dir. An empty dir
// opens an in-memory database.
func OpenBadger(dir string, logger *slog.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	options := badgerhold.DefaultOptions
	if dir == "" {
		options.InMemory = true
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create progress directory: %w", err)
		}
		options.Dir = dir
		options.ValueDir = dir
	}
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open progress store: %w", err)
	}
	logger.Debug("progress store opened", "dir", dir)
	return &BadgerStore{store: store, logger: logger}, nil
}

// Save upserts the snapshot.
func (s *BadgerStore) Save(_ context.Context, snap *Snapshot) {
	if snap == nil || snap.JobID == "" {
		return
	}
	if err := s.store.Upsert(key(snap.JobID), snap); err != nil {
		s.logger.Warn("failed to save progress", "job_id", snap.JobID, "error", err)
	}
}

// Load returns the snapshot for jobID. Incompatible snapshots are deleted.
func (s *BadgerStore) Load(ctx context.Context, jobID string) (*Snapshot, bool) {
	var snap Snapshot
	if err := s.store.Get(key(jobID), &snap); err != nil {
		if !errors.Is(err, badgerhold.ErrNotFound) {
			s.logger.Warn("failed to load progress", "job_id", jobID, "error", err)
		}
		return nil, false
	}
	if !valid(&snap, jobID) {
		s.logger.Warn("discarding incompatible progress snapshot",
			"job_id", jobID, "version", snap.Version, "want_version", CurrentVersion, "snapshot_job", snap.JobID)
		s.Clear(ctx, jobID)
		return nil, false
	}
	return &snap, true
}

// Clear removes the snapshot for jobID, if any.
func (s *BadgerStore) Clear(_ context.Context, jobID string) {
	if err := s.store.Delete(key(jobID), Snapshot{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		s.logger.Warn("failed to clear progress", "job_id", jobID, "error", err)
	}
}

// List returns every stored snapshot, most recently saved first.
func (s *BadgerStore) List(_ context.Context) ([]*Snapshot, error) {
	var snaps []Snapshot
	if err := s.store.Find(&snaps, badgerhold.Where("JobID").Ne("").SortBy("SavedAt").Reverse()); err != nil {
		return nil, fmt.Errorf("failed to list progress: %w", err)
	}
	out := make([]*Snapshot, len(snaps))
	for i := range snaps {
		out[i] = &snaps[i]
	}
	return out, nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.store.Close()
}

var _ Store = (*BadgerStore)(nil)
