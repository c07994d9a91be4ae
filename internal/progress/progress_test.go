package progress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/novella/internal/knowledge"
)

func completedSnapshot(jobID string) *Snapshot {
	return &Snapshot{
		Version:         CurrentVersion,
		JobID:           jobID,
		Mode:            "full",
		DocumentName:    "novel.txt",
		DocumentPath:    "/tmp/novel.txt",
		Status:          "analyzing-chunks",
		Cursor:          3,
		LastCompleted:   2,
		TotalDiscovered: 3,
		TotalToProcess:  3,
		ChunkSize:       1024,
		Chunks: []ChunkState{
			{ID: "a", Order: 0, Status: "analyzed", Summary: "one", Analysis: "good"},
			{ID: "b", Order: 1, Status: "errored", Error: "malformed response"},
			{ID: "c", Order: 2, Status: "analyzed", Summary: "three", Analysis: "fine"},
		},
		Entities: knowledge.Map{
			"Mei": {Name: "Mei", Category: "character", Context: "lead", FirstSeen: 0, LastSeen: 2},
		},
		Reports: map[string]string{"full-novel": "# Report"},
		SavedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	b, err := OpenBadger("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	onDisk, err := OpenBadger(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { onDisk.Close() })

	return map[string]Store{
		"memory":      NewMemoryStore(nil),
		"badger":      b,
		"badger-disk": onDisk,
	}
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			want := completedSnapshot("job-1")
			store.Save(ctx, want)

			got, ok := store.Load(ctx, "job-1")
			require.True(t, ok)
			assert.Equal(t, want, got)

			// saving what was loaded changes nothing
			store.Save(ctx, got)
			again, ok := store.Load(ctx, "job-1")
			require.True(t, ok)
			assert.Equal(t, got, again)
		})
	}
}

func TestStore_Missing(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, ok := store.Load(ctx, "nope")
			assert.False(t, ok)
			store.Clear(ctx, "nope")
		})
	}
}

func TestStore_DiscardsIncompatible(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			old := completedSnapshot("job-old")
			old.Version = "0.9"
			store.Save(ctx, old)

			_, ok := store.Load(ctx, "job-old")
			assert.False(t, ok, "old version must not be applied")

			list, err := store.List(ctx)
			require.NoError(t, err)
			for _, s := range list {
				assert.NotEqual(t, "job-old", s.JobID, "incompatible snapshot should be deleted")
			}
		})
	}
}

func TestStore_ClearAndList(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			first := completedSnapshot("job-a")
			second := completedSnapshot("job-b")
			second.SavedAt = first.SavedAt.Add(time.Minute)
			store.Save(ctx, first)
			store.Save(ctx, second)

			list, err := store.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "job-b", list[0].JobID)

			store.Clear(ctx, "job-b")
			_, ok := store.Load(ctx, "job-b")
			assert.False(t, ok)

			list, err = store.List(ctx)
			require.NoError(t, err)
			assert.Len(t, list, 1)
		})
	}
}

func TestMemoryStore_Isolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	snap := completedSnapshot("job-1")
	store.Save(ctx, snap)

	snap.Chunks[0].Summary = "mutated"
	snap.Entities["Zed"] = knowledge.Entity{Name: "Zed"}

	got, ok := store.Load(ctx, "job-1")
	require.True(t, ok)
	assert.Equal(t, "one", got.Chunks[0].Summary)
	assert.NotContains(t, got.Entities, "Zed")
	assert.Equal(t, 1, store.Saves())
}

func TestSave_IgnoresEmptyJobID(t *testing.T) {
	store := NewMemoryStore(nil)
	store.Save(context.Background(), &Snapshot{Version: CurrentVersion})
	store.Save(context.Background(), nil)
	assert.Zero(t, store.Saves())
}
