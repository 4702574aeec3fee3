package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "counters.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_RunsMigrations(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.Health())
}

func TestSaveAndLatestSnapshot(t *testing.T) {
	s := openTestStore(t)

	empty, err := s.LatestSnapshot()
	require.NoError(t, err)
	assert.Equal(t, CounterSnapshot{}, empty)

	require.NoError(t, s.SaveSnapshot(CounterSnapshot{Queries: 10, Blocked: 3}))
	require.NoError(t, s.SaveSnapshot(CounterSnapshot{Queries: 20, Blocked: 5, Forwarded: 15}))

	latest, err := s.LatestSnapshot()
	require.NoError(t, err)
	assert.Equal(t, uint64(20), latest.Queries)
	assert.Equal(t, uint64(5), latest.Blocked)
	assert.Equal(t, uint64(15), latest.Forwarded)
}

func TestPrune_RemovesOldSnapshots(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveSnapshot(CounterSnapshot{Queries: 1}))
	require.NoError(t, s.Prune(0))

	latest, err := s.LatestSnapshot()
	require.NoError(t, err)
	assert.Equal(t, CounterSnapshot{}, latest)
}

func TestRecorder_SavesOnTick(t *testing.T) {
	s := openTestStore(t)

	calls := 0
	r := &Recorder{
		Store:    s,
		Interval: 10 * time.Millisecond,
		SnapshotFn: func() CounterSnapshot {
			calls++
			return CounterSnapshot{Queries: uint64(calls)}
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	r.Run(ctx)

	latest, err := s.LatestSnapshot()
	require.NoError(t, err)
	assert.Greater(t, latest.Queries, uint64(0))
}
