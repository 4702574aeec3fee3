package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CounterSnapshot mirrors server.StatsSnapshot without importing
// internal/server, keeping internal/store independent of the transport
// layer it reports on.
type CounterSnapshot struct {
	Queries        uint64
	Blocked        uint64
	Forwarded      uint64
	UpstreamErrors uint64
	ParseErrors    uint64
}

// SnapshotFunc produces the current counter values to persist.
type SnapshotFunc func() CounterSnapshot

// SaveSnapshot inserts a single counter snapshot row.
func (s *Store) SaveSnapshot(snap CounterSnapshot) error {
	_, err := s.conn.Exec(`
		INSERT INTO counter_snapshots (queries, blocked, forwarded, upstream_errors, parse_errors)
		VALUES (?, ?, ?, ?, ?)
	`, snap.Queries, snap.Blocked, snap.Forwarded, snap.UpstreamErrors, snap.ParseErrors)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recently saved snapshot, or the zero
// value if none has been saved yet.
func (s *Store) LatestSnapshot() (CounterSnapshot, error) {
	var snap CounterSnapshot
	row := s.conn.QueryRow(`
		SELECT queries, blocked, forwarded, upstream_errors, parse_errors
		FROM counter_snapshots ORDER BY id DESC LIMIT 1
	`)
	err := row.Scan(&snap.Queries, &snap.Blocked, &snap.Forwarded, &snap.UpstreamErrors, &snap.ParseErrors)
	if err == sql.ErrNoRows {
		return CounterSnapshot{}, nil
	}
	if err != nil {
		return CounterSnapshot{}, fmt.Errorf("latest snapshot: %w", err)
	}
	return snap, nil
}

// Prune deletes snapshots older than keep, bounding table growth for a
// long-running daemon.
func (s *Store) Prune(keep time.Duration) error {
	_, err := s.conn.Exec(`DELETE FROM counter_snapshots WHERE taken_at < ?`, time.Now().Add(-keep))
	if err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}
	return nil
}

// Recorder periodically snapshots a SnapshotFunc's output into the store
// until ctx is canceled.
type Recorder struct {
	Store      *Store
	Interval   time.Duration
	SnapshotFn SnapshotFunc
}

// Run blocks, saving a snapshot on every tick, until ctx is done.
func (r *Recorder) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = r.Store.SaveSnapshot(r.SnapshotFn())
		}
	}
}
