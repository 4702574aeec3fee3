package server

import "sync/atomic"

// Stats collects resolver-wide query counters. All methods are safe for
// concurrent use and satisfy resolver.Stats.
type Stats struct {
	queries        atomic.Uint64
	blocked        atomic.Uint64
	forwarded      atomic.Uint64
	upstreamErrors atomic.Uint64
	parseErrors    atomic.Uint64
}

// NewStats creates an empty Stats collector.
func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) RecordQuery()         { s.queries.Add(1) }
func (s *Stats) RecordBlocked()       { s.blocked.Add(1) }
func (s *Stats) RecordForwarded()     { s.forwarded.Add(1) }
func (s *Stats) RecordUpstreamError() { s.upstreamErrors.Add(1) }
func (s *Stats) RecordParseError()    { s.parseErrors.Add(1) }

// StatsSnapshot is a point-in-time view of Stats, suitable for
// serialization by the admin API.
type StatsSnapshot struct {
	Queries        uint64 `json:"queries"`
	Blocked        uint64 `json:"blocked"`
	Forwarded      uint64 `json:"forwarded"`
	UpstreamErrors uint64 `json:"upstream_errors"`
	ParseErrors    uint64 `json:"parse_errors"`
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Queries:        s.queries.Load(),
		Blocked:        s.blocked.Load(),
		Forwarded:      s.forwarded.Load(),
		UpstreamErrors: s.upstreamErrors.Load(),
		ParseErrors:    s.parseErrors.Load(),
	}
}
