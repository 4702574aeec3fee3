// Package resolver implements the query bus consumer: it parses each
// incoming query, answers blocked names itself, and forwards everything
// else to the upstream DoH client.
package resolver

import (
	"context"
	"log/slog"

	"github.com/shroudns/shroudns/internal/blocklist"
	"github.com/shroudns/shroudns/internal/bus"
	"github.com/shroudns/shroudns/internal/dnswire"
)

// Upstream is the subset of upstream.Client the engine depends on.
type Upstream interface {
	Query(ctx context.Context, msg []byte) ([]byte, error)
}

// Stats receives counters the engine updates as it resolves queries. All
// methods must be safe for concurrent use.
type Stats interface {
	RecordQuery()
	RecordBlocked()
	RecordForwarded()
	RecordUpstreamError()
	RecordParseError()
}

// Engine drains the query bus and answers each entry, locally or via the
// upstream resolver.
type Engine struct {
	bus       *bus.Bus
	blocklist *blocklist.Blocklist
	upstream  Upstream
	stats     Stats
	logger    *slog.Logger
}

// New creates a resolver engine. stats may be nil, in which case counters
// are simply not recorded.
func New(b *bus.Bus, bl *blocklist.Blocklist, up Upstream, stats Stats, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if stats == nil {
		stats = noopStats{}
	}
	return &Engine{bus: b, blocklist: bl, upstream: up, stats: stats, logger: logger}
}

// Run drains the bus until ctx is canceled, spawning one goroutine per
// query so that upstream latency on one query never delays another.
func (e *Engine) Run(ctx context.Context) {
	for {
		entry, ok := e.bus.Receive(ctx)
		if !ok {
			return
		}
		go e.handle(ctx, entry)
	}
}

// handle resolves a single bus entry end to end. It sends exactly one
// reply, per the bus's single-send invariant, unless the reply channel is
// already unreadable (connection torn down), in which case the send is
// simply dropped.
func (e *Engine) handle(ctx context.Context, entry bus.Entry) {
	e.stats.RecordQuery()

	req, err := dnswire.ParseRequestBounded(entry.Query)
	if err != nil {
		e.stats.RecordParseError()
		e.reply(entry, entry.Query)
		return
	}

	for _, q := range req.Questions {
		if e.blocklist.Blocked(q.Name) {
			e.stats.RecordBlocked()
			e.reply(entry, e.buildRCodeResponse(req, dnswire.RCodeNXDomain))
			return
		}
	}

	e.stats.RecordForwarded()
	resp, err := e.upstream.Query(ctx, entry.Query)
	if err != nil {
		e.logger.Warn("upstream query failed", "error", err)
		e.stats.RecordUpstreamError()
		e.reply(entry, e.buildRCodeResponse(req, dnswire.RCodeServFail))
		return
	}

	e.reply(entry, resp)
}

func (e *Engine) buildRCodeResponse(req dnswire.Packet, rcode dnswire.RCode) []byte {
	resp := dnswire.BuildErrorResponse(req, uint16(rcode))
	b, err := resp.Marshal()
	if err != nil {
		// BuildErrorResponse only ever produces a header plus the original
		// question section, neither of which Marshal rejects; this is
		// reachable only if EncodeName chokes on a name the parser itself
		// already accepted.
		e.logger.Error("failed to marshal synthesized response", "error", err)
		return nil
	}
	return b
}

// reply delivers msg on entry.Reply. The send blocks if the sink is full,
// which is the resolver's share of the system's backpressure: a slow
// listener throttles its own handler tasks, not the rest of the proxy.
func (e *Engine) reply(entry bus.Entry, msg []byte) {
	entry.Reply <- msg
}

type noopStats struct{}

func (noopStats) RecordQuery()         {}
func (noopStats) RecordBlocked()       {}
func (noopStats) RecordForwarded()     {}
func (noopStats) RecordUpstreamError() {}
func (noopStats) RecordParseError()    {}
