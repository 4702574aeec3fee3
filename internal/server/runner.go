package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/shroudns/shroudns/internal/admin"
	"github.com/shroudns/shroudns/internal/blocklist"
	"github.com/shroudns/shroudns/internal/bus"
	"github.com/shroudns/shroudns/internal/config"
	"github.com/shroudns/shroudns/internal/resolver"
	"github.com/shroudns/shroudns/internal/store"
	"github.com/shroudns/shroudns/internal/upstream"
)

// Runner orchestrates startup, wiring, and graceful shutdown of every
// listener, the resolver engine, and the optional admin and store
// components.
type Runner struct {
	logger *slog.Logger
}

// NewRunner creates a new server runner with the given logger.
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger}
}

// Run builds the proxy from cfg and serves until a shutdown signal
// (SIGINT/SIGTERM) arrives or a listener fails.
func (r *Runner) Run(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	bl, err := r.loadBlocklist(cfg)
	if err != nil {
		return fmt.Errorf("load blocklist: %w", err)
	}

	up, err := upstream.New(upstream.Options{
		Endpoint:       cfg.Upstream.Endpoint,
		DialTimeout:    cfg.UpstreamDialTimeout(),
		RequestTimeout: cfg.UpstreamRequestTimeout(),
	})
	if err != nil {
		return fmt.Errorf("build upstream client: %w", err)
	}

	q := bus.New(bus.DefaultCapacity)
	stats := NewStats()
	engine := resolver.New(q, bl, up, stats, r.logger)

	var st *store.Store
	if cfg.Store.Enabled {
		st, err = store.Open(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()
	}

	errCh := make(chan error, 4)
	started := 0
	var listeners sync.WaitGroup

	go func() { engine.Run(ctx) }()

	if cfg.UDP.Enabled {
		udp := &UDPServer{Logger: r.logger, Bus: q, Sockets: cfg.UDP.Sockets}
		r.logger.Info("udp listening", "addr", cfg.UDP.Addr, "sockets", cfg.UDP.Sockets)
		listeners.Add(1)
		go func() { defer listeners.Done(); errCh <- udp.Run(ctx, cfg.UDP.Addr) }()
		started++
	}

	if cfg.TCP.Enabled {
		tcp := &TCPServer{
			Logger:        r.logger,
			Bus:           q,
			MaxConnsPerIP: cfg.TCP.MaxConnsPerIP,
			IdleTimeout:   cfg.TCPIdleTimeout(),
		}
		r.logger.Info("tcp listening", "addr", cfg.TCP.Addr)
		listeners.Add(1)
		go func() { defer listeners.Done(); errCh <- tcp.Run(ctx, cfg.TCP.Addr) }()
		started++
	}

	if cfg.DoH.Enabled {
		doh := &DoHServer{Logger: r.logger, Bus: q, CertPath: cfg.DoH.CertPath, KeyPath: cfg.DoH.KeyPath}
		r.logger.Info("doh listening", "addr", cfg.DoH.Addr)
		listeners.Add(1)
		go func() { defer listeners.Done(); errCh <- doh.Run(ctx, cfg.DoH.Addr) }()
		started++
	}

	var adminSrv *admin.Server
	if cfg.Admin.Enabled {
		adminSrv = admin.New(cfg.Admin.Host, cfg.Admin.Port, cfg.Admin.APIKey, bl, r.adminStatsFunc(stats), r.logger)
		r.logger.Info("admin api listening", "addr", adminSrv.Addr())
		go func() {
			if err := adminSrv.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("admin: %w", err)
			}
		}()
	}

	if st != nil {
		rec := &store.Recorder{
			Store:      st,
			Interval:   time.Minute,
			SnapshotFn: r.storeSnapshotFunc(stats),
		}
		go rec.Run(ctx)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		cancelRun()
	}

	if adminSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = adminSrv.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	listeners.Wait()
	q.Close()

	if started == 0 {
		r.logger.Warn("no listeners enabled")
	}

	return runErr
}

// loadBlocklist builds and populates the blocklist from cfg, understanding
// the configured format ("auto", "hosts", "domains", "adblock").
func (r *Runner) loadBlocklist(cfg *config.Config) (*blocklist.Blocklist, error) {
	bl := blocklist.New()
	if cfg.Blocklist.Path == "" {
		return bl, nil
	}

	format := parseBlocklistFormat(cfg.Blocklist.Format)
	if format == blocklist.FormatHosts {
		if err := bl.Load(cfg.Blocklist.Path); err != nil {
			return nil, err
		}
	} else if err := bl.LoadFormat(cfg.Blocklist.Path, format); err != nil {
		return nil, err
	}

	r.logger.Info("blocklist loaded", "path", cfg.Blocklist.Path, "entries", bl.Len())
	return bl, nil
}

func parseBlocklistFormat(s string) blocklist.Format {
	switch s {
	case "domains":
		return blocklist.FormatDomains
	case "adblock":
		return blocklist.FormatAdblock
	case "auto":
		return blocklist.FormatAuto
	default:
		return blocklist.FormatHosts
	}
}

func (r *Runner) adminStatsFunc(stats *Stats) admin.StatsFunc {
	return func() admin.QueryStats {
		snap := stats.Snapshot()
		return admin.QueryStats{
			Queries:        snap.Queries,
			Blocked:        snap.Blocked,
			Forwarded:      snap.Forwarded,
			UpstreamErrors: snap.UpstreamErrors,
			ParseErrors:    snap.ParseErrors,
		}
	}
}

func (r *Runner) storeSnapshotFunc(stats *Stats) store.SnapshotFunc {
	return func() store.CounterSnapshot {
		snap := stats.Snapshot()
		return store.CounterSnapshot{
			Queries:        snap.Queries,
			Blocked:        snap.Blocked,
			Forwarded:      snap.Forwarded,
			UpstreamErrors: snap.UpstreamErrors,
			ParseErrors:    snap.ParseErrors,
		}
	}
}
