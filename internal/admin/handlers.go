package admin

import (
	"log/slog"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/shroudns/shroudns/internal/blocklist"
)

// StatsFunc returns a snapshot of the resolver's query counters.
type StatsFunc func() QueryStats

// Handler holds the dependencies the management endpoints read from.
type Handler struct {
	logger    *slog.Logger
	startTime time.Time
	statsFn   StatsFunc

	mu        sync.RWMutex
	blocklist *blocklist.Blocklist
}

// NewHandler creates a Handler. statsFn may be nil, in which case /stats
// reports zeroed query counters.
func NewHandler(bl *blocklist.Blocklist, statsFn StatsFunc, logger *slog.Logger) *Handler {
	if statsFn == nil {
		statsFn = func() QueryStats { return QueryStats{} }
	}
	return &Handler{blocklist: bl, statsFn: statsFn, logger: logger, startTime: time.Now()}
}

// Healthz reports basic liveness.
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{Status: "ok"})
}

// Stats reports runtime and query statistics.
func (h *Handler) Stats(c *gin.Context) {
	uptime := time.Since(h.startTime)

	memStats := MemoryStats{}
	if vmStat, err := mem.VirtualMemory(); err == nil {
		memStats.TotalMB = float64(vmStat.Total) / 1024 / 1024
		memStats.FreeMB = float64(vmStat.Available) / 1024 / 1024
		memStats.UsedMB = float64(vmStat.Used) / 1024 / 1024
		memStats.UsedPercent = vmStat.UsedPercent
	}

	cpuStats := CPUStats{NumCPU: runtime.NumCPU()}
	if pct, err := cpu.Percent(200*time.Millisecond, false); err == nil && len(pct) > 0 {
		cpuStats.UsedPercent = pct[0]
		cpuStats.IdlePercent = 100.0 - pct[0]
	}

	c.JSON(http.StatusOK, StatsResponse{
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
		StartTime:     h.startTime,
		CPU:           cpuStats,
		Memory:        memStats,
		Queries:       h.statsFn(),
	})
}

// ReloadBlocklist re-reads the blocklist from its configured source.
func (h *Handler) ReloadBlocklist(c *gin.Context) {
	h.mu.RLock()
	bl := h.blocklist
	h.mu.RUnlock()

	if bl == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "blocklist not configured"})
		return
	}

	if err := bl.Reload(); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	path, _ := bl.Source()
	c.JSON(http.StatusOK, BlocklistReloadResponse{Entries: bl.Len(), Source: path})
}

// LookupBlocklist reports whether a single name is currently blocked.
func (h *Handler) LookupBlocklist(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "name query parameter is required"})
		return
	}

	h.mu.RLock()
	bl := h.blocklist
	h.mu.RUnlock()

	blocked := bl != nil && bl.Blocked(name)
	c.JSON(http.StatusOK, BlocklistLookupResponse{Name: name, Blocked: blocked})
}
