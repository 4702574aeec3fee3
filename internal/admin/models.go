// Package admin implements the reduced management REST API: health,
// runtime statistics, and blocklist control.
package admin

import "time"

// StatusResponse is a simple liveness response.
type StatusResponse struct {
	Status string `json:"status"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CPUStats contains system CPU statistics.
type CPUStats struct {
	NumCPU      int     `json:"num_cpu"`
	UsedPercent float64 `json:"used_percent"`
	IdlePercent float64 `json:"idle_percent"`
}

// MemoryStats contains system memory statistics.
type MemoryStats struct {
	TotalMB     float64 `json:"total_mb"`
	FreeMB      float64 `json:"free_mb"`
	UsedMB      float64 `json:"used_mb"`
	UsedPercent float64 `json:"used_percent"`
}

// QueryStats mirrors server.StatsSnapshot for JSON serialization.
type QueryStats struct {
	Queries        uint64 `json:"queries"`
	Blocked        uint64 `json:"blocked"`
	Forwarded      uint64 `json:"forwarded"`
	UpstreamErrors uint64 `json:"upstream_errors"`
	ParseErrors    uint64 `json:"parse_errors"`
}

// StatsResponse is the /stats payload.
type StatsResponse struct {
	Uptime        string      `json:"uptime"`
	UptimeSeconds int64       `json:"uptime_seconds"`
	StartTime     time.Time   `json:"start_time"`
	CPU           CPUStats    `json:"cpu"`
	Memory        MemoryStats `json:"memory"`
	Queries       QueryStats  `json:"queries"`
}

// BlocklistReloadResponse reports the outcome of a blocklist reload.
type BlocklistReloadResponse struct {
	Entries int    `json:"entries"`
	Source  string `json:"source"`
}

// BlocklistLookupResponse reports whether a name is blocked.
type BlocklistLookupResponse struct {
	Name    string `json:"name"`
	Blocked bool   `json:"blocked"`
}
