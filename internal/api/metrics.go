package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/subsubl/hass-quixi-bridge/internal/infrastructure/mqtt"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	MQTT          MQTTMetrics    `json:"mqtt"`
	Sync          SyncMetrics    `json:"sync"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains broker link counters. Zero when MQTT is disabled.
type MQTTMetrics struct {
	Enabled bool `json:"enabled"`
	mqtt.Stats
}

// SyncMetrics contains sync engine counters.
type SyncMetrics struct {
	State          string `json:"state"`
	Sessions       uint64 `json:"sessions"`
	Backoffs       uint64 `json:"backoffs"`
	EventsApplied  uint64 `json:"events_applied"`
	EventsDropped  uint64 `json:"events_dropped"`
	Resyncs        uint64 `json:"resyncs"`
	CachedEntities int    `json:"cached_entities"`
}

const bytesPerMB = 1024 * 1024

// handleMetrics returns runtime and sync metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	stats := s.engine.Stats()

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / bytesPerMB,
			MemoryTotalMB: float64(memStats.TotalAlloc) / bytesPerMB,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Sync: SyncMetrics{
			State:          stats.State.String(),
			Sessions:       stats.Sessions,
			Backoffs:       stats.Backoffs,
			EventsApplied:  stats.EventsApplied,
			EventsDropped:  stats.EventsDropped,
			Resyncs:        stats.Resyncs,
			CachedEntities: stats.CachedEntities,
		},
	}

	if s.mqtt != nil {
		metrics.MQTT = MQTTMetrics{Enabled: true, Stats: s.mqtt.Stats()}
	}

	writeJSON(w, http.StatusOK, metrics)
}
