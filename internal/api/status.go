package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/periphctl/internal/dispatch"
)

// SystemStatus is the /status document.
type SystemStatus struct {
	Timestamp     string         `json:"timestamp"`
	DeviceID      string         `json:"device_id"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	Dispatcher    dispatch.Stats `json:"dispatcher"`
	Modules       map[string]int `json:"modules"`
	Components    map[string]any `json:"components,omitempty"`
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
	ConnectedClients int    `json:"connected_clients"`
	EventsSent       uint64 `json:"events_sent"`
	EventsDropped    uint64 `json:"events_dropped"`
}

// handleStatus returns runtime, dispatcher and module statistics.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	status := SystemStatus{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		DeviceID:      s.deviceID,
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
			EventsSent:       s.hub.Sent(),
			EventsDropped:    s.hub.Dropped(),
		},
		Dispatcher: s.dispatcher.Stats(),
		Modules:    make(map[string]int),
	}

	// Modules by lifecycle state.
	for _, b := range s.dispatcher.Executor().Registry().Bindings() {
		status.Modules[b.Module.State().String()]++
	}

	if len(s.stats) > 0 {
		status.Components = make(map[string]any, len(s.stats))
		for name, fn := range s.stats {
			status.Components[name] = fn()
		}
	}

	writeJSON(w, http.StatusOK, status)
}
