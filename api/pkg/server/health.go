package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/periscopehq/periscope/api/pkg/system"
)

// handleHealth reports overall service health: browser connectivity,
// session occupancy and process memory.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	count := s.registry.Count()
	max := s.registry.MaxSessions()

	status := "healthy"
	httpStatus := http.StatusOK
	switch {
	case !s.registry.Initialized():
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	case count >= max:
		status = "degraded"
	}

	system.WriteJSON(w, httpStatus, map[string]any{
		"status":         status,
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"sessions": map[string]any{
			"active": count,
			"max":    max,
		},
		"memory_mb":  mem.Alloc / 1024 / 1024,
		"goroutines": runtime.NumGoroutine(),
	})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	system.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.registry.Initialized() {
		system.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready"})
		return
	}
	system.WriteJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
