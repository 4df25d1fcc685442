package api

import (
	"net/http"
	"time"
)

func (s *Server) handleCompletionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.monitor.Stats(r.Context())
	if err != nil {
		writeTimerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleDetectMissedTimers runs one detection sweep on demand and returns
// what it found, so operators do not have to wait for the next tick.
func (s *Server) handleDetectMissedTimers(w http.ResponseWriter, r *http.Request) {
	missed, err := s.monitor.DetectOnce(r.Context())
	if err != nil {
		writeTimerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"missedCount": len(missed),
		"missed":      missed,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
}
