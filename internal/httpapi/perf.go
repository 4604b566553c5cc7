package httpapi

import "net/http"

// handlePerfLatency serves the rolling stage latency window. ?reset=1 clears
// it after the snapshot is taken.
func (s *Server) handlePerfLatency(w http.ResponseWriter, r *http.Request) {
	snapshot := s.metrics.LatencySnapshot()
	if r.URL.Query().Get("reset") == "1" {
		s.metrics.ResetLatency()
	}
	respondJSON(w, http.StatusOK, snapshot)
}
