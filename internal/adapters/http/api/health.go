package api

import (
	"net/http"

	"github.com/okian/stakerank/pkg/logger"
)

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// handleHealth serves GET /healthz. It reports 503 while the store is unreachable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Health(r.Context()); err != nil {
		s.logger.Warn(r.Context(), "health check failed", logger.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Error: ErrUnavailable.Error()})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// handleStats serves GET /stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	const op = "api.stats"
	stats, err := s.deps.GetStats(r.Context())
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
