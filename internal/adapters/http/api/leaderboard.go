package api

import (
	"net/http"

	"github.com/okian/stakerank/internal/domain/leaderboard"
)

// handleLeaderboard serves GET /leaderboard?type=&limit=&offset=.
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	const op = "api.leaderboard"
	q := r.URL.Query()
	page, err := s.deps.Leaderboard(r.Context(), leaderboard.QueryParams{
		Type:   q.Get("type"),
		Limit:  q.Get("limit"),
		Offset: q.Get("offset"),
	})
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// handleEntry serves GET /leaderboard/{type}/{pubkey}.
func (s *Server) handleEntry(w http.ResponseWriter, r *http.Request) {
	const op = "api.entry"
	e, err := s.deps.Entry(r.Context(), r.PathValue("type"), r.PathValue("pubkey"))
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}
