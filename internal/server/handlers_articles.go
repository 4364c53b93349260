package server

import "net/http"

// handleArticlesRecent serves GET /articles/recent?limit, a chronological
// list with no narrative filter.
func (s *Server) handleArticlesRecent(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20, 1, 100)
	articles, err := s.store.Articles().ListRecent(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("listing recent articles")
		respondError(w, http.StatusInternalServerError, "failed to list recent articles")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"articles": articles})
}
