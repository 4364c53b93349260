package server

import (
	"net/http"
	"time"

	"narrative-core/internal/core"
	"narrative-core/internal/signals"
)

// handleSignalsTrending serves GET /signals/trending. Query params:
// limit, min_score, entity_type, timeframe (seconds or a Go duration
// string).
func (s *Server) handleSignalsTrending(w http.ResponseWriter, r *http.Request) {
	if s.signals == nil {
		respondError(w, http.StatusServiceUnavailable, "signal detector is not configured")
		return
	}

	q := signals.Query{
		Limit:      queryInt(r, "limit", 20, 1, 100),
		MinScore:   queryFloat(r, "min_score", 0),
		EntityType: core.EntityType(r.URL.Query().Get("entity_type")),
		Timeframe:  queryDuration(r, "timeframe", 24*time.Hour),
	}

	result, err := s.signals.Compute(r.Context(), time.Now().UTC(), q)
	if err != nil {
		s.log.Error().Err(err).Msg("computing trending signals")
		respondError(w, http.StatusInternalServerError, "failed to compute signals")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"signals": result})
}
