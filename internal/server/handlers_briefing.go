package server

import (
	"net/http"

	"narrative-core/internal/core"
)

// handleBriefingLatest serves GET /briefing: the most recently generated
// briefing across all three daily slots.
func (s *Server) handleBriefingLatest(w http.ResponseWriter, r *http.Request) {
	var latest *core.Briefing
	for _, t := range []core.BriefingType{core.BriefingMorning, core.BriefingAfternoon, core.BriefingEvening} {
		b, err := s.store.Briefings().LatestByType(r.Context(), t)
		if err != nil {
			s.log.Error().Err(err).Str("type", string(t)).Msg("fetching latest briefing")
			respondError(w, http.StatusInternalServerError, "failed to fetch latest briefing")
			return
		}
		if b != nil && (latest == nil || b.GeneratedAt.After(latest.GeneratedAt)) {
			latest = b
		}
	}

	if latest == nil {
		placeholder := core.PlaceholderBriefing(core.BriefingMorning)
		respondJSON(w, http.StatusOK, map[string]interface{}{"briefing": placeholder})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"briefing": latest})
}

func (s *Server) handleBriefingMorning(w http.ResponseWriter, r *http.Request) {
	s.handleBriefingByType(w, r, core.BriefingMorning)
}

func (s *Server) handleBriefingAfternoon(w http.ResponseWriter, r *http.Request) {
	s.handleBriefingByType(w, r, core.BriefingAfternoon)
}

func (s *Server) handleBriefingEvening(w http.ResponseWriter, r *http.Request) {
	s.handleBriefingByType(w, r, core.BriefingEvening)
}

// handleBriefingByType serves /briefing/{morning,afternoon,evening}?date. A
// missing briefing for the requested slot returns a placeholder, not an
// error, tolerating a stale or missing briefing rather than failing the read.
func (s *Server) handleBriefingByType(w http.ResponseWriter, r *http.Request, t core.BriefingType) {
	date := r.URL.Query().Get("date")

	var b *core.Briefing
	var err error
	if date != "" {
		b, err = s.store.Briefings().ByTypeAndDate(r.Context(), t, date)
	} else {
		b, err = s.store.Briefings().LatestByType(r.Context(), t)
	}
	if err != nil {
		s.log.Error().Err(err).Str("type", string(t)).Msg("fetching briefing")
		respondError(w, http.StatusInternalServerError, "failed to fetch briefing")
		return
	}

	if b == nil {
		placeholder := core.PlaceholderBriefing(t)
		respondJSON(w, http.StatusOK, map[string]interface{}{"briefing": placeholder})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"briefing": b})
}
