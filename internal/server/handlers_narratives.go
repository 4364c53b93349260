package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleNarrativesActive serves GET /narratives/active?limit, ordered by
// velocity*article_count descending.
func (s *Server) handleNarrativesActive(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20, 1, 100)
	narratives, err := s.store.Narratives().ListActive(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("listing active narratives")
		respondError(w, http.StatusInternalServerError, "failed to list active narratives")
		return
	}

	sortByVelocityWeightedCount(narratives)
	respondJSON(w, http.StatusOK, map[string]interface{}{"narratives": narratives})
}

// handleNarrativesArchived serves GET /narratives/archived.
func (s *Server) handleNarrativesArchived(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20, 1, 100)
	narratives, err := s.store.Narratives().ListArchived(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("listing archived narratives")
		respondError(w, http.StatusInternalServerError, "failed to list archived narratives")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"narratives": narratives})
}

// handleNarrativesResurrections serves GET /narratives/resurrections.
func (s *Server) handleNarrativesResurrections(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20, 1, 100)
	narratives, err := s.store.Narratives().ListReactivated(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("listing reactivated narratives")
		respondError(w, http.StatusInternalServerError, "failed to list reactivated narratives")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"narratives": narratives})
}

// handleNarrativeByID serves GET /narratives/{id} with recent articles
// embedded.
func (s *Server) handleNarrativeByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	narrative, err := s.store.Narratives().Get(r.Context(), id)
	if err != nil {
		s.log.Error().Err(err).Str("narrative_id", id).Msg("fetching narrative")
		respondError(w, http.StatusInternalServerError, "failed to fetch narrative")
		return
	}
	if narrative == nil {
		respondError(w, http.StatusNotFound, "narrative not found")
		return
	}

	const embeddedArticleCount = 10
	articles, err := s.fetchArticlesByID(r.Context(), narrative.ArticleIDs, 0, embeddedArticleCount)
	if err != nil {
		s.log.Error().Err(err).Str("narrative_id", id).Msg("fetching embedded articles")
		respondError(w, http.StatusInternalServerError, "failed to fetch narrative articles")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"narrative": narrative,
		"articles":  articles,
	})
}

// handleNarrativeArticles serves GET /narratives/{id}/articles?offset&limit,
// limit clamped to [1,50]. Registered before handleNarrativeByID so
// chi matches the more specific route first.
func (s *Server) handleNarrativeArticles(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	narrative, err := s.store.Narratives().Get(r.Context(), id)
	if err != nil {
		s.log.Error().Err(err).Str("narrative_id", id).Msg("fetching narrative")
		respondError(w, http.StatusInternalServerError, "failed to fetch narrative")
		return
	}
	if narrative == nil {
		respondError(w, http.StatusNotFound, "narrative not found")
		return
	}

	offset := queryInt(r, "offset", 0, 0, len(narrative.ArticleIDs))
	limit := queryInt(r, "limit", 20, 1, 50)

	articles, err := s.fetchArticlesByID(r.Context(), narrative.ArticleIDs, offset, limit)
	if err != nil {
		s.log.Error().Err(err).Str("narrative_id", id).Msg("fetching paginated articles")
		respondError(w, http.StatusInternalServerError, "failed to fetch articles")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"articles": articles,
		"offset":   offset,
		"limit":    limit,
		"total":    len(narrative.ArticleIDs),
	})
}

