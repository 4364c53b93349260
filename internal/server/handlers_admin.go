package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"narrative-core/internal/briefing"
	"narrative-core/internal/core"
)

// handleTriggerBriefing serves POST /admin/trigger-briefing?type&force&is_smoke.
// It returns {task_id} immediately and runs generation asynchronously, so the
// caller never blocks on an LLM round trip.
func (s *Server) handleTriggerBriefing(w http.ResponseWriter, r *http.Request) {
	if s.briefing == nil {
		respondError(w, http.StatusServiceUnavailable, "briefing generator is not configured")
		return
	}

	typeParam := r.URL.Query().Get("type")
	briefingType := core.BriefingType(typeParam)
	switch briefingType {
	case core.BriefingMorning, core.BriefingAfternoon, core.BriefingEvening:
	default:
		respondError(w, http.StatusBadRequest, "type must be one of morning, afternoon, evening")
		return
	}

	force := r.URL.Query().Get("force") == "true"
	isSmoke := r.URL.Query().Get("is_smoke") == "true"
	taskID := uuid.NewString()

	log := s.log.With().Str("task_id", taskID).Str("briefing_type", typeParam).Logger()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		b, err := s.briefing.Generate(ctx, time.Now().UTC(), briefing.Options{
			Type:    briefingType,
			Force:   force,
			IsSmoke: isSmoke,
		})
		if err != nil {
			log.Error().Err(err).Msg("triggered briefing generation failed")
			return
		}
		if b == nil {
			log.Info().Msg("triggered briefing skipped: already exists for period")
			return
		}
		log.Info().Str("briefing_id", b.ID).Msg("triggered briefing generation completed")
	}()

	respondJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

// handleCostSummary serves GET /admin/api-costs/summary.
func (s *Server) handleCostSummary(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		respondError(w, http.StatusServiceUnavailable, "cost ledger is not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"month_to_date_usd": s.ledger.MonthToDate(),
	})
}

// handleCostDaily serves GET /admin/api-costs/daily?days, one total per UTC
// calendar day over the requested window.
func (s *Server) handleCostDaily(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "persistence is not configured")
		return
	}
	days := queryInt(r, "days", 7, 1, 90)

	type dayTotal struct {
		Date string  `json:"date"`
		USD  float64 `json:"usd"`
	}
	totals := make([]dayTotal, 0, days)

	now := time.Now().UTC()
	for i := days - 1; i >= 0; i-- {
		dayStart := time.Date(now.Year(), now.Month(), now.Day()-i, 0, 0, 0, 0, time.UTC)
		dayEnd := dayStart.Add(24 * time.Hour)

		sum, err := s.store.CostRecords().SumCostBetween(r.Context(), dayStart, dayEnd)
		if err != nil {
			s.log.Error().Err(err).Msg("summing daily cost")
			respondError(w, http.StatusInternalServerError, "failed to compute daily costs")
			return
		}
		totals = append(totals, dayTotal{Date: dayStart.Format("2006-01-02"), USD: sum})
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"daily": totals})
}

// handleCostByModel serves GET /admin/api-costs/by-model?days.
func (s *Server) handleCostByModel(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "persistence is not configured")
		return
	}
	days := queryInt(r, "days", 30, 1, 365)
	since := time.Now().UTC().AddDate(0, 0, -days)

	byModel, err := s.store.CostRecords().SumByModelSince(r.Context(), since)
	if err != nil {
		s.log.Error().Err(err).Msg("summing cost by model")
		respondError(w, http.StatusInternalServerError, "failed to compute cost by model")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"by_model": byModel})
}

// handleCacheStats serves GET /admin/cache/stats: the LLM response cache's
// entry count.
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.llmCache == nil {
		respondError(w, http.StatusServiceUnavailable, "llm cache is not configured")
		return
	}
	count, oldest, err := s.llmCache.Stats(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("reading cache stats")
		respondError(w, http.StatusInternalServerError, "failed to read cache stats")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entry_count": count,
		"oldest":      oldest,
	})
}

// handleCacheClearExpired serves POST /admin/cache/clear-expired.
func (s *Server) handleCacheClearExpired(w http.ResponseWriter, r *http.Request) {
	if s.llmCache == nil {
		respondError(w, http.StatusServiceUnavailable, "llm cache is not configured")
		return
	}
	removed, err := s.llmCache.Purge(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("purging expired cache entries")
		respondError(w, http.StatusInternalServerError, "failed to clear expired cache entries")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"removed": removed})
}
