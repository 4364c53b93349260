package server

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// requireAPIKey enforces the shared X-API-Key header on every /api/v1 route.
// An empty configured key disables the API entirely rather than leaving it
// open, failing closed when ADMIN_API_KEY is unset.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.APIKey == "" {
			s.log.Warn().Msg("API accessed but no api_key configured")
			respondError(w, http.StatusForbidden, "api is disabled: no api_key configured")
			return
		}

		if r.Header.Get("X-API-Key") != s.config.APIKey {
			s.log.Warn().Str("remote_addr", r.RemoteAddr).Msg("rejected request with invalid api key")
			respondError(w, http.StatusUnauthorized, "invalid or missing X-API-Key header")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// securityHeaders adds the baseline defensive headers to every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// zerologMiddleware is a chi request logger backed by zerolog, matching
// this codebase's structured-logging standard.
func zerologMiddleware(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(ww, r)

			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.status).
				Dur("duration", time.Since(start)).
				Msg("request handled")
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
