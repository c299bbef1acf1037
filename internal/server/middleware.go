package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/teemow/inboxpilot/internal/instrumentation"
	"github.com/teemow/inboxpilot/internal/logging"
)

// UserIDHeader carries the authenticated user.
const UserIDHeader = "X-User-ID"

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush keeps SSE streaming working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// withMetrics records http_requests_total per route pattern. Unmatched
// requests share one label value to bound cardinality.
func withMetrics(metrics *instrumentation.Metrics, logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		metrics.RecordHTTPRequest(r.Context(), r.Method, route, rec.status, elapsed)
		logger.Debug("request served",
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", rec.status),
			slog.Duration("duration", elapsed))
	})
}

// requireUser rejects requests without an authenticated user.
func requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(UserIDHeader) == "" {
			writeError(w, http.StatusUnauthorized, "missing "+UserIDHeader+" header")
			return
		}
		next(w, r)
	}
}

// requireSameUser additionally requires the {userID} path segment to be the
// authenticated user.
func requireSameUser(logger *slog.Logger, next func(w http.ResponseWriter, r *http.Request, userID string)) http.HandlerFunc {
	return requireUser(func(w http.ResponseWriter, r *http.Request) {
		userID := r.PathValue("userID")
		if userID != r.Header.Get(UserIDHeader) {
			logger.Warn("cross-user request rejected", logging.UserHash(r.Header.Get(UserIDHeader)), slog.String("route", r.Pattern))
			writeError(w, http.StatusForbidden, "requests may only target the authenticated user")
			return
		}
		next(w, r, userID)
	})
}
