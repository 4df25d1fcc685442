package middleware

import (
	"net/http"
	"time"

	"github.com/SeongJinSong/kb-echotimer/internal/log"
)

// Logging emits one structured line per request after the handler returns,
// so the recorded latency covers the full handler chain below it.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		logger := log.WithComponentFromContext(r.Context(), "http")
		evt := logger.Info()
		if rw.statusCode >= 500 {
			evt = logger.Error()
		}
		if traceID, spanID := traceContext(r); traceID != "" {
			evt = evt.Str(log.FieldTraceID, traceID).Str(log.FieldSpanID, spanID)
		}
		evt.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rw.statusCode).
			Dur("duration", time.Since(start)).
			Str("remote_addr", r.RemoteAddr).
			Str(log.FieldEvent, "http.request").
			Msg("request handled")
	})
}
