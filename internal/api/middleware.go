package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// requestLogger logs one line per request. Health checks are skipped, and
// the event stream is logged when it opens rather than when it ends, since
// it stays attached until the subscriber disconnects.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			next.ServeHTTP(w, r)
			return
		case "/api/v1/events":
			slog.Info("event stream opened",
				"feeds", r.URL.Query().Get("feeds"),
				"remote", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
			)
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"remote", r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
