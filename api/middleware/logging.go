package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/mostafizurRahaman/donation-app-server/pkg/logger"
)

var quietPaths = map[string]bool{
	"/metrics":      true,
	"/health/live":  true,
	"/health/ready": true,
}

// Logging writes one "request.complete" line per request: warn for 5xx,
// debug for health and metrics scrapes, info otherwise.
func Logging(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logg == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := logg.WithFields(r.Context(), map[string]any{
				"method": r.Method,
				"path":   r.URL.Path,
			})
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			done := map[string]any{
				"status":      status,
				"bytes":       ww.BytesWritten(),
				"duration_ms": time.Since(start).Milliseconds(),
			}
			if route := chi.RouteContext(r.Context()); route != nil && route.RoutePattern() != "" {
				done["route"] = route.RoutePattern()
			}
			ctx = logg.WithFields(ctx, done)

			switch {
			case status >= http.StatusInternalServerError:
				logg.Warn(ctx, "request.complete")
			case quietPaths[r.URL.Path]:
				logg.Debug(ctx, "request.complete")
			default:
				logg.Info(ctx, "request.complete")
			}
		})
	}
}
