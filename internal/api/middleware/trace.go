package middleware

import (
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/phrazzld/quill/internal/api/shared"
	"github.com/phrazzld/quill/internal/platform/logger"
)

// NewTraceMiddleware assigns each request a trace id, attaches log (tagged
// with that id) to the request context and logs completion at debug level.
func NewTraceMiddleware(log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := shared.SetTraceID(r.Context())
			traceID := shared.GetTraceID(ctx)
			ctx = logger.WithAttrs(ctx, slog.String("trace_id", traceID))
			ctx = logger.WithLogger(ctx, log.With(slog.String("component", "api")))

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Header().Set("X-Trace-Id", traceID)
			start := time.Now()

			next.ServeHTTP(ww, r.WithContext(ctx))

			logger.FromContext(ctx).DebugContext(ctx, "request completed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)))
		})
	}
}
