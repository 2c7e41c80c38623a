package shield

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/sitepreview/kit"
)

// TraceID tags each request with a random trace id. The id is stored in the
// request's kit.Caller, echoed in X-Trace-ID and attached to a per-request
// logger derived from logger (nil means slog.Default()).
func TraceID(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			base := logger
			if base == nil {
				base = slog.Default()
			}
			id := make([]byte, 4)
			rand.Read(id)
			traceID := hex.EncodeToString(id)

			ctx := kit.WithCaller(r.Context(), kit.Caller{
				Transport:  "http",
				TraceID:    traceID,
				RemoteAddr: ExtractIP(r),
			})
			w.Header().Set("X-Trace-ID", traceID)

			reqLogger := base.With(
				"trace_id", traceID,
				"method", r.Method,
				"path", r.URL.Path,
			)
			ctx = context.WithValue(ctx, LoggerKey, reqLogger)
			reqLogger.Debug("request", "remote_addr", r.RemoteAddr)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
