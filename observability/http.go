package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// HTTPMetrics records the latency of every request, labelled with the chi
// route pattern, method and status code. Requests that match no route are
// labelled "unmatched".
func HTTPMetrics(mm *MetricsManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			mm.Observe(MetricHTTPDurationMs, float64(time.Since(start).Microseconds())/1000, "milliseconds",
				"route", route, "method", r.Method, "status", strconv.Itoa(status))
		})
	}
}
