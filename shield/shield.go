// Package shield provides the HTTP middleware stack of the sitepreview
// server: security headers, body limits, request tracing, HEAD routing and
// per-client rate limiting.
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack(logger, 1<<20) {
//		r.Use(mw)
//	}
//	r.With(shield.NewRateLimiter(cfg.RateLimit).Middleware).Post("/api/build", h)
package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// GetLogger retrieves the per-request logger, or slog.Default().
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// DefaultStack returns the middleware applied to every route, outermost
// first: GetHead, SecurityHeaders, RequestSize, TraceID. GetHead needs a chi
// router, so the stack must be installed with chi's Use.
func DefaultStack(logger *slog.Logger, maxBody int64) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		middleware.GetHead,
		SecurityHeaders(DefaultHeaders()),
		middleware.RequestSize(maxBody),
		TraceID(logger),
	}
}
