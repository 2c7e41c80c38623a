// Package kit holds the transport-neutral endpoint shape shared by the HTTP
// handlers and the MCP tools, plus the request-scoped context values.
package kit

import (
	"context"
	"log/slog"
	"time"
)

// Endpoint is one business operation: typed request in, response out.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint.
type Middleware func(next Endpoint) Endpoint

// Chain composes middlewares; the first one is outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Logging logs each call of the named endpoint with its duration and
// transport.
func Logging(logger *slog.Logger, name string) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			caller := CallerFrom(ctx)
			attrs := []any{
				"endpoint", name,
				"transport", caller.Transport,
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if caller.TraceID != "" {
				attrs = append(attrs, "trace_id", caller.TraceID)
			}
			if err != nil {
				logger.WarnContext(ctx, "endpoint failed", append(attrs, "error", err)...)
			} else {
				logger.DebugContext(ctx, "endpoint ok", attrs...)
			}
			return resp, err
		}
	}
}
