package upstream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"
)

// Request is one call to the build service.
type Request struct {
	Service     Service
	Method      string
	URL         string
	Body        []byte
	ContentType string
}

// Response is a 2xx answer from the build service.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// ContentType returns the response Content-Type header.
func (r *Response) ContentType() string { return r.Header.Get("Content-Type") }

// IsJSON reports whether the response declares a JSON body.
func (r *Response) IsJSON() bool { return isJSON(r.ContentType()) }

// Handler performs a Request. Transports and middlewares share the signature.
type Handler func(ctx context.Context, req *Request) (*Response, error)

// Middleware wraps a Handler.
type Middleware func(next Handler) Handler

// Chain composes middlewares left-to-right: the first one is outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Handler) Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// WithTimeout bounds every call to d. Zero disables it.
func WithTimeout(d time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (*Response, error) {
			if d > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}
			return next(ctx, req)
		}
	}
}

// WithRetry retries failed idempotent calls with exponential backoff.
// POST requests, 4xx answers and open circuits are never retried.
func WithRetry(maxRetries int, baseBackoff time.Duration, logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (*Response, error) {
			if req.Method != http.MethodGet && req.Method != http.MethodHead {
				return next(ctx, req)
			}
			var lastErr error
			for attempt := 0; attempt <= maxRetries; attempt++ {
				resp, err := next(ctx, req)
				if err == nil {
					return resp, nil
				}
				lastErr = err
				if ctx.Err() != nil || !retryable(err) {
					return nil, err
				}
				if attempt < maxRetries {
					wait := baseBackoff * (1 << uint(attempt))
					if logger != nil {
						logger.WarnContext(ctx, "upstream: retrying call",
							"service", req.Service,
							"attempt", attempt+1,
							"max_retries", maxRetries,
							"backoff_ms", wait.Milliseconds(),
							"error", err)
					}
					select {
					case <-ctx.Done():
						return nil, lastErr
					case <-time.After(wait):
					}
				}
			}
			return nil, lastErr
		}
	}
}

func retryable(err error) bool {
	var open *ErrCircuitOpen
	if errors.As(err, &open) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status >= 500 || se.Status == http.StatusTooManyRequests
	}
	return true
}

// Logging logs every call with its duration.
func Logging(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (*Response, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			dur := time.Since(start)
			if err != nil {
				logger.WarnContext(ctx, "upstream: call failed",
					"service", req.Service,
					"method", req.Method,
					"url", req.URL,
					"duration_ms", dur.Milliseconds(),
					"error", err)
			} else {
				logger.DebugContext(ctx, "upstream: call ok",
					"service", req.Service,
					"method", req.Method,
					"status", resp.Status,
					"duration_ms", dur.Milliseconds(),
					"response_bytes", len(resp.Body))
			}
			return resp, err
		}
	}
}

// Recovery converts a panic in a downstream handler into an error.
func Recovery(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (resp *Response, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "upstream: handler panic recovered",
						"service", req.Service,
						"panic", r,
						"stack", string(debug.Stack()))
					err = &ErrPanic{Value: r}
				}
			}()
			return next(ctx, req)
		}
	}
}
