package kit

import "context"

// Caller identifies what triggered an operation. The HTTP stack fills it in
// shield.TraceID; MCP tools only set the transport.
type Caller struct {
	Transport  string // "http" or "mcp"
	TraceID    string
	RemoteAddr string
}

type callerKey struct{}

// WithCaller stores c in ctx, replacing any previous caller.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller stored in ctx. Transport is "http" when unset.
func CallerFrom(ctx context.Context) Caller {
	c, _ := ctx.Value(callerKey{}).(Caller)
	if c.Transport == "" {
		c.Transport = "http"
	}
	return c
}

// WithTransport overrides the transport of the caller in ctx.
func WithTransport(ctx context.Context, transport string) context.Context {
	c := CallerFrom(ctx)
	c.Transport = transport
	return WithCaller(ctx, c)
}
