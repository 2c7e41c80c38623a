// Package api is the HTTP surface of the sitepreview server.
//
// It has three parts. The proxy routes forward the browser's calls to the
// build service with the JSON error contract the front-end expects. The
// build routes drive builder.Service. The preview routes serve the current
// rehydrated document and its asset handles.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/tdewolff/minify/v2"

	"github.com/hazyhaar/sitepreview/blob"
	"github.com/hazyhaar/sitepreview/builder"
	"github.com/hazyhaar/sitepreview/config"
	"github.com/hazyhaar/sitepreview/journal"
	"github.com/hazyhaar/sitepreview/observability"
	"github.com/hazyhaar/sitepreview/preview"
	"github.com/hazyhaar/sitepreview/shield"
	"github.com/hazyhaar/sitepreview/upstream"
)

// Proxy is the build service as seen by the proxy routes.
type Proxy interface {
	Parse(ctx context.Context, body []byte) (*upstream.Response, error)
	ChatStart(ctx context.Context, body []byte) (*upstream.Response, error)
	ChatMessage(ctx context.Context, body []byte) (*upstream.Response, error)
	Poll(ctx context.Context, sessionID string) (*upstream.Response, error)
	Zip(ctx context.Context, sessionID string) (*upstream.Archive, error)
	BreakerStates() map[upstream.Service]string
}

// EventLister reads the build journal.
type EventLister interface {
	List(ctx context.Context, sessionID string, limit int) ([]journal.Event, error)
}

// Deps are the collaborators of the HTTP surface. Journal, Metrics, MCP and
// Limiter are optional.
type Deps struct {
	Proxy    Proxy
	Builder  *builder.Service
	Previews *preview.Manager
	Blobs    *blob.Store
	Journal  EventLister
	Metrics  *observability.MetricsManager
	MCP      *mcp.Server
	Limiter  *shield.RateLimiter
	Preview  config.PreviewConfig
	MaxBody  int64
	Logger   *slog.Logger
}

// Server holds the route handlers.
type Server struct {
	deps     Deps
	logger   *slog.Logger
	minifier *minify.M
}

// New creates a Server.
func New(d Deps) *Server {
	s := &Server{deps: d, logger: d.Logger}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if d.MaxBody <= 0 {
		s.deps.MaxBody = 1 << 20
	}
	if d.Preview.Minify {
		s.minifier = newMinifier()
	}
	return s
}

// Routes returns the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(s.logger, s.deps.MaxBody) {
		r.Use(mw)
	}
	if s.deps.Metrics != nil {
		r.Use(observability.HTTPMetrics(s.deps.Metrics))
	}

	limited := func(h http.HandlerFunc) http.Handler {
		if s.deps.Limiter == nil {
			return h
		}
		return s.deps.Limiter.Middleware(h)
	}

	r.Get("/health", s.handleHealth)
	r.Get("/api/metrics", s.handleMetrics)

	r.Method(http.MethodPost, "/api/parse", limited(s.handleParse))
	r.Method(http.MethodPost, "/api/chat/start", limited(s.handleChatStart))
	r.Method(http.MethodPost, "/api/chat/message", limited(s.handleChatMessage))
	r.Get("/api/poll/", s.handleMissingSession)
	r.Get("/api/poll/{sessionId}", s.handlePoll)
	r.Get("/api/zip/", s.handleMissingSession)
	r.Get("/api/zip/{sessionId}", s.handleZip)

	r.Route("/api/build", func(r chi.Router) {
		r.Get("/", s.handleBuildState)
		r.Method(http.MethodPost, "/", limited(s.handleBuildStart))
		r.Method(http.MethodPost, "/message", limited(s.handleBuildMessage))
		r.Post("/reset", s.handleBuildReset)
		r.Get("/journal", s.handleJournal)
		r.Get("/events", s.handleBuildEvents)
	})

	r.Get("/preview", s.handlePreview)
	r.Handle(s.deps.Blobs.Prefix()+"*", s.deps.Blobs)

	if s.deps.MCP != nil {
		srv := s.deps.MCP
		r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil))
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.deps.Previews.State()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"preview":      st.Status,
		"live_handles": s.deps.Blobs.Live(),
		"blob_bytes":   s.deps.Blobs.Bytes(),
		"breakers":     s.deps.Proxy.BreakerStates(),
	})
}

// handleMetrics lists recorded datapoints: ?name=, ?since= (a duration such
// as 15m), ?limit=.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.deps.Metrics == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "metrics disabled"})
		return
	}
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		since = time.Now().Add(-d)
	}
	s.deps.Metrics.Flush()
	metrics, err := s.deps.Metrics.Query(r.Context(), r.URL.Query().Get("name"), since, queryInt(r, "limit", 500))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if metrics == nil {
		metrics = []observability.Metric{}
	}
	writeJSON(w, http.StatusOK, metrics)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
