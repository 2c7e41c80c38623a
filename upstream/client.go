// Package upstream talks to the remote site-generation service.
//
// Five services are known: parse (prompt refinement), chat_start,
// chat_message, poll (build status) and zip (site archive). Each gets its own
// Handler chain built from composable middlewares:
//
//	recovery -> logging -> timeout -> circuit breaker -> retry -> HTTP
//
// Retries only apply to GET services. Session identifiers are validated
// before being placed in a URL path.
package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/hazyhaar/sitepreview/horosafe"
)

// Service names a remote endpoint.
type Service string

const (
	ServiceParse       Service = "parse"
	ServiceChatStart   Service = "chat_start"
	ServiceChatMessage Service = "chat_message"
	ServicePoll        Service = "poll"
	ServiceZip         Service = "zip"
)

// Services lists every known service.
var Services = []Service{ServiceParse, ServiceChatStart, ServiceChatMessage, ServicePoll, ServiceZip}

var servicePaths = map[Service]string{
	ServiceParse:       "/parse",
	ServiceChatStart:   "/chat/start",
	ServiceChatMessage: "/chat/message",
	ServicePoll:        "/poll",
	ServiceZip:         "/zip",
}

// DefaultBaseURL is used when neither an explicit URL nor a base is set.
const DefaultBaseURL = "http://127.0.0.1:8000"

// Config describes the build service endpoints and call policy.
type Config struct {
	BaseURL        string `yaml:"base_url"`
	ParseURL       string `yaml:"parse_url"`
	ChatStartURL   string `yaml:"chat_start_url"`
	ChatMessageURL string `yaml:"chat_message_url"`
	PollURL        string `yaml:"poll_url"`
	ZipURL         string `yaml:"zip_url"`

	Timeout          time.Duration `yaml:"timeout"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerReset     time.Duration `yaml:"breaker_reset"`
	MaxBody          int64         `yaml:"max_body"`
	MaxArchive       int64         `yaml:"max_archive"`

	// BlockPrivate rejects endpoints that resolve to private or loopback
	// addresses.
	BlockPrivate bool `yaml:"block_private"`
}

// DefaultConfig returns a Config pointing at DefaultBaseURL.
func DefaultConfig() Config {
	return Config{
		BaseURL:          DefaultBaseURL,
		Timeout:          30 * time.Second,
		MaxRetries:       2,
		RetryBackoff:     500 * time.Millisecond,
		BreakerThreshold: 5,
		BreakerReset:     30 * time.Second,
		MaxBody:          horosafe.MaxResponseBody,
		MaxArchive:       64 << 20,
	}
}

func (c Config) explicit(s Service) string {
	switch s {
	case ServiceParse:
		return c.ParseURL
	case ServiceChatStart:
		return c.ChatStartURL
	case ServiceChatMessage:
		return c.ChatMessageURL
	case ServicePoll:
		return c.PollURL
	case ServiceZip:
		return c.ZipURL
	}
	return ""
}

// Endpoint returns the URL of s without any session segment: the explicit
// URL when set, otherwise base + the service path.
func (c Config) Endpoint(s Service) string {
	if direct := strings.TrimSpace(c.explicit(s)); direct != "" {
		return strings.TrimRight(direct, "/")
	}
	base := strings.TrimSpace(c.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	return strings.TrimRight(base, "/") + servicePaths[s]
}

// Validate checks every endpoint.
func (c Config) Validate() error {
	for _, s := range Services {
		ep := c.Endpoint(s)
		if _, err := horosafe.CheckURL(ep); err != nil {
			return fmt.Errorf("upstream: %s endpoint: %w", s, err)
		}
		if c.BlockPrivate {
			if err := horosafe.ValidateURL(ep); err != nil {
				return fmt.Errorf("upstream: %s endpoint: %w", s, err)
			}
		}
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("upstream: max_retries must be >= 0")
	}
	return nil
}

// Client calls the build service.
type Client struct {
	cfg      Config
	logger   *slog.Logger
	http     *http.Client
	handlers map[Service]Handler
	breakers map[Service]*CircuitBreaker
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithHTTPClient sets the HTTP client used by the transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New validates cfg and builds one handler chain per service.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		cfg:      cfg,
		handlers: make(map[Service]Handler, len(Services)),
		breakers: make(map[Service]*CircuitBreaker, len(Services)),
	}
	for _, o := range opts {
		o(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.http == nil {
		c.http = &http.Client{}
	}

	for _, s := range Services {
		limit := cfg.MaxBody
		if s == ServiceZip {
			limit = cfg.MaxArchive
		}
		cb := NewCircuitBreaker(
			WithBreakerThreshold(cfg.BreakerThreshold),
			WithBreakerResetTimeout(cfg.BreakerReset),
		)
		c.breakers[s] = cb
		c.handlers[s] = Chain(
			Recovery(c.logger),
			Logging(c.logger),
			WithTimeout(cfg.Timeout),
			WithCircuitBreaker(cb, s),
			WithRetry(cfg.MaxRetries, cfg.RetryBackoff, c.logger),
		)(HTTPTransport(c.http, limit))
	}
	return c, nil
}

// Config returns the client configuration.
func (c *Client) Config() Config { return c.cfg }

// BreakerStates reports the breaker state of every service.
func (c *Client) BreakerStates() map[Service]string {
	out := make(map[Service]string, len(c.breakers))
	for s, cb := range c.breakers {
		out[s] = cb.State().String()
	}
	return out
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

func (c *Client) sessionURL(s Service, sessionID string) (string, error) {
	if err := horosafe.ValidateIdentifier(sessionID); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	return c.cfg.Endpoint(s) + "/" + url.PathEscape(sessionID), nil
}

func (c *Client) do(ctx context.Context, req *Request) (*Response, error) {
	return c.handlers[req.Service](ctx, req)
}

func (c *Client) post(ctx context.Context, s Service, body []byte) (*Response, error) {
	return c.do(ctx, &Request{
		Service:     s,
		Method:      http.MethodPost,
		URL:         c.cfg.Endpoint(s),
		Body:        body,
		ContentType: "application/json",
	})
}

// Parse forwards a prompt-refinement request.
func (c *Client) Parse(ctx context.Context, body []byte) (*Response, error) {
	return c.post(ctx, ServiceParse, body)
}

// ChatStart opens a generation session.
func (c *Client) ChatStart(ctx context.Context, body []byte) (*Response, error) {
	return c.post(ctx, ServiceChatStart, body)
}

// ChatMessage sends a follow-up instruction to an open session.
func (c *Client) ChatMessage(ctx context.Context, body []byte) (*Response, error) {
	return c.post(ctx, ServiceChatMessage, body)
}

// Poll fetches the raw build status document of a session.
func (c *Client) Poll(ctx context.Context, sessionID string) (*Response, error) {
	u, err := c.sessionURL(ServicePoll, sessionID)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, &Request{Service: ServicePoll, Method: http.MethodGet, URL: u})
}

// PollResult is a decoded build status.
type PollResult struct {
	// Status is lower-cased; "unknown" when absent or not a string.
	Status string `json:"status"`
	// Raw is the status as sent, used in diagnostics.
	Raw     string `json:"raw"`
	Message string `json:"message,omitempty"`
}

// Status polls sessionID and decodes the answer.
func (c *Client) Status(ctx context.Context, sessionID string) (*PollResult, error) {
	resp, err := c.Poll(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return DecodePoll(resp.Body)
}

// DecodePoll decodes a build status document. Only the status and message
// fields are read; anything else the service adds is ignored.
func DecodePoll(body []byte) (*PollResult, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("upstream: poll: decode: %w", ErrMalformedStatus)
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return nil, fmt.Errorf("upstream: poll: decode: %w", ErrMalformedStatus)
	}
	res := &PollResult{Status: "unknown", Raw: "unknown"}
	switch st := doc.Get("status"); st.Type {
	case gjson.String:
		res.Status = strings.ToLower(st.Str)
		res.Raw = st.Str
	case gjson.Null:
	default:
		res.Raw = st.Raw
	}
	if m := doc.Get("message"); m.Type == gjson.String {
		res.Message = m.Str
	}
	return res, nil
}

// Archive is a downloaded site bundle.
type Archive struct {
	SessionID   string
	Data        []byte
	Disposition string // as sent by the service, may be empty
}

// ContentDisposition returns the service's disposition when it names a file
// and a generated attachment name otherwise.
func (a *Archive) ContentDisposition() string {
	if strings.Contains(a.Disposition, "filename") {
		return a.Disposition
	}
	return fmt.Sprintf("attachment; filename=%q", a.fallbackName())
}

// Filename returns the file name carried by the disposition, or the
// generated one.
func (a *Archive) Filename() string {
	if _, params, err := mime.ParseMediaType(a.Disposition); err == nil {
		if name := params["filename"]; name != "" {
			return name
		}
	}
	return a.fallbackName()
}

func (a *Archive) fallbackName() string {
	return "website-" + a.SessionID + ".zip"
}

// Zip downloads the site archive of sessionID. Every failure wraps
// ErrArchiveFetchFailed.
func (c *Client) Zip(ctx context.Context, sessionID string) (*Archive, error) {
	u, err := c.sessionURL(ServiceZip, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArchiveFetchFailed, err)
	}
	resp, err := c.do(ctx, &Request{Service: ServiceZip, Method: http.MethodGet, URL: u})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArchiveFetchFailed, err)
	}
	return &Archive{
		SessionID:   sessionID,
		Data:        resp.Body,
		Disposition: resp.Header.Get("Content-Disposition"),
	}, nil
}
