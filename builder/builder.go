// Package builder drives one generation session against the build service
// and keeps the preview in step with it.
//
// Start opens a chat session and polls its build status. When the build
// completes the archive is downloaded, rehydrated and installed as the
// current preview. SendMessage asks for an edit of the same session and
// polls again; the previous preview stays visible until the new one
// replaces it. Every pipeline failure is reported on the preview status and
// retried on the poll interval, up to Config.MaxAttempts iterations.
package builder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/sitepreview/horosafe"
	"github.com/hazyhaar/sitepreview/idgen"
	"github.com/hazyhaar/sitepreview/journal"
	"github.com/hazyhaar/sitepreview/observability"
	"github.com/hazyhaar/sitepreview/preview"
	"github.com/hazyhaar/sitepreview/rehydrate"
	"github.com/hazyhaar/sitepreview/upstream"
)

var (
	ErrEmptyPrompt    = errors.New("builder: prompt is empty")
	ErrEmptyMessage   = errors.New("builder: message is empty")
	ErrNoSession      = errors.New("builder: no active session")
	ErrMissingSession = errors.New("builder: chat start returned no session id")
	ErrUpstream       = errors.New("builder: build service call failed")
)

// Status messages shown to the user.
const (
	MsgGathering       = "Gathering requirements..."
	MsgBuilding        = "Website build in progress..."
	MsgEditing         = "Website edit in progress..."
	MsgStartFailed     = "Failed to start requirements chat."
	MsgMissingSession  = "Missing chat session identifier."
	MsgInvalidSession  = "Invalid chat session identifier."
	MsgMessageFailed   = "Failed to send message to requirements agent."
	MsgPollFailed      = "Failed to check build status."
	MsgPreviewFailed   = "Failed to load website preview."
	MsgGaveUp          = "Stopped waiting for the website build."
	msgBuildStatusLead = "Build status: "
)

// Backend is the build service.
type Backend interface {
	ChatStart(ctx context.Context, body []byte) (*upstream.Response, error)
	ChatMessage(ctx context.Context, body []byte) (*upstream.Response, error)
	Status(ctx context.Context, sessionID string) (*upstream.PollResult, error)
	Zip(ctx context.Context, sessionID string) (*upstream.Archive, error)
}

// Recorder receives lifecycle events.
type Recorder interface {
	Record(ctx context.Context, ev journal.Event)
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, journal.Event) {}

// Observer receives pipeline measurements. Labels are key/value pairs.
type Observer interface {
	Observe(name string, value float64, unit string, labels ...string)
}

type nopObserver struct{}

func (nopObserver) Observe(string, float64, string, ...string) {}

// StartRequest opens a session. Prompt wins over Site when both are set;
// Config is forwarded to the build service untouched.
type StartRequest struct {
	Prompt string          `json:"prompt"`
	Site   *SiteConfig     `json:"site,omitempty"`
	Config json.RawMessage `json:"config,omitempty"`
}

// State is the view returned to callers.
type State struct {
	Preview   preview.State `json:"preview"`
	SessionID string        `json:"session_id,omitempty"`
	Polling   bool          `json:"polling"`
	Messages  []Message     `json:"messages"`
}

// Service is safe for concurrent use. Start, SendMessage and Reset are
// serialized; State never blocks on the build service.
type Service struct {
	backend  Backend
	previews *preview.Manager
	sink     rehydrate.ResourceSink
	recorder Recorder
	observer Observer
	logger   *slog.Logger
	cfg      Config
	render   *renderer
	newID    idgen.Generator
	now      func() time.Time

	op sync.Mutex // serializes Start, SendMessage, Reset

	mu       sync.Mutex
	session  string
	messages []Message
	cancel   context.CancelFunc
	done     chan struct{}

	life     context.Context
	shutdown context.CancelFunc
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithRecorder sets the journal recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithObserver sets the metrics sink for install timings and sizes.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// WithClock overrides time.Now for transcript timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service. Resources created during rehydration go to sink,
// which must be the sink the preview manager releases into.
func New(backend Backend, previews *preview.Manager, sink rehydrate.ResourceSink, cfg Config, opts ...Option) *Service {
	s := &Service{
		backend:  backend,
		previews: previews,
		sink:     sink,
		cfg:      cfg,
		render:   newRenderer(),
		newID:    idgen.UUIDv7(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.recorder == nil {
		s.recorder = nopRecorder{}
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	if s.cfg.PollInterval <= 0 {
		s.cfg.PollInterval = DefaultConfig().PollInterval
	}
	s.life, s.shutdown = context.WithCancel(context.Background())
	return s
}

// Close stops the poll loop. The preview is left as is.
func (s *Service) Close() {
	s.shutdown()
	s.stopLoop()
}

// Start resets the workspace and opens a new session.
func (s *Service) Start(ctx context.Context, req StartRequest) (*State, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" && req.Site != nil {
		prompt = BuildPrompt(*req.Site)
	}
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	s.op.Lock()
	defer s.op.Unlock()

	s.stopLoop()
	s.previews.Clear()
	s.mu.Lock()
	s.session = ""
	s.messages = nil
	s.mu.Unlock()
	s.appendMessage(RoleSystem, prompt)

	ticket := s.previews.Begin("")
	s.previews.Progress(ticket, MsgGathering)

	body, err := json.Marshal(struct {
		UserInput string          `json:"user_input"`
		Config    json.RawMessage `json:"config,omitempty"`
	}{prompt, req.Config})
	if err != nil {
		return nil, fmt.Errorf("builder: start: encode: %w", err)
	}

	resp, err := s.backend.ChatStart(ctx, body)
	if err != nil {
		s.previews.Fail(ticket, MsgStartFailed)
		s.record(ctx, ticket, journal.KindFailed, string(preview.StatusError), MsgStartFailed+" "+err.Error(), 0)
		return s.snapshot(), fmt.Errorf("%w: chat start: %w", ErrUpstream, err)
	}

	payload := upstream.Payload(resp.ContentType(), resp.Body)
	if msg := AgentMessage(payload); msg != "" {
		s.appendMessage(RoleAgent, msg)
	}
	sessionID := SessionID(payload)
	if sessionID == "" {
		s.previews.Fail(ticket, MsgMissingSession)
		s.record(ctx, ticket, journal.KindFailed, string(preview.StatusError), MsgMissingSession, 0)
		return s.snapshot(), ErrMissingSession
	}
	if err := horosafe.ValidateIdentifier(sessionID); err != nil {
		s.previews.Fail(ticket, MsgInvalidSession)
		s.record(ctx, ticket, journal.KindFailed, string(preview.StatusError), MsgInvalidSession, 0)
		return s.snapshot(), fmt.Errorf("%w: %w", ErrMissingSession, err)
	}

	s.mu.Lock()
	s.session = sessionID
	s.mu.Unlock()

	ticket = s.previews.Begin(sessionID)
	s.previews.Progress(ticket, MsgBuilding)
	s.record(ctx, ticket, journal.KindStarted, string(preview.StatusPending), prompt, 0)
	s.logger.InfoContext(ctx, "builder: session started", "session_id", sessionID, "generation", ticket.Generation)

	s.startLoop(ticket)
	return s.snapshot(), nil
}

// SendMessage asks the build service to edit the current site.
func (s *Service) SendMessage(ctx context.Context, text string) (*State, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	s.op.Lock()
	defer s.op.Unlock()

	s.mu.Lock()
	sessionID := s.session
	s.mu.Unlock()
	if sessionID == "" {
		return nil, ErrNoSession
	}

	s.stopLoop()
	s.appendMessage(RoleUser, text)
	ticket := s.previews.Begin(sessionID)
	s.previews.Progress(ticket, MsgBuilding)

	body, err := json.Marshal(map[string]string{
		"session_id": sessionID,
		"sessionId":  sessionID,
		"user_input": text,
		"message":    text,
	})
	if err != nil {
		return nil, fmt.Errorf("builder: message: encode: %w", err)
	}

	resp, callErr := s.backend.ChatMessage(ctx, body)
	if callErr != nil {
		s.previews.Fail(ticket, MsgMessageFailed)
		s.record(ctx, ticket, journal.KindFailed, string(preview.StatusError), MsgMessageFailed+" "+callErr.Error(), 0)
	} else {
		if msg := AgentMessage(upstream.Payload(resp.ContentType(), resp.Body)); msg != "" {
			s.appendMessage(RoleAgent, msg)
		}
		s.record(ctx, ticket, journal.KindMessage, string(preview.StatusPending), text, 0)
	}

	// The session may still have a build running, so poll either way.
	s.startLoop(ticket)
	if callErr != nil {
		return s.snapshot(), fmt.Errorf("%w: chat message: %w", ErrUpstream, callErr)
	}
	return s.snapshot(), nil
}

// Reset stops polling, clears the preview and forgets the session.
func (s *Service) Reset(ctx context.Context) *State {
	s.op.Lock()
	defer s.op.Unlock()

	s.stopLoop()
	s.mu.Lock()
	sessionID := s.session
	s.session = ""
	s.messages = nil
	s.mu.Unlock()
	s.previews.Clear()
	s.recorder.Record(ctx, journal.Event{SessionID: sessionID, Kind: journal.KindCleared, Status: string(preview.StatusIdle)})
	return s.snapshot()
}

// State returns the current view.
func (s *Service) State() *State {
	return s.snapshot()
}

func (s *Service) snapshot() *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]Message, len(s.messages))
	copy(msgs, s.messages)
	return &State{
		Preview:   s.previews.State(),
		SessionID: s.session,
		Polling:   s.cancel != nil && !isClosed(s.done),
		Messages:  msgs,
	}
}

func (s *Service) appendMessage(role Role, content string) {
	m := Message{
		ID:        s.newID(),
		Role:      role,
		Content:   content,
		Timestamp: s.now(),
	}
	if role == RoleAgent {
		m.HTML = s.render.render(content)
	}
	s.mu.Lock()
	s.messages = append(s.messages, m)
	s.mu.Unlock()
}

func (s *Service) record(ctx context.Context, t preview.Ticket, kind journal.Kind, status, msg string, assets int) {
	s.recorder.Record(context.WithoutCancel(ctx), journal.Event{
		SessionID:  t.SessionID,
		Generation: t.Generation,
		Kind:       kind,
		Status:     status,
		Message:    msg,
		Assets:     assets,
	})
}

func (s *Service) startLoop(t preview.Ticket) {
	ctx, cancel := context.WithCancel(s.life)
	done := make(chan struct{})
	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()
	go func() {
		defer close(done)
		s.run(ctx, t)
	}()
}

func (s *Service) stopLoop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func isClosed(ch chan struct{}) bool {
	if ch == nil {
		return true
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// run polls until the build completes and installs, the build service
// reports a terminal status, the ticket goes stale, ctx ends, or the attempt
// budget runs out. The first poll is immediate.
func (s *Service) run(ctx context.Context, t preview.Ticket) {
	log := s.logger.With("session_id", t.SessionID, "generation", t.Generation)
	completed := false
	timer := time.NewTimer(0)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if !s.previews.Fresh(t) {
			log.Debug("builder: ticket superseded, stopping poll loop")
			return
		}

		if !completed {
			var stop bool
			completed, stop = s.poll(ctx, log, t)
			if stop {
				return
			}
		}
		if completed && s.install(ctx, log, t) {
			return
		}

		if s.cfg.MaxAttempts > 0 && attempt >= s.cfg.MaxAttempts {
			if s.previews.Fail(t, MsgGaveUp) {
				s.record(ctx, t, journal.KindFailed, string(preview.StatusError), MsgGaveUp, 0)
			}
			log.Warn("builder: poll budget exhausted", "attempts", attempt)
			return
		}
		timer.Reset(s.cfg.PollInterval)
	}
}

// poll reports whether the build is complete and whether the loop must stop.
func (s *Service) poll(ctx context.Context, log *slog.Logger, t preview.Ticket) (completed, stop bool) {
	res, err := s.backend.Status(ctx, t.SessionID)
	if err != nil {
		if ctx.Err() != nil {
			return false, true
		}
		log.Warn("builder: poll failed", "error", err)
		if s.previews.Fail(t, MsgPollFailed) {
			s.record(ctx, t, journal.KindFailed, string(preview.StatusError), MsgPollFailed+" "+err.Error(), 0)
		}
		return false, errors.Is(err, upstream.ErrInvalidSession)
	}

	switch res.Status {
	case "completed", "complete":
		s.record(ctx, t, journal.KindPoll, res.Status, res.Message, 0)
		return true, false
	case "pending":
		s.previews.Progress(t, MsgBuilding)
		s.record(ctx, t, journal.KindPoll, res.Status, res.Message, 0)
		return false, false
	case "reactivated":
		s.previews.Progress(t, MsgEditing)
		s.record(ctx, t, journal.KindPoll, res.Status, res.Message, 0)
		return false, false
	default:
		msg := msgBuildStatusLead + res.Raw
		if s.previews.Fail(t, msg) {
			s.record(ctx, t, journal.KindFailed, res.Status, msg, 0)
		}
		log.Info("builder: terminal build status", "status", res.Raw)
		return false, true
	}
}

// install fetches, rehydrates and installs the site. It reports whether the
// loop is finished.
func (s *Service) install(ctx context.Context, log *slog.Logger, t preview.Ticket) bool {
	fail := func(stage string, err error) bool {
		log.Warn("builder: preview load failed", "stage", stage, "error", err)
		if s.previews.Fail(t, MsgPreviewFailed) {
			s.record(ctx, t, journal.KindFailed, string(preview.StatusError), MsgPreviewFailed+" "+err.Error(), 0)
		}
		return false
	}

	start := time.Now()
	archive, err := s.backend.Zip(ctx, t.SessionID)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		return fail("fetch", err)
	}

	res, err := rehydrate.FromArchive(archive.Data, s.sink, rehydrate.WithLogger(log))
	if err != nil {
		res.Release(s.sink)
		return fail("rehydrate", err)
	}

	snap, err := s.previews.Install(t, res)
	if errors.Is(err, preview.ErrStale) {
		s.record(ctx, t, journal.KindStale, "", err.Error(), 0)
		return true
	}
	if err != nil {
		res.Release(s.sink)
		return fail("install", err)
	}
	s.record(ctx, t, journal.KindInstalled, string(preview.StatusCompleted), snap.EntryPath, len(snap.Handles))
	s.observer.Observe(observability.MetricInstallDurationMs, float64(time.Since(start).Microseconds())/1000, "milliseconds")
	s.observer.Observe(observability.MetricArchiveBytes, float64(len(archive.Data)), "bytes")
	s.observer.Observe(observability.MetricAssetsCount, float64(len(snap.Handles)), "count")
	s.observer.Observe(observability.MetricUnresolvedCount, float64(len(snap.Unresolved)), "count")
	if len(snap.Unresolved) > 0 {
		log.Debug("builder: unresolved references", "count", len(snap.Unresolved))
	}
	return true
}
