// Package preview owns the current rehydrated site and the resources behind
// it.
//
// A Manager holds at most one Snapshot. Installing a new one releases the
// previous snapshot's handles first, so the sink never carries resources of
// two snapshots at once. Each rehydration is tagged with a Ticket obtained
// from Begin; a ticket superseded by a later Begin or by Clear can no longer
// install, and its result is released on the spot.
package preview

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/sitepreview/idgen"
	"github.com/hazyhaar/sitepreview/rehydrate"
)

// Status of the preview.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// ErrStale is returned by Install when the ticket has been superseded.
var ErrStale = errors.New("preview: stale result")

// ErrNoResult is returned by Install when given a nil result.
var ErrNoResult = errors.New("preview: nil result")

// Ticket identifies one in-flight rehydration.
type Ticket struct {
	SessionID  string `json:"session_id"`
	Generation uint64 `json:"generation"`
}

// Snapshot is one installed preview.
type Snapshot struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Generation  uint64    `json:"generation"`
	HTML        string    `json:"-"`
	EntryPath   string    `json:"entry_path"`
	Handles     []string  `json:"handles"`
	Unresolved  []string  `json:"unresolved,omitempty"`
	InstalledAt time.Time `json:"installed_at"`
}

// State is a read-only view of the manager.
type State struct {
	Status      Status    `json:"status"`
	Message     string    `json:"message,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	Generation  uint64    `json:"generation"`
	SnapshotID  string    `json:"snapshot_id,omitempty"`
	EntryPath   string    `json:"entry_path,omitempty"`
	LiveHandles int       `json:"live_handles"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Manager serializes every transition of the preview.
type Manager struct {
	mu sync.Mutex

	sink   rehydrate.ResourceSink
	logger *slog.Logger
	newID  idgen.Generator
	now    func() time.Time

	generation uint64 // last issued
	expected   uint64 // only this generation may install
	session    string
	current    *Snapshot
	status     Status
	message    string
	updated    time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates an idle Manager releasing resources into sink.
func NewManager(sink rehydrate.ResourceSink, opts ...Option) *Manager {
	m := &Manager{
		sink:   sink,
		newID:  idgen.Prefixed("snap_", idgen.UUIDv7()),
		now:    time.Now,
		status: StatusIdle,
	}
	for _, o := range opts {
		o(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.updated = m.now()
	return m
}

// Begin issues a ticket for a new rehydration of sessionID. Every earlier
// ticket becomes stale. The current snapshot stays visible.
func (m *Manager) Begin(sessionID string) Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	m.expected = m.generation
	m.session = sessionID
	m.status = StatusPending
	m.message = ""
	m.updated = m.now()
	return Ticket{SessionID: sessionID, Generation: m.generation}
}

// Fresh reports whether t may still install.
func (m *Manager) Fresh(t Ticket) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.freshLocked(t)
}

func (m *Manager) freshLocked(t Ticket) bool {
	return t.Generation != 0 && t.Generation == m.expected && t.SessionID == m.session
}

// Progress records a pending status message for t. Stale tickets are ignored.
func (m *Manager) Progress(t Ticket, msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.freshLocked(t) {
		return false
	}
	m.status = StatusPending
	m.message = msg
	m.updated = m.now()
	return true
}

// Install makes res the current snapshot. The previous snapshot's handles
// are released first. A stale ticket releases res instead and returns
// ErrStale.
func (m *Manager) Install(t Ticket, res *rehydrate.Result) (*Snapshot, error) {
	if res == nil {
		return nil, ErrNoResult
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.freshLocked(t) {
		n := len(res.Handles)
		res.Release(m.sink)
		m.logger.Info("preview: discarded stale result",
			"session_id", t.SessionID, "generation", t.Generation,
			"expected", m.expected, "released", n)
		return nil, fmt.Errorf("preview: install generation %d (expected %d): %w", t.Generation, m.expected, ErrStale)
	}

	m.releaseCurrentLocked()
	snap := &Snapshot{
		ID:          m.newID(),
		SessionID:   t.SessionID,
		Generation:  t.Generation,
		HTML:        res.HTML,
		EntryPath:   res.EntryPath,
		Handles:     append([]string(nil), res.Handles...),
		Unresolved:  append([]string(nil), res.Unresolved...),
		InstalledAt: m.now(),
	}
	// Ownership of the handles moves to the snapshot.
	res.Handles = nil
	m.current = snap
	m.status = StatusCompleted
	m.message = ""
	m.updated = snap.InstalledAt
	m.logger.Info("preview: installed",
		"snapshot_id", snap.ID, "session_id", snap.SessionID,
		"generation", snap.Generation, "assets", len(snap.Handles))
	return snap, nil
}

// Fail records an error for t and keeps the current snapshot. Stale tickets
// are ignored.
func (m *Manager) Fail(t Ticket, msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.freshLocked(t) {
		return false
	}
	m.status = StatusError
	m.message = msg
	m.updated = m.now()
	return true
}

// Clear releases the current snapshot, resets the status to idle and
// invalidates every outstanding ticket.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseCurrentLocked()
	m.generation++
	m.expected = m.generation
	m.session = ""
	m.status = StatusIdle
	m.message = ""
	m.updated = m.now()
}

func (m *Manager) releaseCurrentLocked() {
	if m.current == nil {
		return
	}
	for _, h := range m.current.Handles {
		m.sink.Release(h)
	}
	m.logger.Debug("preview: released snapshot",
		"snapshot_id", m.current.ID, "handles", len(m.current.Handles))
	m.current = nil
}

// Current returns a copy of the installed snapshot, or nil.
func (m *Manager) Current() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	cp := *m.current
	cp.Handles = append([]string(nil), m.current.Handles...)
	cp.Unresolved = append([]string(nil), m.current.Unresolved...)
	return &cp
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := State{
		Status:     m.status,
		Message:    m.message,
		SessionID:  m.session,
		Generation: m.expected,
		UpdatedAt:  m.updated,
	}
	if m.current != nil {
		st.SnapshotID = m.current.ID
		st.EntryPath = m.current.EntryPath
		st.LiveHandles = len(m.current.Handles)
	}
	return st
}
