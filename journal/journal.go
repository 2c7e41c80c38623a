// Package journal keeps an append-only record of build lifecycle events in
// SQLite: sessions started, polls, installs, failures and stale results.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/sitepreview/dbopen"
	"github.com/hazyhaar/sitepreview/idgen"
)

// Schema creates the journal table. Idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS build_events (
	event_id   TEXT PRIMARY KEY,
	session_id TEXT NOT NULL DEFAULT '',
	generation INTEGER NOT NULL DEFAULT 0,
	kind       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT '',
	message    TEXT NOT NULL DEFAULT '',
	assets     INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_build_events_session ON build_events(session_id, created_at);
`

// Kind classifies an event.
type Kind string

const (
	KindStarted   Kind = "started"
	KindMessage   Kind = "message"
	KindPoll      Kind = "poll"
	KindInstalled Kind = "installed"
	KindFailed    Kind = "failed"
	KindStale     Kind = "stale"
	KindCleared   Kind = "cleared"
)

// Event is one journal row.
type Event struct {
	EventID    string    `json:"event_id"`
	SessionID  string    `json:"session_id"`
	Generation uint64    `json:"generation"`
	Kind       Kind      `json:"kind"`
	Status     string    `json:"status,omitempty"`
	Message    string    `json:"message,omitempty"`
	Assets     int       `json:"assets,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Journal writes and reads build events.
type Journal struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Journal.
type Option func(*Journal)

// WithLogger sets the logger used for write failures.
func WithLogger(l *slog.Logger) Option {
	return func(j *Journal) { j.logger = l }
}

// WithIDGenerator sets the event id generator.
func WithIDGenerator(g idgen.Generator) Option {
	return func(j *Journal) { j.newID = g }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(j *Journal) { j.now = now }
}

// New wraps db. The schema must already be applied (see Init).
func New(db *sql.DB, opts ...Option) *Journal {
	j := &Journal{
		db:    db,
		newID: idgen.Prefixed("evt_", idgen.Default),
		now:   time.Now,
	}
	for _, o := range opts {
		o(j)
	}
	if j.logger == nil {
		j.logger = slog.Default()
	}
	return j
}

// Init applies Schema to db.
func Init(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("journal: init schema: %w", err)
	}
	return nil
}

// Record appends ev. Failures are logged and never returned: a broken
// journal must not stall a build.
func (j *Journal) Record(ctx context.Context, ev Event) {
	if ev.EventID == "" {
		ev.EventID = j.newID()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = j.now()
	}
	_, err := dbopen.Exec(ctx, j.db, `
		INSERT INTO build_events (
			event_id, session_id, generation, kind, status, message, assets, created_at
		) VALUES (?,?,?,?,?,?,?,?)`,
		ev.EventID, ev.SessionID, int64(ev.Generation), string(ev.Kind),
		ev.Status, ev.Message, ev.Assets, ev.CreatedAt.UnixMilli())
	if err != nil {
		j.logger.ErrorContext(ctx, "journal: record failed",
			"error", err, "kind", ev.Kind, "session_id", ev.SessionID)
	}
}

// List returns the most recent events, newest first. An empty sessionID
// lists every session. limit <= 0 defaults to 100.
func (j *Journal) List(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT event_id, session_id, generation, kind, status, message, assets, created_at
		FROM build_events`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			ev      Event
			gen     int64
			kind    string
			created int64
		)
		if err := rows.Scan(&ev.EventID, &ev.SessionID, &gen, &kind,
			&ev.Status, &ev.Message, &ev.Assets, &created); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		ev.Generation = uint64(gen)
		ev.Kind = Kind(kind)
		ev.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	return out, nil
}

// Prune deletes events older than maxAge and returns how many were removed.
func (j *Journal) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	cutoff := j.now().Add(-maxAge).UnixMilli()
	res, err := dbopen.Exec(ctx, j.db, `DELETE FROM build_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("journal: prune: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RunRetention prunes every interval until ctx is done.
func (j *Journal) RunRetention(ctx context.Context, maxAge, interval time.Duration) {
	if maxAge <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := j.Prune(ctx, maxAge)
			if err != nil {
				j.logger.Warn("journal: retention failed", "error", err)
				continue
			}
			if n > 0 {
				j.logger.Info("journal: pruned events", "deleted", n)
			}
		}
	}
}
