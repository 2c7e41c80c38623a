// Package observability keeps SQLite-native metrics for the sitepreview
// server: request latency, preview install timings and periodic runtime
// samples.
//
// Call Init on the *sql.DB first, then pass it to NewMetricsManager.
// Datapoints are buffered and written in batches by a background loop; a
// failed batch is logged and dropped.
package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Metric names recorded by the server.
const (
	MetricHTTPDurationMs    = "http_request_duration_ms"
	MetricInstallDurationMs = "preview_install_duration_ms"
	MetricArchiveBytes      = "preview_archive_bytes"
	MetricAssetsCount       = "preview_assets_count"
	MetricUnresolvedCount   = "preview_unresolved_count"
	MetricGoroutinesCount   = "goroutines_count"
	MetricMemoryAllocMB     = "memory_alloc_mb"
	MetricGCCount           = "gc_count"
	MetricBlobLiveHandles   = "blob_live_handles"
	MetricBlobBytes         = "blob_bytes"
)

// Metric is a single timeseries datapoint.
type Metric struct {
	Name      string            `json:"name"`
	Timestamp time.Time         `json:"timestamp"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Unit      string            `json:"unit,omitempty"` // "milliseconds", "bytes", "count"
}

// MetricsManager buffers metrics and flushes them to SQLite in batches.
type MetricsManager struct {
	db            *sql.DB
	logger        *slog.Logger
	now           func() time.Time
	bufferSize    int
	flushInterval time.Duration

	mu     sync.Mutex
	buffer []Metric
	closed bool

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a MetricsManager.
type Option func(*MetricsManager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(mm *MetricsManager) { mm.logger = l }
}

// WithBufferSize flushes as soon as n datapoints are buffered.
func WithBufferSize(n int) Option {
	return func(mm *MetricsManager) {
		if n > 0 {
			mm.bufferSize = n
		}
	}
}

// WithFlushInterval sets the background flush period.
func WithFlushInterval(d time.Duration) Option {
	return func(mm *MetricsManager) {
		if d > 0 {
			mm.flushInterval = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(mm *MetricsManager) { mm.now = now }
}

// NewMetricsManager creates a manager and starts its flush loop. Defaults:
// 100 datapoints, 5s.
func NewMetricsManager(db *sql.DB, opts ...Option) *MetricsManager {
	mm := &MetricsManager{
		db:            db,
		now:           time.Now,
		bufferSize:    100,
		flushInterval: 5 * time.Second,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, o := range opts {
		o(mm)
	}
	if mm.logger == nil {
		mm.logger = slog.Default()
	}
	mm.buffer = make([]Metric, 0, mm.bufferSize)
	go mm.flushLoop()
	return mm
}

// Record queues m and writes the batch inline once the buffer is full. A
// zero timestamp is set to now. Datapoints recorded after Close are dropped.
func (mm *MetricsManager) Record(m Metric) {
	if m.Timestamp.IsZero() {
		m.Timestamp = mm.now()
	}
	mm.mu.Lock()
	if mm.closed {
		mm.mu.Unlock()
		return
	}
	mm.buffer = append(mm.buffer, m)
	var batch []Metric
	if len(mm.buffer) >= mm.bufferSize {
		batch = mm.takeLocked()
	}
	mm.mu.Unlock()

	mm.write(batch)
}

// Observe records a datapoint with labels given as key/value pairs. A
// trailing key without a value is ignored.
func (mm *MetricsManager) Observe(name string, value float64, unit string, labels ...string) {
	m := Metric{Name: name, Value: value, Unit: unit}
	if len(labels) >= 2 {
		m.Labels = make(map[string]string, len(labels)/2)
		for i := 0; i+1 < len(labels); i += 2 {
			m.Labels[labels[i]] = labels[i+1]
		}
	}
	mm.Record(m)
}

// Flush writes the buffered datapoints now.
func (mm *MetricsManager) Flush() {
	mm.mu.Lock()
	batch := mm.takeLocked()
	mm.mu.Unlock()
	mm.write(batch)
}

// Query returns datapoints newest first. An empty name matches every
// metric; a zero since is unbounded; limit <= 0 means 1000.
func (mm *MetricsManager) Query(ctx context.Context, name string, since time.Time, limit int) ([]Metric, error) {
	if limit <= 0 {
		limit = 1000
	}
	q := "SELECT metric_name, timestamp, value, labels, unit FROM metrics_timeseries WHERE 1=1"
	args := make([]any, 0, 3)
	if name != "" {
		q += " AND metric_name = ?"
		args = append(args, name)
	}
	if !since.IsZero() {
		q += " AND timestamp >= ?"
		args = append(args, since.UnixMilli())
	}
	q += " ORDER BY timestamp DESC, metric_id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := mm.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: query metrics: %w", err)
	}
	defer rows.Close()

	var out []Metric
	for rows.Next() {
		var (
			m      Metric
			ts     int64
			labels sql.NullString
			unit   sql.NullString
		)
		if err := rows.Scan(&m.Name, &ts, &m.Value, &labels, &unit); err != nil {
			return nil, fmt.Errorf("observability: scan metric: %w", err)
		}
		m.Timestamp = time.UnixMilli(ts)
		m.Unit = unit.String
		if labels.Valid {
			json.Unmarshal([]byte(labels.String), &m.Labels)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Cleanup deletes datapoints older than maxAge.
func (mm *MetricsManager) Cleanup(ctx context.Context, maxAge time.Duration) (int64, error) {
	threshold := mm.now().Add(-maxAge).UnixMilli()
	res, err := mm.db.ExecContext(ctx, "DELETE FROM metrics_timeseries WHERE timestamp < ?", threshold)
	if err != nil {
		return 0, fmt.Errorf("observability: cleanup metrics: %w", err)
	}
	return res.RowsAffected()
}

// RunRetention calls Cleanup every interval until ctx is done.
func (mm *MetricsManager) RunRetention(ctx context.Context, maxAge, interval time.Duration) {
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
			n, err := mm.Cleanup(ctx, maxAge)
			if err != nil {
				mm.logger.Warn("observability: retention failed", "error", err)
				continue
			}
			if n > 0 {
				mm.logger.Info("observability: pruned metrics", "deleted", n)
			}
		}
	}
}

// Close flushes what is buffered and stops the flush loop.
func (mm *MetricsManager) Close() error {
	mm.closeOnce.Do(func() {
		close(mm.stop)
		<-mm.done
	})
	return nil
}

func (mm *MetricsManager) takeLocked() []Metric {
	if len(mm.buffer) == 0 {
		return nil
	}
	batch := mm.buffer
	mm.buffer = make([]Metric, 0, mm.bufferSize)
	return batch
}

func (mm *MetricsManager) flushLoop() {
	defer close(mm.done)
	ticker := time.NewTicker(mm.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-mm.stop:
			mm.mu.Lock()
			mm.closed = true
			batch := mm.takeLocked()
			mm.mu.Unlock()
			mm.write(batch)
			return
		case <-ticker.C:
			mm.Flush()
		}
	}
}

func (mm *MetricsManager) write(batch []Metric) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := mm.db.BeginTx(ctx, nil)
	if err != nil {
		mm.logger.Error("observability metrics: begin tx", "error", err, "dropped", len(batch))
		return
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO metrics_timeseries (metric_name, timestamp, value, labels, unit) VALUES (?,?,?,?,?)`)
	if err != nil {
		tx.Rollback()
		mm.logger.Error("observability metrics: prepare", "error", err, "dropped", len(batch))
		return
	}
	defer stmt.Close()

	for _, m := range batch {
		var labels sql.NullString
		if len(m.Labels) > 0 {
			if b, err := json.Marshal(m.Labels); err == nil {
				labels = sql.NullString{String: string(b), Valid: true}
			}
		}
		if _, err := stmt.ExecContext(ctx, m.Name, m.Timestamp.UnixMilli(), m.Value, labels, m.Unit); err != nil {
			mm.logger.Error("observability metrics: insert", "error", err, "metric", m.Name)
		}
	}
	if err := tx.Commit(); err != nil {
		mm.logger.Error("observability metrics: commit", "error", err)
	}
}
