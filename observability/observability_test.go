package observability

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/sitepreview/dbopen"
)

func setupObsDB(t *testing.T) *sql.DB {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatal(err)
	}
	return db
}

func newManager(t *testing.T, db *sql.DB, opts ...Option) *MetricsManager {
	t.Helper()
	opts = append([]Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithFlushInterval(time.Hour),
	}, opts...)
	mm := NewMetricsManager(db, opts...)
	t.Cleanup(func() { mm.Close() })
	return mm
}

func TestInit_Idempotent(t *testing.T) {
	db := setupObsDB(t)
	if err := Init(db); err != nil {
		t.Fatalf("second Init: %v", err)
	}
}

func TestMetricsManager_RecordAndQuery(t *testing.T) {
	db := setupObsDB(t)
	mm := newManager(t, db)

	mm.Observe(MetricAssetsCount, 5, "count", "session", "s-1")
	mm.Observe(MetricArchiveBytes, 2048, "bytes")
	mm.Flush()

	all, err := mm.Query(context.Background(), "", time.Time{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d metrics, want 2", len(all))
	}

	got, err := mm.Query(context.Background(), MetricAssetsCount, time.Time{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Value != 5 || got[0].Unit != "count" || got[0].Labels["session"] != "s-1" {
		t.Fatalf("got %+v", got)
	}
}

func TestMetricsManager_FlushOnFullBuffer(t *testing.T) {
	db := setupObsDB(t)
	mm := newManager(t, db, WithBufferSize(3))

	for i := 0; i < 3; i++ {
		mm.Observe(MetricGCCount, float64(i), "count")
	}
	var n int
	db.QueryRow("SELECT COUNT(*) FROM metrics_timeseries").Scan(&n)
	if n != 3 {
		t.Fatalf("rows = %d, want 3 after full buffer", n)
	}
}

func TestMetricsManager_CloseFlushesAndDrops(t *testing.T) {
	db := setupObsDB(t)
	mm := newManager(t, db)

	mm.Observe(MetricBlobBytes, 1, "bytes")
	mm.Close()
	mm.Observe(MetricBlobBytes, 2, "bytes")
	mm.Close()

	var n int
	db.QueryRow("SELECT COUNT(*) FROM metrics_timeseries").Scan(&n)
	if n != 1 {
		t.Fatalf("rows = %d, want 1", n)
	}
}

func TestMetricsManager_QuerySince(t *testing.T) {
	db := setupObsDB(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mm := newManager(t, db)

	mm.Record(Metric{Name: "m", Value: 1, Timestamp: base.Add(-time.Hour)})
	mm.Record(Metric{Name: "m", Value: 2, Timestamp: base})
	mm.Flush()

	got, err := mm.Query(context.Background(), "m", base.Add(-time.Minute), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Value != 2 {
		t.Fatalf("got %+v", got)
	}
}

func TestMetricsManager_Cleanup(t *testing.T) {
	db := setupObsDB(t)
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	mm := newManager(t, db, WithClock(func() time.Time { return now }))

	mm.Record(Metric{Name: "old", Value: 1, Timestamp: now.AddDate(0, 0, -10)})
	mm.Record(Metric{Name: "new", Value: 1})
	mm.Flush()

	n, err := mm.Cleanup(context.Background(), 7*24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("deleted %d, want 1", n)
	}
	got, _ := mm.Query(context.Background(), "", time.Time{}, 0)
	if len(got) != 1 || got[0].Name != "new" {
		t.Fatalf("remaining = %+v", got)
	}
}

func TestSampler(t *testing.T) {
	db := setupObsDB(t)
	mm := newManager(t, db)
	s := NewSampler(mm, time.Minute)
	s.AddGauge(MetricBlobLiveHandles, "count", func() float64 { return 7 })

	s.Sample()
	mm.Flush()

	got, err := mm.Query(context.Background(), MetricBlobLiveHandles, time.Time{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Value != 7 {
		t.Fatalf("gauge = %+v", got)
	}
	rt, _ := mm.Query(context.Background(), MetricGoroutinesCount, time.Time{}, 0)
	if len(rt) != 1 || rt[0].Value < 1 {
		t.Fatalf("goroutines = %+v", rt)
	}
}

func TestHTTPMetrics(t *testing.T) {
	db := setupObsDB(t)
	mm := newManager(t, db)

	r := chi.NewRouter()
	r.Use(HTTPMetrics(mm))
	r.Get("/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, path := range []string{"/items/1", "/items/2", "/nowhere"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}
	mm.Flush()

	got, err := mm.Query(context.Background(), MetricHTTPDurationMs, time.Time{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d datapoints, want 3", len(got))
	}
	routes := map[string]int{}
	for _, m := range got {
		routes[m.Labels["route"]+" "+m.Labels["status"]]++
	}
	if routes["/items/{id} 418"] != 2 || routes["unmatched 404"] != 1 {
		t.Fatalf("routes = %v", routes)
	}
}
