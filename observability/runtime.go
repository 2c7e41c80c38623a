package observability

import (
	"context"
	"runtime"
	"sync"
	"time"
)

// RuntimeMetrics captures Go process health at a point in time.
type RuntimeMetrics struct {
	GoroutinesCount int
	MemoryAllocMB   float64
	GCCount         uint32
}

// CollectRuntimeMetrics reads current Go runtime stats.
func CollectRuntimeMetrics() RuntimeMetrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return RuntimeMetrics{
		GoroutinesCount: runtime.NumGoroutine(),
		MemoryAllocMB:   float64(mem.Alloc) / 1024 / 1024,
		GCCount:         mem.NumGC,
	}
}

// Gauge reads a current value.
type Gauge func() float64

type gauge struct {
	name string
	unit string
	read Gauge
}

// Sampler records runtime metrics and registered gauges on a fixed period.
type Sampler struct {
	mm       *MetricsManager
	interval time.Duration

	mu     sync.Mutex
	gauges []gauge
}

// NewSampler creates a sampler writing to mm.
func NewSampler(mm *MetricsManager, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sampler{mm: mm, interval: interval}
}

// AddGauge registers read under name.
func (s *Sampler) AddGauge(name, unit string, read Gauge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gauges = append(s.gauges, gauge{name: name, unit: unit, read: read})
}

// Sample records one datapoint per runtime metric and gauge.
func (s *Sampler) Sample() {
	now := s.mm.now()
	rt := CollectRuntimeMetrics()
	s.mm.Record(Metric{Name: MetricGoroutinesCount, Timestamp: now, Value: float64(rt.GoroutinesCount), Unit: "count"})
	s.mm.Record(Metric{Name: MetricMemoryAllocMB, Timestamp: now, Value: rt.MemoryAllocMB, Unit: "megabytes"})
	s.mm.Record(Metric{Name: MetricGCCount, Timestamp: now, Value: float64(rt.GCCount), Unit: "count"})

	s.mu.Lock()
	gauges := append([]gauge(nil), s.gauges...)
	s.mu.Unlock()
	for _, g := range gauges {
		s.mm.Record(Metric{Name: g.name, Timestamp: now, Value: g.read(), Unit: g.unit})
	}
}

// Run samples immediately, then every interval until ctx is done.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.Sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sample()
		}
	}
}
