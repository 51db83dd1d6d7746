package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks engine throughput and latency.
type SystemMetrics struct {
	// Latency histograms
	SweepLatency   *LatencyHistogram
	SettleLatency  *LatencyHistogram
	RepriceLatency *LatencyHistogram

	// Counters
	ordersPlaced   atomic.Uint64
	ordersRejected atomic.Uint64
	fillsApplied   atomic.Uint64
	sweeps         atomic.Uint64
	ticksProcessed atomic.Uint64
	riskExits      atomic.Uint64
	conflicts      atomic.Uint64
	errorsCount    atomic.Uint64

	started time.Time
}

// LatencyHistogram tracks latency samples with sliding window.
// Stats are computed lazily and cached until the next Record.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		SweepLatency:   NewLatencyHistogram(1000),
		SettleLatency:  NewLatencyHistogram(1000),
		RepriceLatency: NewLatencyHistogram(1000),
		started:        time.Now(),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

func (m *SystemMetrics) OrderPlaced()   { m.ordersPlaced.Add(1) }
func (m *SystemMetrics) OrderRejected() { m.ordersRejected.Add(1) }
func (m *SystemMetrics) FillApplied()   { m.fillsApplied.Add(1) }
func (m *SystemMetrics) SweepDone()     { m.sweeps.Add(1) }
func (m *SystemMetrics) TickProcessed() { m.ticksProcessed.Add(1) }
func (m *SystemMetrics) RiskExit()      { m.riskExits.Add(1) }
func (m *SystemMetrics) Conflict()      { m.conflicts.Add(1) }
func (m *SystemMetrics) Error()         { m.errorsCount.Add(1) }

// MetricsSnapshot is a point-in-time view served on /api/metrics.
type MetricsSnapshot struct {
	SweepLatency   LatencyStats `json:"sweep_latency"`
	SettleLatency  LatencyStats `json:"settle_latency"`
	RepriceLatency LatencyStats `json:"reprice_latency"`
	OrdersPlaced   uint64       `json:"orders_placed"`
	OrdersRejected uint64       `json:"orders_rejected"`
	FillsApplied   uint64       `json:"fills_applied"`
	Sweeps         uint64       `json:"sweeps"`
	TicksProcessed uint64       `json:"ticks_processed"`
	RiskExits      uint64       `json:"risk_exits"`
	Conflicts      uint64       `json:"conflicts"`
	ErrorsCount    uint64       `json:"errors_count"`
	GoroutineCount int          `json:"goroutine_count"`
	HeapAlloc      uint64       `json:"heap_alloc_bytes"`
	Uptime         string       `json:"uptime"`
	Timestamp      time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		SweepLatency:   m.SweepLatency.Stats(),
		SettleLatency:  m.SettleLatency.Stats(),
		RepriceLatency: m.RepriceLatency.Stats(),
		OrdersPlaced:   m.ordersPlaced.Load(),
		OrdersRejected: m.ordersRejected.Load(),
		FillsApplied:   m.fillsApplied.Load(),
		Sweeps:         m.sweeps.Load(),
		TicksProcessed: m.ticksProcessed.Load(),
		RiskExits:      m.riskExits.Load(),
		Conflicts:      m.conflicts.Load(),
		ErrorsCount:    m.errorsCount.Load(),
		GoroutineCount: runtime.NumGoroutine(),
		HeapAlloc:      memStats.HeapAlloc,
		Uptime:         time.Since(m.started).Round(time.Second).String(),
		Timestamp:      time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
