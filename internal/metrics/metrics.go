package metrics

import (
	"sync/atomic"
	"time"
)

// ID indexes one counter slot.
type ID uint16

const (
	SessionCreated ID = iota
	Transition
	Suppressed
	StateConflict
	ValidationFailed
	SessionExpired
	CodeIssued
	VerifyFailed
	VerifyLockout
	Verified
	RateLimited
	Cancelled
	Restarted
	LockTimeout
	ActionFailed
	SystemError
	HandleLatency
	IDCount
)

// HistogramBuckets is the number of latency buckets; upper bounds are
// 5, 10, 25, 50, 100, 250, 500 ms and +Inf.
const HistogramBuckets = 8

const cacheLineSize = 64

type histogram struct {
	buckets [HistogramBuckets]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Config toggles collection.
type Config struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// Metrics holds counters and the handle latency histogram.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [IDCount]paddedCounter
	latency       histogram
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Counters   map[ID]uint64
	Histograms map[ID][]uint64
}

// New returns a Metrics instance; a disabled instance ignores every write.
func New(cfg Config) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to id.
func (m *Metrics) Inc(id ID) {
	if m == nil || !m.enabled || id >= IDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d into the histogram for id. Only HandleLatency has one.
func (m *Metrics) Observe(id ID, d time.Duration) {
	if m == nil || !m.enableLatency || id != HandleLatency {
		return
	}
	atomic.AddUint64(&m.latency.buckets[BucketIndex(d)], 1)
}

// Value returns the current value of id.
func (m *Metrics) Value(id ID) uint64 {
	if m == nil || id >= IDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter. Histograms are present only when latency
// collection is enabled.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil || !m.enabled {
		return Snapshot{
			Counters:   map[ID]uint64{},
			Histograms: map[ID][]uint64{},
		}
	}

	s := Snapshot{
		Counters:   make(map[ID]uint64, int(IDCount)),
		Histograms: make(map[ID][]uint64, 1),
	}
	for id := ID(0); id < IDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	if m.enableLatency {
		buckets := make([]uint64, HistogramBuckets)
		for i := range buckets {
			buckets[i] = atomic.LoadUint64(&m.latency.buckets[i])
		}
		s.Histograms[HandleLatency] = buckets
	}
	return s
}

// BucketIndex maps a duration onto its histogram bucket.
func BucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
