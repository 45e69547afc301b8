package metrics

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one counter slot.
type MetricID uint16

const (
	MetricChallengeIssued MetricID = iota
	MetricChallengeRateLimited
	MetricChallengeUnavailable
	MetricVerifyAttempt
	MetricVerifyApproved
	MetricVerifyRetry
	MetricVerifyDenied
	MetricVerifyClosed
	MetricVerifyRejected
	MetricVoiceMismatch
	MetricContentMismatch
	MetricServiceDegraded
	MetricTransactionOpened
	MetricTransactionRejected
	MetricTransactionCommitted
	MetricCommitReplay
	MetricEvaluateLatency
	MetricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

// Config enables counters and the evaluation latency histogram.
type Config struct {
	Enabled       bool
	EnableLatency bool
}

type histogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free counters. The zero value and a nil pointer are
// both valid no-op sinks.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [MetricIDCount]paddedCounter
	histograms    [MetricIDCount]histogram
}

// Snapshot is a point-in-time copy of every counter and histogram.
type Snapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func New(cfg Config) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatency,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= MetricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d into the histogram of id. Only latency metrics carry a
// histogram; other ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= MetricIDCount {
		return
	}
	if id != MetricEvaluateLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= MetricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil || !m.enabled {
		return Snapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := Snapshot{
		Counters:   make(map[MetricID]uint64, int(MetricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < MetricIDCount; id++ {
		if id == MetricEvaluateLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricEvaluateLatency].buckets[i])
		}
		s.Histograms[MetricEvaluateLatency] = buckets
	}

	return s
}

// Evaluation calls out to two remote services, so the buckets are wider
// than an in-process hot path would need.
func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 50:
		return 0
	case ms <= 100:
		return 1
	case ms <= 250:
		return 2
	case ms <= 500:
		return 3
	case ms <= 1000:
		return 4
	case ms <= 2500:
		return 5
	case ms <= 5000:
		return 6
	default:
		return 7
	}
}
