package voiceGate

import (
	"testing"
	"time"
)

func BenchmarkMetricsInc(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		m.Inc(MetricVerifyAttempt)
	}
}

func BenchmarkMetricsIncDisabled(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		m.Inc(MetricVerifyAttempt)
	}
}

// BenchmarkMetricsSubmitPath records what one counted submission records:
// the attempt, its verdict counters, its outcome and the evaluation latency.
func BenchmarkMetricsSubmitPath(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	latencies := [...]time.Duration{40 * time.Millisecond, 180 * time.Millisecond, 650 * time.Millisecond, 3 * time.Second}
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		n := 0
		for pb.Next() {
			m.Inc(MetricVerifyAttempt)
			m.Observe(MetricEvaluateLatency, latencies[n%len(latencies)])
			if n%3 == 0 {
				m.Inc(MetricVerifyApproved)
			} else {
				m.Inc(MetricContentMismatch)
				m.Inc(MetricVerifyRetry)
				m.Inc(MetricChallengeIssued)
			}
			n++
		}
	})
}

func BenchmarkMetricsObserveLatencyParallel(b *testing.B) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})
	d := 420 * time.Millisecond
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			m.Observe(MetricEvaluateLatency, d)
		}
	})
}

func BenchmarkMetricsSnapshotUnderLoad(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				m.Inc(MetricVerifyAttempt)
				m.Observe(MetricEvaluateLatency, 90*time.Millisecond)
			}
		}
	}()
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = m.Snapshot()
	}

	b.StopTimer()
	close(stop)
	<-done
}
