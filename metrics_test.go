package blkchan

import (
	"testing"
	"time"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	// Test initial state
	snap := m.Snapshot()
	if snap.Completions != 0 {
		t.Errorf("Expected 0 initial completions, got %d", snap.Completions)
	}

	// Record some completions
	m.RecordSubmit(1024)
	m.RecordSubmit(2048)
	m.RecordSubmit(512)
	m.RecordComplete(0, 1000000)             // success, 1ms
	m.RecordComplete(0, 2000000)             // success, 2ms
	m.RecordComplete(StatusIOError, 500000)  // I/O error, 0.5ms

	snap = m.Snapshot()

	if snap.Submits != 3 {
		t.Errorf("Expected 3 submits, got %d", snap.Submits)
	}
	if snap.Completions != 3 {
		t.Errorf("Expected 3 completions, got %d", snap.Completions)
	}
	if snap.Failed != 1 {
		t.Errorf("Expected 1 failed completion, got %d", snap.Failed)
	}
	if snap.Aborted != 0 {
		t.Errorf("Expected 0 aborted completions, got %d", snap.Aborted)
	}

	// Check error rate
	expectedErrorRate := float64(1) / float64(3) * 100.0
	if snap.ErrorRate < expectedErrorRate-0.1 || snap.ErrorRate > expectedErrorRate+0.1 {
		t.Errorf("Expected error rate ~%.1f%%, got %.1f%%", expectedErrorRate, snap.ErrorRate)
	}
}

func TestMetricsAborted(t *testing.T) {
	m := NewMetrics()

	m.RecordComplete(StatusAborted, 1000)
	m.RecordComplete(StatusAborted, 1000)
	m.RecordComplete(0, 1000)

	snap := m.Snapshot()
	if snap.Aborted != 2 {
		t.Errorf("Expected 2 aborted completions, got %d", snap.Aborted)
	}
	if snap.Failed != 2 {
		t.Errorf("Expected aborted completions counted as failed, got %d", snap.Failed)
	}
}

func TestMetricsDelivery(t *testing.T) {
	m := NewMetrics()

	m.RecordReadBatch(3, 4096)
	m.RecordReadBatch(1, 64)
	m.RecordReadBatch(0, 0) // empty batches are not counted
	m.RecordMessage(16)
	m.RecordMessage(4112)

	snap := m.Snapshot()
	if snap.ReadBatches != 2 {
		t.Errorf("Expected 2 batches, got %d", snap.ReadBatches)
	}
	if snap.BatchRequests != 4 {
		t.Errorf("Expected 4 batched requests, got %d", snap.BatchRequests)
	}
	if snap.BytesOut != 4160 {
		t.Errorf("Expected 4160 bytes out, got %d", snap.BytesOut)
	}
	if snap.Messages != 2 {
		t.Errorf("Expected 2 messages, got %d", snap.Messages)
	}
	if snap.BytesIn != 4128 {
		t.Errorf("Expected 4128 bytes in, got %d", snap.BytesIn)
	}
}

func TestMetricsQueueDepth(t *testing.T) {
	m := NewMetrics()

	m.RecordQueueDepth(10)
	m.RecordQueueDepth(20)
	m.RecordQueueDepth(15)

	snap := m.Snapshot()

	if snap.MaxQueueDepth != 20 {
		t.Errorf("Expected max queue depth 20, got %d", snap.MaxQueueDepth)
	}

	expectedAvg := float64(10+20+15) / 3.0
	if snap.AvgQueueDepth < expectedAvg-0.1 || snap.AvgQueueDepth > expectedAvg+0.1 {
		t.Errorf("Expected avg queue depth %.1f, got %.1f", expectedAvg, snap.AvgQueueDepth)
	}
}

func TestMetricsLatency(t *testing.T) {
	m := NewMetrics()

	m.RecordComplete(0, 1000000) // 1ms
	m.RecordComplete(0, 2000000) // 2ms

	snap := m.Snapshot()

	expectedAvgNs := uint64(1500000)
	if snap.AvgLatencyNs != expectedAvgNs {
		t.Errorf("Expected avg latency %d ns, got %d ns", expectedAvgNs, snap.AvgLatencyNs)
	}
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()

	time.Sleep(10 * time.Millisecond)

	snap := m.Snapshot()

	if snap.UptimeNs < 10*1000000 {
		t.Errorf("Expected uptime >= 10ms, got %d ns", snap.UptimeNs)
	}

	m.Stop()
	time.Sleep(5 * time.Millisecond)

	snap2 := m.Snapshot()

	// Uptime should not have increased significantly after stop
	if snap2.UptimeNs > snap.UptimeNs+2*1000000 {
		t.Errorf("Uptime increased too much after stop: %d -> %d", snap.UptimeNs, snap2.UptimeNs)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()

	m.RecordSubmit(1024)
	m.RecordComplete(0, 1000000)
	m.RecordQueueDepth(10)

	snap := m.Snapshot()
	if snap.Completions == 0 {
		t.Error("Expected some completions before reset")
	}

	m.Reset()

	snap = m.Snapshot()
	if snap.Submits != 0 {
		t.Errorf("Expected 0 submits after reset, got %d", snap.Submits)
	}
	if snap.Completions != 0 {
		t.Errorf("Expected 0 completions after reset, got %d", snap.Completions)
	}
	if snap.MaxQueueDepth != 0 {
		t.Errorf("Expected 0 max queue depth after reset, got %d", snap.MaxQueueDepth)
	}
}

func TestObserver(t *testing.T) {
	// NoOpObserver doesn't panic
	observer := &NoOpObserver{}
	observer.ObserveSubmit(1024)
	observer.ObserveComplete(0, 1000000)
	observer.ObserveReadBatch(1, 4096)
	observer.ObserveMessage(16)
	observer.ObserveReplay(2)
	observer.ObserveQueueDepth(10)

	// MetricsObserver forwards to metrics
	m := NewMetrics()
	metricsObserver := NewMetricsObserver(m)

	metricsObserver.ObserveSubmit(1024)
	metricsObserver.ObserveComplete(StatusIOError, 2000000)
	metricsObserver.ObserveReplay(3)

	snap := m.Snapshot()
	if snap.Submits != 1 {
		t.Errorf("Expected 1 submit from observer, got %d", snap.Submits)
	}
	if snap.Failed != 1 {
		t.Errorf("Expected 1 failed completion from observer, got %d", snap.Failed)
	}
	if snap.Replays != 3 {
		t.Errorf("Expected 3 replayed requests from observer, got %d", snap.Replays)
	}
}

func TestMetricsHistogram(t *testing.T) {
	m := NewMetrics()

	// 50 completions at 500us, 49 at 5ms, 1 at 50ms
	for i := 0; i < 50; i++ {
		m.RecordComplete(0, 500_000)
	}
	for i := 0; i < 49; i++ {
		m.RecordComplete(0, 5_000_000)
	}
	m.RecordComplete(0, 50_000_000)

	snap := m.Snapshot()

	if snap.Completions != 100 {
		t.Errorf("Expected 100 completions, got %d", snap.Completions)
	}

	// P50 should land in the 100us-1ms range
	if snap.LatencyP50Ns < 100_000 || snap.LatencyP50Ns > 1_000_000 {
		t.Errorf("Expected P50 in 100us-1ms range, got %d ns", snap.LatencyP50Ns)
	}

	// P99 should land in the 5ms-100ms range
	if snap.LatencyP99Ns < 5_000_000 || snap.LatencyP99Ns > 100_000_000 {
		t.Errorf("Expected P99 in 5ms-100ms range, got %d ns", snap.LatencyP99Ns)
	}

	totalInBuckets := uint64(0)
	for i := 0; i < len(snap.LatencyHistogram); i++ {
		totalInBuckets += snap.LatencyHistogram[i]
	}
	if totalInBuckets == 0 {
		t.Error("Expected histogram buckets to be populated")
	}
}
