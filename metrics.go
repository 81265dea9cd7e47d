package blkchan

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the request-latency histogram buckets in
// nanoseconds, from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks operational statistics for a channel
type Metrics struct {
	// Request counters
	Submits     atomic.Uint64 // Requests accepted by Submit
	Completions atomic.Uint64 // Requests finalized, any status
	Failed      atomic.Uint64 // Requests finalized with a negative status
	Aborted     atomic.Uint64 // Requests finalized with connection-aborted status
	Replays     atomic.Uint64 // Requests re-queued by a replay

	// Delivery counters
	ReadBatches   atomic.Uint64 // Read calls that delivered at least one request
	BatchRequests atomic.Uint64 // Requests delivered across all batches
	BytesOut      atomic.Uint64 // Serialized request bytes handed to the consumer

	// Inbound counters
	Messages      atomic.Uint64 // Consumer messages applied
	BytesIn       atomic.Uint64 // Consumer message bytes applied
	InvalidMsgs   atomic.Uint64 // Malformed consumer messages rejected
	UnknownUnique atomic.Uint64 // Completions for identifiers not in flight

	// Queue statistics
	QueueDepthTotal atomic.Uint64 // Cumulative queue depth samples
	QueueDepthCount atomic.Uint64 // Number of queue depth measurements
	MaxQueueDepth   atomic.Uint32 // Maximum observed queue depth

	// Latency tracking from submit to finalize
	TotalLatencyNs atomic.Uint64
	LatencyCount   atomic.Uint64

	// Latency histogram buckets (cumulative counts)
	// Each bucket[i] contains the count of requests with latency <= LatencyBuckets[i]
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Channel lifecycle
	StartTime atomic.Int64 // Channel creation timestamp (UnixNano)
	StopTime  atomic.Int64 // Channel release timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordSubmit records an accepted submission. Serialized bytes are counted
// at delivery, not here.
func (m *Metrics) RecordSubmit(uint64) {
	m.Submits.Add(1)
}

// RecordComplete records a finalized request
func (m *Metrics) RecordComplete(status int32, latencyNs uint64) {
	m.Completions.Add(1)
	if status < 0 {
		m.Failed.Add(1)
	}
	if status == StatusAborted {
		m.Aborted.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordReadBatch records one delivered batch
func (m *Metrics) RecordReadBatch(requests int, bytes int) {
	if requests == 0 {
		return
	}
	m.ReadBatches.Add(1)
	m.BatchRequests.Add(uint64(requests))
	m.BytesOut.Add(uint64(bytes))
}

// RecordMessage records one applied consumer message
func (m *Metrics) RecordMessage(bytes int) {
	m.Messages.Add(1)
	m.BytesIn.Add(uint64(bytes))
}

// RecordInvalidMessage records a rejected consumer message
func (m *Metrics) RecordInvalidMessage() {
	m.InvalidMsgs.Add(1)
}

// RecordUnknownUnique records a completion for an identifier not in flight
func (m *Metrics) RecordUnknownUnique() {
	m.UnknownUnique.Add(1)
}

// RecordReplay records requests re-queued by a replay
func (m *Metrics) RecordReplay(requests int) {
	m.Replays.Add(uint64(requests))
}

// RecordQueueDepth records current in-flight depth for statistics
func (m *Metrics) RecordQueueDepth(depth uint32) {
	m.QueueDepthTotal.Add(uint64(depth))
	m.QueueDepthCount.Add(1)

	// Update max queue depth atomically
	for {
		current := m.MaxQueueDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxQueueDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

// recordLatency records request latency and updates the histogram
func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.LatencyCount.Add(1)

	// Update histogram buckets (cumulative)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the channel as released
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of metrics
type MetricsSnapshot struct {
	Submits     uint64
	Completions uint64
	Failed      uint64
	Aborted     uint64
	Replays     uint64

	ReadBatches   uint64
	BatchRequests uint64
	BytesOut      uint64

	Messages      uint64
	BytesIn       uint64
	InvalidMsgs   uint64
	UnknownUnique uint64

	// Queue statistics
	AvgQueueDepth float64
	MaxQueueDepth uint32

	// Performance
	AvgLatencyNs uint64
	UptimeNs     uint64

	// Latency percentiles (in nanoseconds)
	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	// Histogram bucket counts (cumulative)
	LatencyHistogram [numLatencyBuckets]uint64

	// Computed statistics
	CompletionRate float64 // Completions per second
	OutBandwidth   float64 // Serialized bytes per second
	ErrorRate      float64 // Percentage of failed completions
}

// Snapshot creates a point-in-time snapshot of metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Submits:       m.Submits.Load(),
		Completions:   m.Completions.Load(),
		Failed:        m.Failed.Load(),
		Aborted:       m.Aborted.Load(),
		Replays:       m.Replays.Load(),
		ReadBatches:   m.ReadBatches.Load(),
		BatchRequests: m.BatchRequests.Load(),
		BytesOut:      m.BytesOut.Load(),
		Messages:      m.Messages.Load(),
		BytesIn:       m.BytesIn.Load(),
		InvalidMsgs:   m.InvalidMsgs.Load(),
		UnknownUnique: m.UnknownUnique.Load(),
		MaxQueueDepth: m.MaxQueueDepth.Load(),
	}

	// Average queue depth
	queueDepthTotal := m.QueueDepthTotal.Load()
	queueDepthCount := m.QueueDepthCount.Load()
	if queueDepthCount > 0 {
		snap.AvgQueueDepth = float64(queueDepthTotal) / float64(queueDepthCount)
	}

	// Average latency
	totalLatencyNs := m.TotalLatencyNs.Load()
	latencyCount := m.LatencyCount.Load()
	if latencyCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / latencyCount
	}

	// Uptime
	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	// Rates
	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.CompletionRate = float64(snap.Completions) / uptimeSeconds
		snap.OutBandwidth = float64(snap.BytesOut) / uptimeSeconds
	}

	// Error rate
	if snap.Completions > 0 {
		snap.ErrorRate = float64(snap.Failed) / float64(snap.Completions) * 100.0
	}

	// Copy histogram bucket counts
	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	// Percentiles from the histogram
	if latencyCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	total := m.LatencyCount.Load()
	if total == 0 {
		return 0
	}

	targetCount := uint64(float64(total) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			// Linear interpolation within the bucket
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	// Latency exceeds all buckets
	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters (useful for testing)
func (m *Metrics) Reset() {
	m.Submits.Store(0)
	m.Completions.Store(0)
	m.Failed.Store(0)
	m.Aborted.Store(0)
	m.Replays.Store(0)
	m.ReadBatches.Store(0)
	m.BatchRequests.Store(0)
	m.BytesOut.Store(0)
	m.Messages.Store(0)
	m.BytesIn.Store(0)
	m.InvalidMsgs.Store(0)
	m.UnknownUnique.Store(0)
	m.QueueDepthTotal.Store(0)
	m.QueueDepthCount.Store(0)
	m.MaxQueueDepth.Store(0)
	m.TotalLatencyNs.Store(0)
	m.LatencyCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection
type Observer interface {
	// ObserveSubmit is called for each accepted submission
	ObserveSubmit(bytes uint64)

	// ObserveComplete is called when a request is finalized
	ObserveComplete(status int32, latencyNs uint64)

	// ObserveReadBatch is called for each delivered batch
	ObserveReadBatch(requests int, bytes int)

	// ObserveMessage is called for each applied consumer message
	ObserveMessage(bytes int)

	// ObserveReplay is called with the request count of a replay
	ObserveReplay(requests int)

	// ObserveQueueDepth is called with the in-flight depth after a submit
	ObserveQueueDepth(depth uint32)
}

// NoOpObserver is a no-op implementation of Observer
type NoOpObserver struct{}

func (NoOpObserver) ObserveSubmit(uint64)           {}
func (NoOpObserver) ObserveComplete(int32, uint64)  {}
func (NoOpObserver) ObserveReadBatch(int, int)      {}
func (NoOpObserver) ObserveMessage(int)             {}
func (NoOpObserver) ObserveReplay(int)              {}
func (NoOpObserver) ObserveQueueDepth(uint32)       {}

// MetricsObserver implements Observer using the built-in Metrics
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveSubmit(bytes uint64) {
	o.metrics.RecordSubmit(bytes)
}

func (o *MetricsObserver) ObserveComplete(status int32, latencyNs uint64) {
	o.metrics.RecordComplete(status, latencyNs)
}

func (o *MetricsObserver) ObserveReadBatch(requests int, bytes int) {
	o.metrics.RecordReadBatch(requests, bytes)
}

func (o *MetricsObserver) ObserveMessage(bytes int) {
	o.metrics.RecordMessage(bytes)
}

func (o *MetricsObserver) ObserveReplay(requests int) {
	o.metrics.RecordReplay(requests)
}

func (o *MetricsObserver) ObserveQueueDepth(depth uint32) {
	o.metrics.RecordQueueDepth(depth)
}

// Compile-time interface check
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
