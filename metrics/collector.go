// Package metrics provides per-process metrics collection for the
// streaming service. The Collector accumulates counters across requests.
// It is a leaf package with no internal dependencies, and all increment
// methods are nil-receiver safe so wiring it stays optional.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Stream lifecycle
	StreamsStarted   int64
	StreamsCompleted int64
	StreamsFailed    int64
	StreamsCanceled  int64

	// Decoding
	FieldsCompleted int64
	DeltasEmitted   int64

	// Persistence
	Flushes          int64
	FlushFailures    int64
	SummariesWritten int64
	SummaryFailures  int64

	// Upstream
	UpstreamErrors int64

	// Dimensions (informational, set at construction)
	Backend  string
	Producer string
}

// Collector accumulates metrics across requests.
// Thread-safe via sync.Mutex.
type Collector struct {
	mu sync.Mutex

	streamsStarted   int64
	streamsCompleted int64
	streamsFailed    int64
	streamsCanceled  int64

	fieldsCompleted int64
	deltasEmitted   int64

	flushes          int64
	flushFailures    int64
	summariesWritten int64
	summaryFailures  int64

	upstreamErrors int64

	backend  string
	producer string
}

// NewCollector creates a Collector with dimension labels.
// backend names the sink implementation; producer names the upstream shape.
func NewCollector(backend, producer string) *Collector {
	return &Collector{
		backend:  backend,
		producer: producer,
	}
}

// IncStreamStarted records a stream start.
func (c *Collector) IncStreamStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.streamsStarted++
	c.mu.Unlock()
}

// IncStreamCompleted records a successful stream completion.
func (c *Collector) IncStreamCompleted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.streamsCompleted++
	c.mu.Unlock()
}

// IncStreamFailed records a stream that ended with an upstream failure.
func (c *Collector) IncStreamFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.streamsFailed++
	c.mu.Unlock()
}

// IncStreamCanceled records a stream canceled by client disconnect.
func (c *Collector) IncStreamCanceled() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.streamsCanceled++
	c.mu.Unlock()
}

// IncFieldCompleted records a field decoder reaching completion.
func (c *Collector) IncFieldCompleted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.fieldsCompleted++
	c.mu.Unlock()
}

// AddDeltasEmitted records n delta emissions.
func (c *Collector) AddDeltasEmitted(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.deltasEmitted += n
	c.mu.Unlock()
}

// IncFlush records a successful batch flush.
func (c *Collector) IncFlush() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.flushes++
	c.mu.Unlock()
}

// IncFlushFailure records a failed batch flush.
func (c *Collector) IncFlushFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.flushFailures++
	c.mu.Unlock()
}

// IncSummaryWritten records a successful summary write.
func (c *Collector) IncSummaryWritten() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.summariesWritten++
	c.mu.Unlock()
}

// IncSummaryFailure records a failed summary write.
func (c *Collector) IncSummaryFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.summaryFailures++
	c.mu.Unlock()
}

// IncUpstreamError records a producer failure.
func (c *Collector) IncUpstreamError() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.upstreamErrors++
	c.mu.Unlock()
}

// Snapshot returns an atomic snapshot of all counters.
// Returns a zero snapshot for a nil collector.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		StreamsStarted:   c.streamsStarted,
		StreamsCompleted: c.streamsCompleted,
		StreamsFailed:    c.streamsFailed,
		StreamsCanceled:  c.streamsCanceled,
		FieldsCompleted:  c.fieldsCompleted,
		DeltasEmitted:    c.deltasEmitted,
		Flushes:          c.flushes,
		FlushFailures:    c.flushFailures,
		SummariesWritten: c.summariesWritten,
		SummaryFailures:  c.summaryFailures,
		UpstreamErrors:   c.upstreamErrors,
		Backend:          c.backend,
		Producer:         c.producer,
	}
}
