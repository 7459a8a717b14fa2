package pipeline

import (
	"context"
	"sync"

	"github.com/mirage-sh/mirage/types"
)

// Sink abstracts durable persistence for a pipeline.
// Implementations may write to Redis, archive to object storage, or stub
// for testing. All writes are best-effort from the pipeline's perspective:
// a failing sink never affects the client-visible stream.
type Sink interface {
	// AppendEvents persists a batch of event records.
	// Must preserve ordering within the batch; ordering across calls is
	// not required to be transactional.
	AppendEvents(ctx context.Context, records []*types.EventRecord) error

	// WriteSummary persists the single summary record for a request.
	// Called exactly once per request by the finalizer.
	WriteSummary(ctx context.Context, requestID string, summary *types.Summary) error

	// Close releases sink resources.
	Close() error
}

// StubSink is a test sink that accepts writes without persisting.
// Tracks write statistics for test assertions.
type StubSink struct {
	mu sync.Mutex

	// RecordsWritten is the total count of records appended.
	RecordsWritten int64
	// Batches is the number of AppendEvents calls.
	Batches int64
	// WrittenRecords stores all appended records for inspection.
	WrittenRecords []*types.EventRecord
	// Summaries stores written summaries keyed by request id.
	Summaries map[string]*types.Summary
	// SummaryWrites counts WriteSummary calls, including failed ones.
	SummaryWrites int64
	// Closed indicates whether Close was called.
	Closed bool

	// ErrOnAppend, if non-nil, is returned by AppendEvents.
	ErrOnAppend error
	// ErrOnSummary, if non-nil, is returned by WriteSummary.
	ErrOnSummary error
}

// NewStubSink creates a new stub sink for testing.
func NewStubSink() *StubSink {
	return &StubSink{
		Summaries: make(map[string]*types.Summary),
	}
}

// AppendEvents records the batch without persisting.
func (s *StubSink) AppendEvents(_ context.Context, records []*types.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ErrOnAppend != nil {
		return s.ErrOnAppend
	}

	s.Batches++
	s.RecordsWritten += int64(len(records))
	s.WrittenRecords = append(s.WrittenRecords, records...)
	return nil
}

// WriteSummary records the summary without persisting.
func (s *StubSink) WriteSummary(_ context.Context, requestID string, summary *types.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.SummaryWrites++
	if s.ErrOnSummary != nil {
		return s.ErrOnSummary
	}

	s.Summaries[requestID] = summary
	return nil
}

// Close marks the sink as closed.
func (s *StubSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Closed = true
	return nil
}

// Stats returns a snapshot of sink counters.
func (s *StubSink) Stats() StubSinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return StubSinkStats{
		RecordsWritten: s.RecordsWritten,
		Batches:        s.Batches,
		SummaryWrites:  s.SummaryWrites,
		Closed:         s.Closed,
	}
}

// StubSinkStats is a snapshot of StubSink statistics.
type StubSinkStats struct {
	RecordsWritten int64
	Batches        int64
	SummaryWrites  int64
	Closed         bool
}

// Verify StubSink implements Sink.
var _ Sink = (*StubSink)(nil)
