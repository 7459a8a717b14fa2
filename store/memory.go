// Package store provides durable sink implementations: an in-memory sink
// for single-process serving and tests, a Redis-backed sink for production,
// and an S3 transcript archiver layered behind the sink boundary.
package store

import (
	"context"
	"sync"

	"github.com/mirage-sh/mirage/pipeline"
	"github.com/mirage-sh/mirage/types"
)

// Memory is an in-process sink. Safe for concurrent use by multiple
// pipelines; events are kept per session, summaries per request.
type Memory struct {
	mu        sync.Mutex
	events    map[string][]*types.EventRecord
	summaries map[string]*types.Summary
}

// NewMemory creates an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{
		events:    make(map[string][]*types.EventRecord),
		summaries: make(map[string]*types.Summary),
	}
}

// AppendEvents stores the batch, grouped by session id.
func (m *Memory) AppendEvents(_ context.Context, records []*types.EventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range records {
		m.events[rec.SessionID] = append(m.events[rec.SessionID], rec)
	}
	return nil
}

// WriteSummary stores the summary keyed by request id.
func (m *Memory) WriteSummary(_ context.Context, requestID string, summary *types.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.summaries[requestID] = summary
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// Events returns a copy of the stored records for a session.
func (m *Memory) Events(sessionID string) []*types.EventRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	recs := m.events[sessionID]
	out := make([]*types.EventRecord, len(recs))
	copy(out, recs)
	return out
}

// Summary returns the stored summary for a request, or nil.
func (m *Memory) Summary(requestID string) *types.Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.summaries[requestID]
}

var _ pipeline.Sink = (*Memory)(nil)
