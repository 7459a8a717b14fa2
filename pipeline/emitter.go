package pipeline

import (
	"errors"
	"sync"

	"github.com/mirage-sh/mirage/types"
)

// errClientGone simulates a disconnected client in tests.
var errClientGone = errors.New("client channel closed")

// Emitter is the client-visible event channel.
// Emission is never gated on persistence: the pipeline writes to the
// emitter first and batches for the sink independently. An Emit error
// means the client is gone; the pipeline stops driving the producer.
type Emitter interface {
	Emit(event *types.StreamEvent) error
}

// StubEmitter records emitted events for test assertions.
type StubEmitter struct {
	mu sync.Mutex

	// Events stores emitted events in order.
	Events []*types.StreamEvent
	// ErrOnEmit, if non-nil, is returned by every Emit call.
	ErrOnEmit error
	// FailAfter, when > 0, makes Emit fail once that many events have
	// been accepted. Simulates a client disconnecting mid-stream.
	FailAfter int
}

// NewStubEmitter creates a new stub emitter.
func NewStubEmitter() *StubEmitter {
	return &StubEmitter{}
}

// Emit records the event.
func (e *StubEmitter) Emit(event *types.StreamEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ErrOnEmit != nil {
		return e.ErrOnEmit
	}
	if e.FailAfter > 0 && len(e.Events) >= e.FailAfter {
		return errClientGone
	}

	e.Events = append(e.Events, event)
	return nil
}

// Kinds returns the emitted event kinds in order.
func (e *StubEmitter) Kinds() []types.StreamEventKind {
	e.mu.Lock()
	defer e.mu.Unlock()

	kinds := make([]types.StreamEventKind, 0, len(e.Events))
	for _, ev := range e.Events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

// Verify StubEmitter implements Emitter.
var _ Emitter = (*StubEmitter)(nil)
