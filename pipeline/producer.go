package pipeline

import (
	"context"

	"github.com/mirage-sh/mirage/types"
)

// TextStream is a raw text producer: a model token stream plus an eventual
// structured result. Recv returns io.EOF when the stream ends cleanly; any
// other error is an upstream failure. Result is valid once Recv has
// returned io.EOF and may be nil when the producer failed before
// producing one.
type TextStream interface {
	Recv(ctx context.Context) (string, error)
	Result() *TextResult
}

// TextResult is the structured final result of a raw text producer.
// It is authoritative for any field the decoders left empty or partial.
type TextResult struct {
	// Fields maps field names to their final values.
	Fields map[string]string
	// TokensIn is the producer-reported input token count.
	TokensIn int
	// TokensOut is the producer-reported output token count.
	TokensOut int
	// LatencyMs is the producer-reported latency, informational only;
	// the finalizer computes its own wall-clock latency.
	LatencyMs int64
}

// EventStream is a structured producer yielding discrete typed events with
// no field decoding needed. Recv returns io.EOF when the stream ends
// cleanly; any other error is an upstream failure.
type EventStream interface {
	Recv(ctx context.Context) (*types.ExecEvent, error)
}
