package types

import (
	"encoding/json"
	"time"
)

// StreamEventKind discriminates client-visible stream events.
type StreamEventKind string

// Client event kind constants.
const (
	StreamEventDelta  StreamEventKind = "delta"
	StreamEventResult StreamEventKind = "result"
	StreamEventError  StreamEventKind = "error"
	StreamEventDone   StreamEventKind = "done"
)

// IsTerminal returns true if this event kind closes the client stream.
func (k StreamEventKind) IsTerminal() bool {
	return k == StreamEventDone
}

// StreamEvent is a tagged, JSON-serializable unit on the client channel.
// Every kind frames its payload under a "data" key; done carries none.
// Exactly one done event closes each stream; a terminal error is always
// followed by done.
type StreamEvent struct {
	// Kind is the event type discriminator.
	Kind StreamEventKind `json:"-"`
	// Delta is set for delta events.
	Delta *DeltaData `json:"-"`
	// Result is set for result events.
	Result *ResultData `json:"-"`
	// Error is set for error events.
	Error *ErrorData `json:"-"`
}

// MarshalJSON frames the event as {kind, data}, with data omitted for
// payload-free kinds.
func (e *StreamEvent) MarshalJSON() ([]byte, error) {
	var data any
	switch {
	case e.Delta != nil:
		data = e.Delta
	case e.Result != nil:
		data = e.Result
	case e.Error != nil:
		data = e.Error
	}

	if data == nil {
		return json.Marshal(struct {
			Kind StreamEventKind `json:"kind"`
		}{e.Kind})
	}
	return json.Marshal(struct {
		Kind StreamEventKind `json:"kind"`
		Data any             `json:"data"`
	}{e.Kind, data})
}

// DeltaData carries the newly revealed suffix of one decoded field.
type DeltaData struct {
	// Field is the tracked field name.
	Field string `json:"field"`
	// Text is the newly revealed text since the previous delta.
	Text string `json:"text"`
}

// ResultData carries the final decoded fields and usage counters.
// At most one result event is emitted per stream.
type ResultData struct {
	// Fields maps field names to their complete decoded values.
	Fields map[string]string `json:"fields"`
	// TokensIn is the input token count reported by the producer.
	TokensIn int `json:"tokens_in"`
	// TokensOut is the output token count reported by the producer.
	TokensOut int `json:"tokens_out"`
	// LatencyMs is the wall-clock latency of the request in milliseconds.
	LatencyMs int64 `json:"latency_ms"`
}

// ErrorData carries a human-readable failure message.
type ErrorData struct {
	Message string `json:"message"`
}

// NewDeltaEvent builds a delta event for one field.
func NewDeltaEvent(field, text string) *StreamEvent {
	return &StreamEvent{
		Kind:  StreamEventDelta,
		Delta: &DeltaData{Field: field, Text: text},
	}
}

// NewResultEvent builds the single result event of a stream.
func NewResultEvent(fields map[string]string, tokensIn, tokensOut int, latencyMs int64) *StreamEvent {
	return &StreamEvent{
		Kind: StreamEventResult,
		Result: &ResultData{
			Fields:    fields,
			TokensIn:  tokensIn,
			TokensOut: tokensOut,
			LatencyMs: latencyMs,
		},
	}
}

// NewErrorEvent builds a terminal error event.
func NewErrorEvent(message string) *StreamEvent {
	return &StreamEvent{
		Kind:  StreamEventError,
		Error: &ErrorData{Message: message},
	}
}

// NewDoneEvent builds the stream-closing done event.
func NewDoneEvent() *StreamEvent {
	return &StreamEvent{Kind: StreamEventDone}
}

// ExecEventKind discriminates structured producer events.
type ExecEventKind string

// Structured producer event kinds.
const (
	// ExecEventToken is a unit of command output text.
	ExecEventToken ExecEventKind = "token"
	// ExecEventStderr is a line of error output.
	ExecEventStderr ExecEventKind = "stderr"
	// ExecEventStatus carries usage counters and an exit indicator.
	ExecEventStatus ExecEventKind = "status"
)

// ExecEvent is a discrete, already-typed unit from a structured producer,
// as opposed to raw undifferentiated text.
type ExecEvent struct {
	// Kind is the event type discriminator.
	Kind ExecEventKind `json:"kind"`
	// Text is the output text for token and stderr events.
	Text string `json:"text,omitempty"`
	// ExitCode is the exit indicator for status events.
	ExitCode int `json:"exit_code,omitempty"`
	// TokensIn is the input token counter for status events.
	TokensIn int `json:"tokens_in,omitempty"`
	// TokensOut is the output token counter for status events.
	TokensOut int `json:"tokens_out,omitempty"`
}

// EventRecord is the persisted form of one stream event.
// Fields use msgpack tags to match the storage wire format.
type EventRecord struct {
	// SessionID identifies the owning session.
	SessionID string `msgpack:"session_id"`
	// RequestID identifies the request within the session.
	RequestID string `msgpack:"request_id"`
	// Seq is the monotonic sequence number within the request, starts at 1.
	Seq int64 `msgpack:"seq"`
	// Kind is the record kind: delta, result, token, stderr, status, error.
	Kind string `msgpack:"kind"`
	// Field is the decoded field name for delta records, empty otherwise.
	Field string `msgpack:"field,omitempty"`
	// Text is the record text payload.
	Text string `msgpack:"text,omitempty"`
	// Ts is the record timestamp in ISO 8601 UTC format.
	Ts string `msgpack:"ts"`
}

// Timestamp formats t for an EventRecord.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
