package types

import "errors"

// Session metadata validation errors.
var (
	// ErrMissingSessionID indicates an absent session identifier.
	ErrMissingSessionID = errors.New("session_id is required")
	// ErrMissingRequestID indicates an absent request identifier.
	ErrMissingRequestID = errors.New("request_id is required")
)

// SessionMeta is the identity of one in-flight narration request.
// Created when the request begins and owned exclusively by the pipeline
// instance processing it.
type SessionMeta struct {
	// SessionID is the client session identifier.
	SessionID string
	// RequestID is the unique identifier of this request.
	RequestID string
	// Command is the command text being narrated.
	Command string
}

// Validate checks that required identity fields are present.
// Malformed metadata is rejected before a pipeline is created.
func (m *SessionMeta) Validate() error {
	if m == nil || m.SessionID == "" {
		return ErrMissingSessionID
	}
	if m.RequestID == "" {
		return ErrMissingRequestID
	}
	return nil
}

// Summary is the single persisted record computed at stream end.
// Written exactly once per request.
type Summary struct {
	// Output is the final text, or nil when the request produced nothing.
	Output *string `msgpack:"output"`
	// LatencyMs is wall-clock elapsed time since pipeline start.
	LatencyMs int64 `msgpack:"latency_ms"`
	// TokensIn is the final input token count (last write wins).
	TokensIn int `msgpack:"tokens_in"`
	// TokensOut is the final output token count (last write wins).
	TokensOut int `msgpack:"tokens_out"`
}
