// Package adapter defines the completion notification boundary.
//
// Adapters publish session completion events to downstream systems after a
// request finalizes. Delivery is best-effort: a failed publish is logged by
// the caller and never affects the client stream or the persisted records.
package adapter

import (
	"context"
	"time"

	"github.com/mirage-sh/mirage/types"
)

// Outcome values carried by SessionCompletedEvent.
const (
	OutcomeSuccess       = "success"
	OutcomeUpstreamError = "upstream_error"
	OutcomeCanceled      = "canceled"
	OutcomeClientGone    = "client_gone"
)

// SessionCompletedEvent is the payload published when a request finishes.
type SessionCompletedEvent struct {
	EventType string `json:"event_type"` // always "session_completed"
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id"`
	Command   string `json:"command"`
	Outcome   string `json:"outcome"`
	LatencyMs int64  `json:"latency_ms"`
	TokensIn  int    `json:"tokens_in"`
	TokensOut int    `json:"tokens_out"`
	Timestamp string `json:"timestamp"` // ISO 8601
}

// NewSessionCompletedEvent builds the event from a finished request.
func NewSessionCompletedEvent(meta *types.SessionMeta, outcome string, summary *types.Summary) *SessionCompletedEvent {
	event := &SessionCompletedEvent{
		EventType: "session_completed",
		SessionID: meta.SessionID,
		RequestID: meta.RequestID,
		Command:   meta.Command,
		Outcome:   outcome,
		Timestamp: types.Timestamp(time.Now()),
	}
	if summary != nil {
		event.LatencyMs = summary.LatencyMs
		event.TokensIn = summary.TokensIn
		event.TokensOut = summary.TokensOut
	}
	return event
}

// Adapter publishes session completion events to a downstream system.
// Implementations must be safe for concurrent use across requests.
type Adapter interface {
	// Publish sends a session completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *SessionCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}
