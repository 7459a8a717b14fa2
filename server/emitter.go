package server

import (
	"bufio"
	"encoding/json"
	"fmt"

	"github.com/mirage-sh/mirage/pipeline"
	"github.com/mirage-sh/mirage/types"
)

// SSEEmitter writes stream events to one client as server-sent events.
// Each event is flushed immediately; a write or flush failure means the
// client is gone and is reported to the pipeline as an emit error.
type SSEEmitter struct {
	w *bufio.Writer
}

// NewSSEEmitter wraps the response body writer of one streaming request.
func NewSSEEmitter(w *bufio.Writer) *SSEEmitter {
	return &SSEEmitter{w: w}
}

// Emit writes one event as a data frame and flushes it to the client.
func (e *SSEEmitter) Emit(event *types.StreamEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("sse: encode event: %w", err)
	}
	if _, err := e.w.WriteString("data: "); err != nil {
		return fmt.Errorf("sse: write: %w", err)
	}
	if _, err := e.w.Write(body); err != nil {
		return fmt.Errorf("sse: write: %w", err)
	}
	if _, err := e.w.WriteString("\n\n"); err != nil {
		return fmt.Errorf("sse: write: %w", err)
	}
	if err := e.w.Flush(); err != nil {
		return fmt.Errorf("sse: flush: %w", err)
	}
	return nil
}

var _ pipeline.Emitter = (*SSEEmitter)(nil)
