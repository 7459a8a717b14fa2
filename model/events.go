package model

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/mirage-sh/mirage/pipeline"
	"github.com/mirage-sh/mirage/types"
)

// EventReader decodes a JSON-lines stream of execution events, one event
// per line. It backs event-mode narration where a pre-typed event stream
// replaces raw model text: replayed capture files, or another process
// writing events to a pipe. Blank lines are skipped; a malformed line is
// an upstream failure, not a skip, so corrupt captures surface instead of
// silently shortening the stream.
type EventReader struct {
	scanner *bufio.Scanner
	line    int
}

// NewEventReader creates a reader over r.
func NewEventReader(r io.Reader) *EventReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &EventReader{scanner: scanner}
}

// Recv returns the next event, io.EOF at a clean end of input.
func (e *EventReader) Recv(ctx context.Context) (*types.ExecEvent, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.scanner.Scan() {
			if err := e.scanner.Err(); err != nil {
				return nil, fmt.Errorf("event stream read: %w", err)
			}
			return nil, io.EOF
		}
		e.line++

		text := strings.TrimSpace(e.scanner.Text())
		if text == "" {
			continue
		}

		var event types.ExecEvent
		if err := json.Unmarshal([]byte(text), &event); err != nil {
			return nil, fmt.Errorf("event stream line %d: %w", e.line, err)
		}
		if event.Kind == "" {
			return nil, fmt.Errorf("event stream line %d: missing kind", e.line)
		}
		return &event, nil
	}
}

var _ pipeline.EventStream = (*EventReader)(nil)
