package model

import (
	"context"
	"io"

	"github.com/mirage-sh/mirage/pipeline"
	"github.com/mirage-sh/mirage/types"
)

// Scripted replays canned text chunks. It backs the offline narration mode
// and tests: no network, deterministic output, optional failure injection.
type Scripted struct {
	chunks []string
	result *pipeline.TextResult

	// FailAt, when >= 0, makes Recv return FailErr instead of the chunk
	// at that index.
	FailAt  int
	FailErr error

	idx int
}

// NewScripted creates a scripted producer over the given chunks.
func NewScripted(chunks []string, result *pipeline.TextResult) *Scripted {
	return &Scripted{chunks: chunks, result: result, FailAt: -1}
}

// Recv returns the next chunk, io.EOF at the end, or the injected failure.
func (s *Scripted) Recv(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.FailErr != nil && s.idx == s.FailAt {
		return "", s.FailErr
	}
	if s.idx >= len(s.chunks) {
		return "", io.EOF
	}
	chunk := s.chunks[s.idx]
	s.idx++
	return chunk, nil
}

// Result returns the canned structured result.
func (s *Scripted) Result() *pipeline.TextResult {
	if s.idx < len(s.chunks) {
		return nil
	}
	return s.result
}

// ScriptedEvents replays canned execution events.
type ScriptedEvents struct {
	events []*types.ExecEvent

	FailAt  int
	FailErr error

	idx int
}

// NewScriptedEvents creates a scripted event producer.
func NewScriptedEvents(events []*types.ExecEvent) *ScriptedEvents {
	return &ScriptedEvents{events: events, FailAt: -1}
}

// Recv returns the next event, io.EOF at the end, or the injected failure.
func (s *ScriptedEvents) Recv(ctx context.Context) (*types.ExecEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.FailErr != nil && s.idx == s.FailAt {
		return nil, s.FailErr
	}
	if s.idx >= len(s.events) {
		return nil, io.EOF
	}
	ev := s.events[s.idx]
	s.idx++
	return ev, nil
}

var (
	_ pipeline.TextStream  = (*Scripted)(nil)
	_ pipeline.EventStream = (*ScriptedEvents)(nil)
)
