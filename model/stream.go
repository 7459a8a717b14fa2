package model

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mirage-sh/mirage/pipeline"
)

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Stream adapts a server-sent-event chat completion body to the pull-based
// producer contract. Not safe for concurrent use.
type Stream struct {
	body  io.ReadCloser
	br    *bufio.Reader
	start time.Time

	text      strings.Builder
	tokensIn  int
	tokensOut int

	result *pipeline.TextResult
	closed bool
}

func newStream(body io.ReadCloser, start time.Time) *Stream {
	return &Stream{
		body:  body,
		br:    bufio.NewReaderSize(body, 64*1024),
		start: start,
	}
}

// Recv returns the next non-empty text delta. It returns io.EOF after the
// provider's [DONE] frame or a clean body end, at which point Result is
// populated. Malformed frames are skipped; some providers interleave
// keepalive noise with data frames.
func (s *Stream) Recv(ctx context.Context) (string, error) {
	if s.closed {
		return "", io.EOF
	}

	var dataLines []string
	for {
		if err := ctx.Err(); err != nil {
			s.abandon()
			return "", err
		}

		line, err := s.br.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				// Some providers close the body without a [DONE] frame.
				if delta, ok, derr := s.consumeEvent(dataLines); derr != nil {
					s.abandon()
					return "", derr
				} else if ok {
					return delta, nil
				}
				s.finish()
				return "", io.EOF
			}
			s.abandon()
			return "", fmt.Errorf("model stream read: %w", err)
		}

		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == "" {
			delta, ok, derr := s.consumeEvent(dataLines)
			dataLines = dataLines[:0]
			if derr != nil {
				s.abandon()
				return "", derr
			}
			if s.closed {
				return "", io.EOF
			}
			if ok {
				return delta, nil
			}
			continue
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
		// Other SSE fields (event:, id:, retry:) are ignored.
	}
}

// consumeEvent parses one buffered SSE event. It returns the concatenated
// text delta when the event carried any.
func (s *Stream) consumeEvent(dataLines []string) (string, bool, error) {
	if len(dataLines) == 0 {
		return "", false, nil
	}
	data := strings.TrimSpace(strings.Join(dataLines, "\n"))
	if data == "" {
		return "", false, nil
	}
	if data == "[DONE]" {
		s.finish()
		return "", false, nil
	}

	var chunk streamChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return "", false, nil
	}
	if chunk.Error != nil && strings.TrimSpace(chunk.Error.Message) != "" {
		return "", false, fmt.Errorf("model error: %s", chunk.Error.Message)
	}
	if chunk.Usage != nil {
		s.tokensIn = chunk.Usage.PromptTokens
		s.tokensOut = chunk.Usage.CompletionTokens
	}

	var delta strings.Builder
	for _, choice := range chunk.Choices {
		if d := choice.Delta.Content; d != "" {
			delta.WriteString(d)
			s.text.WriteString(d)
		}
	}
	if delta.Len() == 0 {
		return "", false, nil
	}
	return delta.String(), true, nil
}

// Result returns the structured result. Valid once Recv has returned
// io.EOF; nil when the stream failed before completing.
func (s *Stream) Result() *pipeline.TextResult {
	return s.result
}

// Close abandons the stream. Safe to call after a clean end.
func (s *Stream) Close() error {
	if !s.closed {
		s.closed = true
		return s.body.Close()
	}
	return nil
}

// finish computes the structured result from the accumulated text. The
// complete response is expected to be a flat JSON object with string
// fields; non-string members are ignored.
func (s *Stream) finish() {
	if s.closed {
		return
	}
	s.closed = true
	_ = s.body.Close()

	fields := make(map[string]string)
	var raw map[string]any
	if err := json.Unmarshal([]byte(s.text.String()), &raw); err == nil {
		for name, value := range raw {
			if str, ok := value.(string); ok {
				fields[name] = str
			}
		}
	}

	s.result = &pipeline.TextResult{
		Fields:    fields,
		TokensIn:  s.tokensIn,
		TokensOut: s.tokensOut,
		LatencyMs: time.Since(s.start).Milliseconds(),
	}
}

func (s *Stream) abandon() {
	if !s.closed {
		s.closed = true
		_ = s.body.Close()
	}
}

// Verify Stream implements the producer contract.
var _ pipeline.TextStream = (*Stream)(nil)
