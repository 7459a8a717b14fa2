package server

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mirage-sh/mirage/model"
	"github.com/mirage-sh/mirage/pipeline"
	"github.com/mirage-sh/mirage/store"
	"github.com/mirage-sh/mirage/types"
)

func scriptedProducer(chunks []string, result *pipeline.TextResult) ProducerFunc {
	return func(_ context.Context, _ *types.SessionMeta) (pipeline.TextStream, error) {
		return model.NewScripted(chunks, result), nil
	}
}

func newTestServer(t *testing.T, cfg Config) (*Server, *store.Memory) {
	t.Helper()

	sink := store.NewMemory()
	if cfg.Sink == nil {
		cfg.Sink = sink
	}
	if cfg.Producer == nil {
		cfg.Producer = scriptedProducer(
			[]string{`{"output":"total 8\n","explanation":"listed files"}`},
			&pipeline.TextResult{TokensIn: 3, TokensOut: 9},
		)
	}
	cfg.FlushInterval = time.Millisecond

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, sink
}

func postCommand(t *testing.T, s *Server, path, body string) (int, map[string][]string, string) {
	t.Helper()

	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.App().Test(req, 5000)
	if err != nil {
		t.Fatalf("app test: %v", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, resp.Header, string(b)
}

func TestHandleCommand_StreamsEvents(t *testing.T) {
	s, sink := newTestServer(t, Config{})

	status, header, body := postCommand(t, s, "/api/sessions/sess-1/commands", `{"command":"ls -la"}`)
	if status != 200 {
		t.Fatalf("status = %d, body = %s", status, body)
	}
	if ct := header["Content-Type"]; len(ct) == 0 || ct[0] != "text/event-stream" {
		t.Errorf("content type = %v", ct)
	}

	if !strings.Contains(body, `data: {"kind":"delta"`) {
		t.Errorf("missing delta frames in body: %s", body)
	}
	if !strings.Contains(body, `"kind":"result"`) {
		t.Errorf("missing result frame in body: %s", body)
	}
	if !strings.HasSuffix(strings.TrimSpace(body), `data: {"kind":"done"}`) {
		t.Errorf("stream must end with done: %s", body)
	}

	requestID := header["X-Request-Id"]
	if len(requestID) == 0 || requestID[0] == "" {
		t.Fatal("missing request id header")
	}
	summary := sink.Summary(requestID[0])
	if summary == nil || summary.Output == nil || *summary.Output != "total 8\n" {
		t.Errorf("summary = %+v", summary)
	}
	if len(sink.Events("sess-1")) == 0 {
		t.Error("no event records persisted")
	}
}

func TestHandleCommand_BlankSessionRejected(t *testing.T) {
	var producerCalled bool
	s, _ := newTestServer(t, Config{
		Producer: func(_ context.Context, _ *types.SessionMeta) (pipeline.TextStream, error) {
			producerCalled = true
			return model.NewScripted(nil, nil), nil
		},
	})

	// Percent-encoded whitespace must not survive as a session id.
	for _, path := range []string{
		"/api/sessions/%20/commands",
		"/api/sessions/%20%20/commands",
		"/api/sessions/%09%0A/commands",
	} {
		status, _, body := postCommand(t, s, path, `{"command":"ls"}`)
		if status != 400 {
			t.Fatalf("%s: status = %d, body = %s", path, status, body)
		}
	}
	if producerCalled {
		t.Error("producer opened despite invalid session id")
	}
}

func TestHandleCommand_EncodedSessionUnescaped(t *testing.T) {
	var gotSession string
	s, _ := newTestServer(t, Config{
		Producer: func(_ context.Context, meta *types.SessionMeta) (pipeline.TextStream, error) {
			gotSession = meta.SessionID
			return model.NewScripted([]string{`{"output":"ok"}`}, nil), nil
		},
	})

	status, _, _ := postCommand(t, s, "/api/sessions/team%20alpha/commands", `{"command":"ls"}`)
	if status != 200 {
		t.Fatalf("status = %d", status)
	}
	if gotSession != "team alpha" {
		t.Errorf("session id = %q, want %q", gotSession, "team alpha")
	}
}

func TestHandleCommand_MissingCommandRejected(t *testing.T) {
	s, _ := newTestServer(t, Config{})

	status, _, _ := postCommand(t, s, "/api/sessions/sess-1/commands", `{"command":"  "}`)
	if status != 400 {
		t.Fatalf("status = %d", status)
	}

	status, _, _ = postCommand(t, s, "/api/sessions/sess-1/commands", `not json`)
	if status != 400 {
		t.Fatalf("status = %d for malformed body", status)
	}
}

type denyAll struct{}

func (denyAll) Authorize(context.Context, string, string) error {
	return errors.New("denied")
}

func TestHandleCommand_Unauthorized(t *testing.T) {
	s, _ := newTestServer(t, Config{Authorizer: denyAll{}})

	status, _, _ := postCommand(t, s, "/api/sessions/sess-1/commands", `{"command":"ls"}`)
	if status != 403 {
		t.Fatalf("status = %d", status)
	}
}

func TestHandleCommand_ProducerFailureStreamsError(t *testing.T) {
	s, sink := newTestServer(t, Config{
		Producer: func(_ context.Context, _ *types.SessionMeta) (pipeline.TextStream, error) {
			return nil, errors.New("model unavailable")
		},
	})

	status, header, body := postCommand(t, s, "/api/sessions/sess-1/commands", `{"command":"ls"}`)
	if status != 200 {
		t.Fatalf("status = %d", status)
	}
	if !strings.Contains(body, `"kind":"error"`) || !strings.Contains(body, `"kind":"done"`) {
		t.Errorf("expected error then done frames, got %s", body)
	}

	// The open failure still finalizes: error record flushed, summary written.
	requestID := header["X-Request-Id"]
	if len(requestID) == 0 || requestID[0] == "" {
		t.Fatal("missing request id header")
	}
	summary := sink.Summary(requestID[0])
	if summary == nil {
		t.Fatal("no summary persisted after producer open failure")
	}
	if summary.Output == nil || *summary.Output != "error: model unavailable" {
		t.Errorf("summary output = %v, want error: model unavailable", summary.Output)
	}
	if len(sink.Events("sess-1")) == 0 {
		t.Error("no event records persisted for the failed request")
	}
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, Config{})

	req := httptest.NewRequest("GET", "/health", nil)
	resp, err := s.App().Test(req)
	if err != nil {
		t.Fatalf("app test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"status":"ok"`) {
		t.Errorf("body = %s", body)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Sink: store.NewMemory()}); err == nil {
		t.Error("expected error for missing producer")
	}
	if _, err := New(Config{Producer: scriptedProducer(nil, nil)}); err == nil {
		t.Error("expected error for missing sink")
	}
}
