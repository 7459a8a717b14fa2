package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestStreamEventKind_IsTerminal(t *testing.T) {
	tests := []struct {
		kind     StreamEventKind
		terminal bool
	}{
		{StreamEventDelta, false},
		{StreamEventResult, false},
		{StreamEventError, false},
		{StreamEventDone, true},
	}

	for _, tt := range tests {
		if got := tt.kind.IsTerminal(); got != tt.terminal {
			t.Errorf("IsTerminal(%s) = %v, want %v", tt.kind, got, tt.terminal)
		}
	}
}

func TestStreamEvent_JSONShape(t *testing.T) {
	ev := NewDeltaEvent("output", "hello")
	body, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	want := `{"kind":"delta","data":{"field":"output","text":"hello"}}`
	if string(body) != want {
		t.Errorf("delta event JSON = %s, want %s", body, want)
	}

	done, err := json.Marshal(NewDoneEvent())
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(done) != `{"kind":"done"}` {
		t.Errorf("done event JSON = %s", done)
	}
}

// Every payload-carrying kind nests under "data", not a kind-specific key.
func TestStreamEvent_PayloadsShareDataEnvelope(t *testing.T) {
	result, err := json.Marshal(NewResultEvent(map[string]string{"output": "ok"}, 3, 7, 120))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	wantResult := `{"kind":"result","data":{"fields":{"output":"ok"},"tokens_in":3,"tokens_out":7,"latency_ms":120}}`
	if string(result) != wantResult {
		t.Errorf("result event JSON = %s, want %s", result, wantResult)
	}

	errEv, err := json.Marshal(NewErrorEvent("boom"))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(errEv) != `{"kind":"error","data":{"message":"boom"}}` {
		t.Errorf("error event JSON = %s", errEv)
	}
}

func TestSessionMeta_Validate(t *testing.T) {
	tests := []struct {
		name    string
		meta    *SessionMeta
		wantErr error
	}{
		{"valid", &SessionMeta{SessionID: "s1", RequestID: "r1"}, nil},
		{"missing session", &SessionMeta{RequestID: "r1"}, ErrMissingSessionID},
		{"missing request", &SessionMeta{SessionID: "s1"}, ErrMissingRequestID},
		{"nil", nil, ErrMissingSessionID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.meta.Validate(); err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestTimestamp_UTC(t *testing.T) {
	loc := time.FixedZone("PST", -8*3600)
	ts := Timestamp(time.Date(2026, 3, 1, 12, 0, 0, 0, loc))
	if ts != "2026-03-01T20:00:00Z" {
		t.Errorf("Timestamp = %s, want 2026-03-01T20:00:00Z", ts)
	}
}
