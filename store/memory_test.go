package store

import (
	"context"
	"testing"

	"github.com/mirage-sh/mirage/types"
)

func TestMemory_AppendAndRead(t *testing.T) {
	m := NewMemory()

	if err := m.AppendEvents(context.Background(), testRecords()); err != nil {
		t.Fatalf("append: %v", err)
	}

	recs := m.Events("sess-1")
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Text != "hel" || recs[1].Text != "lo" {
		t.Errorf("order lost: %q %q", recs[0].Text, recs[1].Text)
	}
	if len(m.Events("sess-2")) != 1 {
		t.Error("sess-2 records missing")
	}
	if m.Events("unknown") != nil && len(m.Events("unknown")) != 0 {
		t.Error("unknown session should be empty")
	}
}

func TestMemory_Summary(t *testing.T) {
	m := NewMemory()

	if m.Summary("req-1") != nil {
		t.Fatal("expected nil summary before write")
	}
	if err := m.WriteSummary(context.Background(), "req-1", testSummary("done")); err != nil {
		t.Fatalf("write: %v", err)
	}

	summary := m.Summary("req-1")
	if summary == nil || *summary.Output != "done" {
		t.Errorf("summary = %+v", summary)
	}
}

func TestMemory_EventsReturnsCopy(t *testing.T) {
	m := NewMemory()
	if err := m.AppendEvents(context.Background(), testRecords()); err != nil {
		t.Fatalf("append: %v", err)
	}

	recs := m.Events("sess-1")
	recs[0] = &types.EventRecord{Kind: "mutated"}

	if m.Events("sess-1")[0].Kind == "mutated" {
		t.Error("Events exposed internal slice")
	}
}
