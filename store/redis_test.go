package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/mirage-sh/mirage/types"
)

func testRecords() []*types.EventRecord {
	return []*types.EventRecord{
		{SessionID: "sess-1", RequestID: "req-1", Seq: 1, Kind: "delta", Field: "output", Text: "hel", Ts: "2026-08-31T12:00:00Z"},
		{SessionID: "sess-1", RequestID: "req-1", Seq: 2, Kind: "delta", Field: "output", Text: "lo", Ts: "2026-08-31T12:00:00.1Z"},
		{SessionID: "sess-2", RequestID: "req-2", Seq: 1, Kind: "stderr", Text: "oops", Ts: "2026-08-31T12:00:01Z"},
	}
}

func testSummary(output string) *types.Summary {
	return &types.Summary{Output: &output, LatencyMs: 321, TokensIn: 10, TokensOut: 20}
}

func TestAppendEvents_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)

	sink, err := NewRedis(RedisConfig{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = sink.Close() }()

	if err := sink.AppendEvents(context.Background(), testRecords()); err != nil {
		t.Fatalf("append: %v", err)
	}

	records, err := sink.ReadEvents(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 sess-1 records, got %d", len(records))
	}
	if records[0].Text != "hel" || records[1].Text != "lo" {
		t.Errorf("record order lost: %q %q", records[0].Text, records[1].Text)
	}
	if records[0].Seq != 1 || records[1].Seq != 2 {
		t.Errorf("seq mismatch: %d %d", records[0].Seq, records[1].Seq)
	}
	if records[0].Kind != "delta" || records[0].Field != "output" {
		t.Errorf("record fields lost: %+v", records[0])
	}

	other, err := sink.ReadEvents(context.Background(), "sess-2")
	if err != nil {
		t.Fatalf("read sess-2: %v", err)
	}
	if len(other) != 1 || other[0].Kind != "stderr" {
		t.Errorf("sess-2 records = %+v", other)
	}
}

func TestAppendEvents_EmptyBatchIsNoop(t *testing.T) {
	mr := miniredis.RunT(t)

	sink, err := NewRedis(RedisConfig{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = sink.Close() }()

	if err := sink.AppendEvents(context.Background(), nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	if mr.Exists(DefaultStreamPrefix + "sess-1") {
		t.Error("empty batch created a stream key")
	}
}

func TestWriteSummary_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)

	sink, err := NewRedis(RedisConfig{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = sink.Close() }()

	if err := sink.WriteSummary(context.Background(), "req-1", testSummary("hello")); err != nil {
		t.Fatalf("write summary: %v", err)
	}

	summary, err := sink.ReadSummary(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	if summary == nil || summary.Output == nil || *summary.Output != "hello" {
		t.Fatalf("summary = %+v", summary)
	}
	if summary.LatencyMs != 321 || summary.TokensIn != 10 || summary.TokensOut != 20 {
		t.Errorf("summary counters = %+v", summary)
	}
}

func TestWriteSummary_NilOutput(t *testing.T) {
	mr := miniredis.RunT(t)

	sink, err := NewRedis(RedisConfig{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = sink.Close() }()

	if err := sink.WriteSummary(context.Background(), "req-1", &types.Summary{LatencyMs: 5}); err != nil {
		t.Fatalf("write summary: %v", err)
	}

	summary, err := sink.ReadSummary(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	if summary.Output != nil {
		t.Errorf("expected nil output, got %q", *summary.Output)
	}
}

func TestReadSummary_Missing(t *testing.T) {
	mr := miniredis.RunT(t)

	sink, err := NewRedis(RedisConfig{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = sink.Close() }()

	summary, err := sink.ReadSummary(context.Background(), "nope")
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	if summary != nil {
		t.Errorf("expected nil summary, got %+v", summary)
	}
}

func TestNewRedis_RequiresURL(t *testing.T) {
	if _, err := NewRedis(RedisConfig{}); err == nil {
		t.Fatal("expected error for empty URL")
	}
}

func TestNewRedis_InvalidURL(t *testing.T) {
	if _, err := NewRedis(RedisConfig{URL: "not-a-redis-url"}); err == nil {
		t.Fatal("expected error for invalid URL")
	}
}

func TestNewRedis_DefaultsApplied(t *testing.T) {
	mr := miniredis.RunT(t)

	sink, err := NewRedis(RedisConfig{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = sink.Close() }()

	if sink.config.StreamPrefix != DefaultStreamPrefix {
		t.Errorf("stream prefix = %q", sink.config.StreamPrefix)
	}
	if sink.config.SummaryPrefix != DefaultSummaryPrefix {
		t.Errorf("summary prefix = %q", sink.config.SummaryPrefix)
	}
	if sink.config.MaxLen != DefaultMaxLen {
		t.Errorf("max len = %d", sink.config.MaxLen)
	}
}

func TestAppendEvents_SinkUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)

	sink, err := NewRedis(RedisConfig{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = sink.Close() }()

	mr.Close()

	if err := sink.AppendEvents(context.Background(), testRecords()); err == nil {
		t.Fatal("expected error when redis is down")
	}
}
