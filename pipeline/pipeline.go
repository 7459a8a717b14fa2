// Package pipeline orchestrates one narrated request's lifecycle: it pulls
// from an upstream producer, emits client-visible events immediately, and
// batches records for best-effort persistence on a time cadence independent
// of emission. Each request gets its own Pipeline instance with no shared
// mutable state between requests and no background goroutines. The flush
// cadence is checked inline after each upstream item so ordering stays
// deterministic and testable.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mirage-sh/mirage/decode"
	"github.com/mirage-sh/mirage/log"
	"github.com/mirage-sh/mirage/metrics"
	"github.com/mirage-sh/mirage/types"
)

// DefaultFlushInterval is the elapsed time after which pending records are
// flushed to the sink, checked after processing each upstream item.
const DefaultFlushInterval = 200 * time.Millisecond

// finalFlushTimeout bounds the termination flush and summary write so a
// hung sink cannot pin a finished request.
const finalFlushTimeout = 10 * time.Second

// errorSummaryPrefix prefixes the summary text when a request produced no
// output but accumulated error lines.
const errorSummaryPrefix = "error: "

// Config configures a Pipeline.
type Config struct {
	// Meta is the request identity. Required and validated.
	Meta *types.SessionMeta
	// Sink receives batched records and the final summary. Required.
	Sink Sink
	// Emitter is the client event channel. Required.
	Emitter Emitter
	// Fields are the tracked field names for raw text producers, in
	// order. The first field is the primary output field whose value
	// becomes the persisted summary text.
	Fields []string
	// FlushInterval overrides DefaultFlushInterval when > 0.
	FlushInterval time.Duration
	// Logger is an optional logger; a request-scoped one is created
	// when nil.
	Logger *log.Logger
	// Collector is an optional metrics collector (nil-safe).
	Collector *metrics.Collector
}

// Pipeline processes a single request. Not safe for concurrent use: it is
// driven by one goroutine, suspending only on producer reads and sink
// writes. Create one per request and discard it after Run returns.
type Pipeline struct {
	meta      *types.SessionMeta
	sink      Sink
	emitter   Emitter
	fields    []string
	interval  time.Duration
	logger    *log.Logger
	collector *metrics.Collector

	start     time.Time
	seq       int64
	output    strings.Builder
	errBuf    strings.Builder
	tokensIn  int
	tokensOut int

	encounteredError bool
	pending          []*types.EventRecord
	lastFlush        time.Time
	emitFailed       bool
	finalized        bool
}

// New creates a pipeline for one request.
func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Meta.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session metadata: %w", err)
	}
	if cfg.Sink == nil {
		return nil, errors.New("pipeline requires a sink")
	}
	if cfg.Emitter == nil {
		return nil, errors.New("pipeline requires an emitter")
	}

	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = DefaultFlushInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewLogger(cfg.Meta)
	}

	return &Pipeline{
		meta:      cfg.Meta,
		sink:      cfg.Sink,
		emitter:   cfg.Emitter,
		fields:    cfg.Fields,
		interval:  interval,
		logger:    logger,
		collector: cfg.Collector,
	}, nil
}

// RunText drives a raw text producer through the field decoders.
// Each chunk is routed through every decoder; delta emissions become
// immediate client events tagged with the field name. The full output is
// derived from the decoders' completion values merged with the producer's
// structured result, the result being authoritative for any field the
// decoders left empty or partial. Exactly one result event is emitted on
// success, then done; on failure a single error event, then done. The
// finalizer runs exactly once on every path.
func (p *Pipeline) RunText(ctx context.Context, producer TextStream) error {
	p.begin()
	set := decode.NewSet(p.fields...)

	var runErr *Error
	for {
		chunk, err := producer.Recv(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			runErr = p.classify(ctx, err)
			break
		}

		for _, em := range set.Feed(chunk) {
			switch em.Kind {
			case decode.EmissionDelta:
				p.emit(types.NewDeltaEvent(em.Field, em.Delta))
				p.appendRecord("delta", em.Field, em.Delta)
				p.collector.AddDeltasEmitted(1)
			case decode.EmissionComplete:
				p.collector.IncFieldCompleted()
				p.logger.Debug("field complete", map[string]any{
					"field": em.Field,
					"bytes": len(em.Value),
				})
			}
		}

		p.maybeFlush(ctx)

		if p.emitFailed {
			runErr = &Error{Kind: ErrorEmit, Err: errors.New("client event channel closed")}
			break
		}
	}

	// Unconditional flush at producer end or failure, so nothing is lost
	// even when the stream ends mid-interval.
	p.flush(ctx)

	fields := set.CompletedValues()
	if result := producer.Result(); result != nil {
		for name, value := range result.Fields {
			if _, ok := fields[name]; !ok {
				fields[name] = value
			}
		}
		p.tokensIn = result.TokensIn
		p.tokensOut = result.TokensOut
	}

	if len(p.fields) > 0 {
		p.output.WriteString(fields[p.fields[0]])
	}

	if runErr != nil {
		if runErr.Kind == ErrorUpstream {
			p.errBuf.WriteString(runErr.Error())
		}
		return p.fail(ctx, runErr)
	}

	latency := time.Since(p.start).Milliseconds()
	p.emit(types.NewResultEvent(fields, p.tokensIn, p.tokensOut, latency))
	p.appendRecord("result", "", p.output.String())
	p.emit(types.NewDoneEvent())

	p.finalize(ctx)
	p.collector.IncStreamCompleted()
	return nil
}

// RunEvents drives a structured event producer. Each event is emitted to
// the client immediately and appended verbatim to the batch queue. Error
// lines and a non-zero status exit set the sticky error flag; counters are
// last-write-wins. A producer failure is recorded as a synthetic stderr
// line plus non-zero status and surfaced as one client error event.
func (p *Pipeline) RunEvents(ctx context.Context, producer EventStream) error {
	p.begin()

	var runErr *Error
	for {
		event, err := producer.Recv(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			runErr = p.classify(ctx, err)
			break
		}

		switch event.Kind {
		case types.ExecEventToken:
			p.output.WriteString(event.Text)
			p.emit(types.NewDeltaEvent("output", event.Text))
			p.appendRecord("token", "", event.Text)

		case types.ExecEventStderr:
			p.encounteredError = true
			p.errBuf.WriteString(event.Text)
			p.emit(types.NewDeltaEvent("stderr", event.Text))
			p.appendRecord("stderr", "", event.Text)

		case types.ExecEventStatus:
			// Later counters overwrite earlier ones.
			p.tokensIn = event.TokensIn
			p.tokensOut = event.TokensOut
			if event.ExitCode != 0 {
				p.encounteredError = true
			}
			p.appendRecord("status", "", strconv.Itoa(event.ExitCode))

		default:
			p.logger.Warn("ignoring unknown event kind", map[string]any{
				"kind": string(event.Kind),
			})
		}

		p.maybeFlush(ctx)

		if p.emitFailed {
			runErr = &Error{Kind: ErrorEmit, Err: errors.New("client event channel closed")}
			break
		}
	}

	p.flush(ctx)

	if runErr != nil {
		if runErr.Kind == ErrorUpstream {
			// Synthetic stderr + non-zero status so the persisted record
			// stream reflects the failure the way a failed command would.
			p.encounteredError = true
			p.errBuf.WriteString(runErr.Error())
			p.appendRecord("stderr", "", runErr.Error())
			p.appendRecord("status", "", "1")
		}
		return p.fail(ctx, runErr)
	}

	p.emit(types.NewDoneEvent())
	p.finalize(ctx)
	p.collector.IncStreamCompleted()
	return nil
}

// begin stamps the pipeline start; latency and the flush cadence both
// derive from it.
func (p *Pipeline) begin() {
	p.start = time.Now()
	p.lastFlush = p.start
	p.collector.IncStreamStarted()
	p.logger.Debug("pipeline started", map[string]any{
		"fields": p.fields,
	})
}

// classify converts a producer error into a kinded pipeline error.
func (p *Pipeline) classify(ctx context.Context, err error) *Error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		p.collector.IncStreamCanceled()
		return &Error{Kind: ErrorCanceled, Err: err}
	}
	p.collector.IncUpstreamError()
	return &Error{Kind: ErrorUpstream, Err: err}
}

// fail emits the terminal error and done events, finalizes, and returns
// the classified error. Emission is skipped automatically when the client
// is already gone.
func (p *Pipeline) fail(ctx context.Context, runErr *Error) error {
	if runErr.Kind == ErrorUpstream {
		p.encounteredError = true
		p.emit(types.NewErrorEvent(runErr.Error()))
		p.appendRecord("error", "", runErr.Error())
		p.logger.Error("upstream producer failed", map[string]any{
			"error": runErr.Error(),
		})
	}
	p.emit(types.NewDoneEvent())

	p.finalize(ctx)
	if runErr.Kind == ErrorUpstream {
		p.collector.IncStreamFailed()
	}
	return runErr
}

// emit delivers one event to the client channel. A failed emit marks the
// channel dead; subsequent emits become no-ops so the pipeline can still
// flush and finalize.
func (p *Pipeline) emit(event *types.StreamEvent) {
	if p.emitFailed {
		return
	}
	if err := p.emitter.Emit(event); err != nil {
		p.emitFailed = true
		p.logger.Warn("client emit failed, stopping delivery", map[string]any{
			"error": err.Error(),
		})
	}
}

// appendRecord queues one record for the next flush.
func (p *Pipeline) appendRecord(kind, field, text string) {
	p.seq++
	p.pending = append(p.pending, &types.EventRecord{
		SessionID: p.meta.SessionID,
		RequestID: p.meta.RequestID,
		Seq:       p.seq,
		Kind:      kind,
		Field:     field,
		Text:      text,
		Ts:        types.Timestamp(time.Now()),
	})
}

// maybeFlush flushes when the interval has elapsed since the last flush.
// Checked inline after each upstream item; there is no timer goroutine.
func (p *Pipeline) maybeFlush(ctx context.Context) {
	if time.Since(p.lastFlush) > p.interval {
		p.flush(ctx)
	}
}

// flush bulk-writes pending records to the sink and clears the queue.
// Failures are logged and swallowed: on failure the batch is kept for the
// next attempt, but the clock still advances so a dead sink is retried at
// the flush cadence rather than per event.
func (p *Pipeline) flush(ctx context.Context) {
	p.lastFlush = time.Now()
	if len(p.pending) == 0 {
		return
	}

	batch := p.pending
	p.pending = nil

	if err := p.sink.AppendEvents(ctx, batch); err != nil {
		p.collector.IncFlushFailure()
		p.logger.Warn("event flush failed (best effort)", map[string]any{
			"records": len(batch),
			"error":   err.Error(),
		})
		// Keep the batch ahead of anything appended meanwhile.
		p.pending = append(batch, p.pending...)
		return
	}

	p.collector.IncFlush()
	p.logger.Debug("flushed events", map[string]any{
		"records": len(batch),
	})
}

// finalize computes and writes the single summary record. Runs exactly
// once per request regardless of path; one more flush precedes it so the
// summary never lands before its events. The write uses a detached
// context: the client may already be gone, and a summary write failure
// must never re-raise into a stream that has already emitted done.
func (p *Pipeline) finalize(ctx context.Context) {
	if p.finalized {
		return
	}
	p.finalized = true

	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalFlushTimeout)
	defer cancel()

	p.flush(finalCtx)

	summary := &types.Summary{
		LatencyMs: time.Since(p.start).Milliseconds(),
		TokensIn:  p.tokensIn,
		TokensOut: p.tokensOut,
	}
	if out := p.output.String(); out != "" {
		summary.Output = &out
	} else if p.encounteredError && p.errBuf.Len() > 0 {
		msg := errorSummaryPrefix + strings.TrimSpace(p.errBuf.String())
		summary.Output = &msg
	}

	if err := p.sink.WriteSummary(finalCtx, p.meta.RequestID, summary); err != nil {
		p.collector.IncSummaryFailure()
		p.logger.Error("summary write failed (best effort)", map[string]any{
			"error": err.Error(),
		})
		return
	}

	p.collector.IncSummaryWritten()
	p.logger.Info("request finalized", map[string]any{
		"latency_ms": summary.LatencyMs,
		"tokens_in":  summary.TokensIn,
		"tokens_out": summary.TokensOut,
		"has_output": summary.Output != nil,
	})
}
