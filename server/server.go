// Package server exposes the HTTP/SSE delivery surface. One POST opens one
// narrated command stream: the handler validates identity, spins up a
// per-request pipeline, and streams its events to the client as
// server-sent events while the pipeline persists in the background of the
// same goroutine.
package server

import (
	"bufio"
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/mirage-sh/mirage/adapter"
	"github.com/mirage-sh/mirage/log"
	"github.com/mirage-sh/mirage/metrics"
	"github.com/mirage-sh/mirage/pipeline"
	"github.com/mirage-sh/mirage/store"
	"github.com/mirage-sh/mirage/types"
)

// DefaultFields are the decoded response fields when none are configured.
var DefaultFields = []string{"output", "explanation"}

// ProducerFunc opens the upstream producer for one request.
type ProducerFunc func(ctx context.Context, meta *types.SessionMeta) (pipeline.TextStream, error)

// Config configures the server.
type Config struct {
	// Producer opens the upstream stream per request. Required.
	Producer ProducerFunc
	// Sink receives batched records and summaries. Required.
	Sink pipeline.Sink
	// Archiver, when set, uploads a transcript per finished request.
	Archiver *store.Archiver
	// Adapters receive completion notifications, best-effort.
	Adapters []adapter.Adapter
	// Fields are the decoded response fields (default output, explanation).
	Fields []string
	// FlushInterval overrides the pipeline flush cadence.
	FlushInterval time.Duration
	// Authorizer gates session access (default allow-all).
	Authorizer SessionAuthorizer
	// Collector is an optional metrics collector.
	Collector *metrics.Collector
	// Logger is the process logger; a default one is created when nil.
	Logger *log.Logger
}

// Server serves the narration API.
type Server struct {
	config Config
	logger *log.Logger
	app    *fiber.App
}

// commandRequest is the POST body opening one stream.
type commandRequest struct {
	Command string `json:"command"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// New creates a server from the given config.
func New(cfg Config) (*Server, error) {
	if cfg.Producer == nil {
		return nil, errors.New("server requires a producer")
	}
	if cfg.Sink == nil {
		return nil, errors.New("server requires a sink")
	}
	if len(cfg.Fields) == 0 {
		cfg.Fields = DefaultFields
	}
	if cfg.Authorizer == nil {
		cfg.Authorizer = AllowAll{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewProcessLogger()
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{config: cfg, logger: cfg.Logger, app: app}

	app.Post("/api/sessions/:session/commands", s.handleCommand)
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(map[string]string{"status": "ok", "version": types.Version})
	})
	app.Get("/metrics", s.handleMetrics)

	return s, nil
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App { return s.app }

// Run starts the server on the given listening address.
func (s *Server) Run(addr string) error {
	s.logger.Info("starting server", map[string]any{
		"listen": addr,
		"fields": s.config.Fields,
	})
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// handleCommand opens one narrated command stream.
// Identity is validated before any pipeline exists: a blank session id or
// empty command is a plain 400, not a stream.
func (s *Server) handleCommand(c *fiber.Ctx) error {
	// The path parameter arrives percent-encoded; a blank session id must
	// be caught after unescaping or %20 would slip through as a real id.
	sessionID, err := url.PathUnescape(c.Params("session"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "malformed session id"})
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "session id is required"})
	}

	var req commandRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid request body"})
	}
	if strings.TrimSpace(req.Command) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "command is required"})
	}

	token := strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
	if err := s.config.Authorizer.Authorize(c.Context(), sessionID, token); err != nil {
		return c.Status(fiber.StatusForbidden).JSON(errorResponse{Error: "session access denied"})
	}

	meta := &types.SessionMeta{
		SessionID: sessionID,
		RequestID: uuid.NewString(),
		Command:   req.Command,
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Request-Id", meta.RequestID)

	// The fasthttp request context outlives the handler and is canceled
	// when the client disconnects; the pipeline hangs off it.
	reqCtx := c.Context()
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		s.runStream(reqCtx, meta, w)
	}))

	return nil
}

// failedOpen is a producer whose stream failed before yielding anything.
// Its first Recv raises the open error, which the pipeline classifies as
// an upstream failure and finalizes like any other.
type failedOpen struct{ err error }

func (f *failedOpen) Recv(context.Context) (string, error) { return "", f.err }
func (f *failedOpen) Result() *pipeline.TextResult         { return nil }

// runStream drives one request's pipeline inside the body stream writer.
func (s *Server) runStream(ctx context.Context, meta *types.SessionMeta, w *bufio.Writer) {
	logger := log.NewLogger(meta)

	sink := s.config.Sink
	if s.config.Archiver != nil {
		sink = store.NewArchivingSink(sink, s.config.Archiver, meta, logger)
	}

	p, err := pipeline.New(pipeline.Config{
		Meta:          meta,
		Sink:          sink,
		Emitter:       NewSSEEmitter(w),
		Fields:        s.config.Fields,
		FlushInterval: s.config.FlushInterval,
		Logger:        logger,
		Collector:     s.config.Collector,
	})
	if err != nil {
		logger.Error("pipeline setup failed", map[string]any{"error": err.Error()})
		return
	}

	producer, err := s.config.Producer(ctx, meta)
	if err != nil {
		// Surface the open failure through the pipeline so the request
		// still gets its error event, flush, and summary record.
		logger.Error("producer open failed", map[string]any{"error": err.Error()})
		producer = &failedOpen{err: err}
	}

	runErr := p.RunText(ctx, producer)
	s.notifyAdapters(meta, runErr, sink)
}

// notifyAdapters publishes the completion event to every adapter.
// Publish failures are logged and swallowed.
func (s *Server) notifyAdapters(meta *types.SessionMeta, runErr error, sink pipeline.Sink) {
	if len(s.config.Adapters) == 0 {
		return
	}

	outcome := adapter.OutcomeSuccess
	switch {
	case pipeline.IsUpstreamError(runErr):
		outcome = adapter.OutcomeUpstreamError
	case pipeline.IsCanceledError(runErr):
		outcome = adapter.OutcomeCanceled
	case pipeline.IsEmitError(runErr):
		outcome = adapter.OutcomeClientGone
	}

	var summary *types.Summary
	if m, ok := sink.(interface{ Summary(string) *types.Summary }); ok {
		summary = m.Summary(meta.RequestID)
	}
	event := adapter.NewSessionCompletedEvent(meta, outcome, summary)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, a := range s.config.Adapters {
		if err := a.Publish(ctx, event); err != nil {
			s.logger.Warn("completion publish failed (best effort)", map[string]any{
				"request_id": meta.RequestID,
				"error":      err.Error(),
			})
		}
	}
}

func (s *Server) handleMetrics(c *fiber.Ctx) error {
	if s.config.Collector == nil {
		return c.JSON(map[string]any{})
	}
	return c.JSON(s.config.Collector.Snapshot())
}
