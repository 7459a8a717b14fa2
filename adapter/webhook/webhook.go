// Package webhook posts session completion events to an HTTP endpoint.
//
// Each published event is one JSON POST. Network errors and 5xx responses
// are retried with exponential backoff; 4xx responses fail immediately.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mirage-sh/mirage/adapter"
	"github.com/mirage-sh/mirage/iox"
)

const (
	// DefaultTimeout bounds a single delivery attempt.
	DefaultTimeout = 10 * time.Second

	// DefaultRetries is the number of retry attempts after the first failure.
	DefaultRetries = 3

	// backoffBase is the delay before the first retry. Each subsequent
	// retry doubles it.
	backoffBase = 500 * time.Millisecond
)

// Config configures the webhook adapter.
type Config struct {
	// URL is the endpoint events are posted to. Required.
	URL string `yaml:"url"`
	// Headers are added to every request, e.g. for auth tokens.
	Headers map[string]string `yaml:"headers"`
	// Timeout bounds each attempt. Defaults to DefaultTimeout.
	Timeout time.Duration `yaml:"timeout"`
	// Retries is the retry count after the initial attempt.
	Retries int `yaml:"retries"`
}

// Adapter delivers session completion events over HTTP.
type Adapter struct {
	cfg    Config
	client *http.Client
}

// New validates cfg and returns a webhook adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook adapter requires a URL")
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Adapter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// HTTPError reports a non-2xx response from the endpoint.
type HTTPError struct {
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Status)
}

// Retriable reports whether delivery may be retried. Server-side failures
// are retriable, client errors are not.
func (e *HTTPError) Retriable() bool {
	return e.Status >= 500
}

// Publish posts the event as JSON, retrying transient failures.
func (a *Adapter) Publish(ctx context.Context, event *adapter.SessionCompletedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: encode event: %w", err)
	}

	attempts := 1 + a.cfg.Retries
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := backoffBase << (attempt - 1)
			select {
			case <-ctx.Done():
				return fmt.Errorf("webhook: canceled during backoff: %w", ctx.Err())
			case <-time.After(delay):
			}
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("webhook: canceled: %w", err)
		}

		lastErr = a.post(ctx, payload)
		if lastErr == nil {
			return nil
		}

		var httpErr *HTTPError
		if errors.As(lastErr, &httpErr) && !httpErr.Retriable() {
			return fmt.Errorf("webhook: non-retriable: %w", lastErr)
		}
	}

	return fmt.Errorf("webhook: gave up after %d attempts: %w", attempts, lastErr)
}

// post performs a single delivery attempt.
func (a *Adapter) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for name, value := range a.cfg.Headers {
		req.Header.Set(name, value)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return &HTTPError{Status: resp.StatusCode}
	}
	return nil
}

// Close releases idle connections.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

var _ adapter.Adapter = (*Adapter)(nil)
