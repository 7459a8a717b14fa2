// Package redis publishes session completion events over Redis pub/sub.
//
// Each event is one JSON PUBLISH to a configurable channel. Transient
// connection failures are retried with exponential backoff.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/mirage-sh/mirage/adapter"
)

const (
	// DefaultChannel is the pub/sub channel used when none is configured.
	DefaultChannel = "mirage:session_completed"

	// DefaultTimeout bounds a single PUBLISH.
	DefaultTimeout = 5 * time.Second

	// DefaultRetries is the number of retry attempts after the first failure.
	DefaultRetries = 3

	// backoffBase is the delay before the first retry. Each subsequent
	// retry doubles it.
	backoffBase = 500 * time.Millisecond
)

// Config configures the Redis pub/sub adapter.
type Config struct {
	// URL is the Redis connection URL. Required.
	// Format: redis://[:password@]host:port[/db]
	URL string `yaml:"url"`
	// Channel is the pub/sub channel. Defaults to DefaultChannel.
	Channel string `yaml:"channel"`
	// Timeout bounds each PUBLISH. Defaults to DefaultTimeout.
	Timeout time.Duration `yaml:"timeout"`
	// Retries is the retry count after the initial attempt.
	Retries int `yaml:"retries"`
}

// Adapter delivers session completion events via Redis PUBLISH.
type Adapter struct {
	cfg    Config
	client *goredis.Client
}

// New validates cfg, connects a client, and returns the adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Adapter{
		cfg:    cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// Publish sends the event as JSON to the configured channel, retrying
// transient failures. Subscribers may be absent; PUBLISH to a channel
// with no listeners still succeeds.
func (a *Adapter) Publish(ctx context.Context, event *adapter.SessionCompletedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: encode event: %w", err)
	}

	attempts := 1 + a.cfg.Retries
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := backoffBase << (attempt - 1)
			select {
			case <-ctx.Done():
				return fmt.Errorf("redis: canceled during backoff: %w", ctx.Err())
			case <-time.After(delay):
			}
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("redis: canceled: %w", err)
		}

		lastErr = a.publish(ctx, payload)
		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("redis: gave up after %d attempts: %w", attempts, lastErr)
}

// publish performs a single PUBLISH bounded by the configured timeout.
func (a *Adapter) publish(ctx context.Context, payload []byte) error {
	publishCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	return a.client.Publish(publishCtx, a.cfg.Channel, payload).Err()
}

// Close shuts down the underlying client.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
