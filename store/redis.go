package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/mirage-sh/mirage/pipeline"
	"github.com/mirage-sh/mirage/types"
)

// DefaultStreamPrefix prefixes per-session event stream keys.
const DefaultStreamPrefix = "mirage:events:"

// DefaultSummaryPrefix prefixes per-request summary hash keys.
const DefaultSummaryPrefix = "mirage:summary:"

// DefaultMaxLen caps each session stream via approximate XADD trimming.
const DefaultMaxLen = 100_000

// RedisConfig configures the Redis sink.
type RedisConfig struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string `yaml:"url"`
	// StreamPrefix overrides the event stream key prefix.
	StreamPrefix string `yaml:"stream_prefix"`
	// SummaryPrefix overrides the summary hash key prefix.
	SummaryPrefix string `yaml:"summary_prefix"`
	// MaxLen caps per-session stream length (default 100k, 0 keeps it).
	MaxLen int64 `yaml:"max_len"`
	// TTL expires event streams and summaries after this duration.
	// Zero keeps them indefinitely.
	TTL time.Duration `yaml:"ttl"`
}

// Redis persists event records to per-session Redis Streams and summaries
// to per-request hashes. Record bodies travel msgpack-encoded; the hash
// keeps summary fields individually readable for inspection.
type Redis struct {
	config RedisConfig
	client *goredis.Client
}

// NewRedis creates a Redis sink from the given config.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis sink requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis sink: invalid URL: %w", err)
	}

	applyRedisDefaults(&cfg)
	return &Redis{config: cfg, client: goredis.NewClient(opts)}, nil
}

// NewRedisWithClient wraps an existing client; used by tests against
// miniredis.
func NewRedisWithClient(client *goredis.Client, cfg RedisConfig) *Redis {
	applyRedisDefaults(&cfg)
	return &Redis{config: cfg, client: client}
}

func applyRedisDefaults(cfg *RedisConfig) {
	if cfg.StreamPrefix == "" {
		cfg.StreamPrefix = DefaultStreamPrefix
	}
	if cfg.SummaryPrefix == "" {
		cfg.SummaryPrefix = DefaultSummaryPrefix
	}
	if cfg.MaxLen == 0 {
		cfg.MaxLen = DefaultMaxLen
	}
}

// AppendEvents XADDs the batch to each record's session stream in a single
// pipelined round trip, preserving batch order.
func (r *Redis) AppendEvents(ctx context.Context, records []*types.EventRecord) error {
	if len(records) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	touched := make(map[string]struct{})
	for _, rec := range records {
		body, err := msgpack.Marshal(rec)
		if err != nil {
			return fmt.Errorf("redis sink: encode record: %w", err)
		}

		key := r.config.StreamPrefix + rec.SessionID
		touched[key] = struct{}{}
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: key,
			MaxLen: r.config.MaxLen,
			Approx: true,
			Values: map[string]any{
				"seq":    rec.Seq,
				"record": body,
			},
		})
	}
	if r.config.TTL > 0 {
		for key := range touched {
			pipe.Expire(ctx, key, r.config.TTL)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis sink: append events: %w", err)
	}
	return nil
}

// WriteSummary HSETs the summary fields on the request's summary key.
func (r *Redis) WriteSummary(ctx context.Context, requestID string, summary *types.Summary) error {
	key := r.config.SummaryPrefix + requestID

	fields := map[string]any{
		"latency_ms": summary.LatencyMs,
		"tokens_in":  summary.TokensIn,
		"tokens_out": summary.TokensOut,
	}
	if summary.Output != nil {
		fields["output"] = *summary.Output
	}

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	if r.config.TTL > 0 {
		pipe.Expire(ctx, key, r.config.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis sink: write summary: %w", err)
	}
	return nil
}

// ReadEvents returns all records on a session's stream in order.
func (r *Redis) ReadEvents(ctx context.Context, sessionID string) ([]*types.EventRecord, error) {
	key := r.config.StreamPrefix + sessionID

	msgs, err := r.client.XRange(ctx, key, "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("redis sink: read events: %w", err)
	}

	records := make([]*types.EventRecord, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values["record"].(string)
		if !ok {
			return nil, fmt.Errorf("redis sink: stream %s entry %s has no record body", key, msg.ID)
		}
		var rec types.EventRecord
		if err := msgpack.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("redis sink: decode record %s: %w", msg.ID, err)
		}
		records = append(records, &rec)
	}
	return records, nil
}

// ReadSummary returns the summary for a request, or nil when absent.
func (r *Redis) ReadSummary(ctx context.Context, requestID string) (*types.Summary, error) {
	key := r.config.SummaryPrefix + requestID

	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis sink: read summary: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	summary := &types.Summary{}
	if v, ok := fields["output"]; ok {
		summary.Output = &v
	}
	summary.LatencyMs, _ = strconv.ParseInt(fields["latency_ms"], 10, 64)
	summary.TokensIn, _ = strconv.Atoi(fields["tokens_in"])
	summary.TokensOut, _ = strconv.Atoi(fields["tokens_out"])
	return summary, nil
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

var _ pipeline.Sink = (*Redis)(nil)
