package config

import (
	"errors"
	"fmt"
	"time"
)

// DefaultListen is the default server listen address.
const DefaultListen = ":8420"

// Config represents a mirage.yaml configuration file.
// CLI flags always override config values.
type Config struct {
	// Listen is the HTTP listen address for serve.
	Listen string `yaml:"listen"`
	// Fields are the decoded response fields, in order. The first field
	// is the primary output field.
	Fields []string `yaml:"fields"`
	// FlushInterval is the persistence flush cadence.
	FlushInterval Duration `yaml:"flush_interval"`
	// Model configures the upstream model producer.
	Model ModelConfig `yaml:"model"`
	// Storage configures the durable sink.
	Storage StorageConfig `yaml:"storage"`
	// Adapter configures the completion notification adapter.
	Adapter AdapterConfig `yaml:"adapter"`
}

// ModelConfig holds upstream model settings from the config file.
type ModelConfig struct {
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	ChatPath string `yaml:"chat_path"`
	Prompt   string `yaml:"prompt"`
}

// StorageConfig holds sink settings from the config file.
type StorageConfig struct {
	// Backend selects the sink: memory (default) or redis.
	Backend string `yaml:"backend"`
	// RedisURL is the Redis connection URL for the redis backend.
	RedisURL string `yaml:"redis_url"`
	// StreamPrefix overrides the Redis event stream key prefix.
	StreamPrefix string `yaml:"stream_prefix"`
	// SummaryPrefix overrides the Redis summary key prefix.
	SummaryPrefix string `yaml:"summary_prefix"`
	// TTL expires persisted events and summaries.
	TTL Duration `yaml:"ttl"`
	// S3 configures optional transcript archival.
	S3 S3Config `yaml:"s3"`
}

// S3Config holds transcript archival settings from the config file.
type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// AdapterConfig holds notification adapter settings from the config file.
type AdapterConfig struct {
	// Type selects the adapter: webhook, redis, or empty for none.
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "200ms", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "200ms" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Validate checks cross-field constraints and applies defaults.
func (c *Config) Validate() error {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}

	switch c.Storage.Backend {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("unknown storage backend %q (memory, redis)", c.Storage.Backend)
	}
	if c.Storage.Backend == "redis" && c.Storage.RedisURL == "" {
		return errors.New("storage backend redis requires redis_url")
	}

	switch c.Adapter.Type {
	case "", "webhook", "redis":
	default:
		return fmt.Errorf("unknown adapter type %q (webhook, redis)", c.Adapter.Type)
	}
	if c.Adapter.Type != "" && c.Adapter.URL == "" {
		return fmt.Errorf("adapter type %s requires a url", c.Adapter.Type)
	}

	return nil
}
