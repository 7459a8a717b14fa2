package cmd

import (
	"context"
	"fmt"

	"github.com/mirage-sh/mirage/adapter"
	adapterredis "github.com/mirage-sh/mirage/adapter/redis"
	"github.com/mirage-sh/mirage/adapter/webhook"
	"github.com/mirage-sh/mirage/cli/config"
	"github.com/mirage-sh/mirage/model"
	"github.com/mirage-sh/mirage/pipeline"
	"github.com/mirage-sh/mirage/server"
	"github.com/mirage-sh/mirage/store"
	"github.com/mirage-sh/mirage/types"
)

// buildSink constructs the configured sink.
func buildSink(cfg *config.Config) (pipeline.Sink, error) {
	switch cfg.Storage.Backend {
	case "", "memory":
		return store.NewMemory(), nil
	case "redis":
		return store.NewRedis(store.RedisConfig{
			URL:           cfg.Storage.RedisURL,
			StreamPrefix:  cfg.Storage.StreamPrefix,
			SummaryPrefix: cfg.Storage.SummaryPrefix,
			TTL:           cfg.Storage.TTL.Duration,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// buildArchiver constructs the transcript archiver when configured.
func buildArchiver(ctx context.Context, cfg *config.Config) (*store.Archiver, error) {
	if cfg.Storage.S3.Bucket == "" {
		return nil, nil
	}
	return store.NewArchiver(ctx, store.S3Config{
		Bucket:       cfg.Storage.S3.Bucket,
		Prefix:       cfg.Storage.S3.Prefix,
		Region:       cfg.Storage.S3.Region,
		Endpoint:     cfg.Storage.S3.Endpoint,
		UsePathStyle: cfg.Storage.S3.UsePathStyle,
	})
}

// buildAdapters constructs the configured notification adapters.
func buildAdapters(cfg *config.Config) ([]adapter.Adapter, error) {
	switch cfg.Adapter.Type {
	case "":
		return nil, nil
	case "webhook":
		retries := webhook.DefaultRetries
		if cfg.Adapter.Retries != nil {
			retries = *cfg.Adapter.Retries
		}
		a, err := webhook.New(webhook.Config{
			URL:     cfg.Adapter.URL,
			Headers: cfg.Adapter.Headers,
			Timeout: cfg.Adapter.Timeout.Duration,
			Retries: retries,
		})
		if err != nil {
			return nil, err
		}
		return []adapter.Adapter{a}, nil
	case "redis":
		retries := adapterredis.DefaultRetries
		if cfg.Adapter.Retries != nil {
			retries = *cfg.Adapter.Retries
		}
		a, err := adapterredis.New(adapterredis.Config{
			URL:     cfg.Adapter.URL,
			Channel: cfg.Adapter.Channel,
			Timeout: cfg.Adapter.Timeout.Duration,
			Retries: retries,
		})
		if err != nil {
			return nil, err
		}
		return []adapter.Adapter{a}, nil
	default:
		return nil, fmt.Errorf("unknown adapter type %q", cfg.Adapter.Type)
	}
}

// buildProducer constructs the live model producer factory.
func buildProducer(cfg *config.Config) (server.ProducerFunc, error) {
	client, err := model.NewClient(nil, model.Config{
		BaseURL:  cfg.Model.BaseURL,
		APIKey:   cfg.Model.APIKey,
		Model:    cfg.Model.Model,
		ChatPath: cfg.Model.ChatPath,
		Prompt:   cfg.Model.Prompt,
	})
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, meta *types.SessionMeta) (pipeline.TextStream, error) {
		return client.Narrate(ctx, meta.Command)
	}, nil
}
