package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/mirage-sh/mirage/log"
	"github.com/mirage-sh/mirage/pipeline"
	"github.com/mirage-sh/mirage/types"
)

// S3Config holds configuration for the transcript archiver.
type S3Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string `yaml:"bucket"`
	// Prefix is the key prefix within the bucket (optional).
	Prefix string `yaml:"prefix"`
	// Region is the AWS region (optional, uses default chain if empty).
	Region string `yaml:"region"`
	// Endpoint is a custom S3 endpoint URL for S3-compatible providers
	// (e.g. Cloudflare R2, MinIO). Empty uses the default AWS endpoint.
	Endpoint string `yaml:"endpoint"`
	// UsePathStyle forces path-style addressing (bucket in path, not
	// subdomain). Required by most S3-compatible providers.
	UsePathStyle bool `yaml:"use_path_style"`
}

// Validate checks that required S3 configuration is present.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("s3 bucket is required")
	}
	return nil
}

// s3API is the slice of the S3 client the archiver uses.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver uploads one JSONL transcript object per finished request.
type Archiver struct {
	client s3API
	bucket string
	prefix string
}

// NewArchiver creates an archiver from the given config.
// Uses the AWS SDK default credential chain (env vars, shared config,
// IAM role).
func NewArchiver(ctx context.Context, cfg S3Config) (*Archiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &Archiver{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// NewArchiverWithClient wraps an existing S3 client; used by tests.
func NewArchiverWithClient(client s3API, bucket, prefix string) *Archiver {
	return &Archiver{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// transcriptLine is one JSONL line in an archived transcript. The summary
// line closes the object.
type transcriptLine struct {
	Seq     int64          `json:"seq,omitempty"`
	Kind    string         `json:"kind"`
	Field   string         `json:"field,omitempty"`
	Text    string         `json:"text,omitempty"`
	Ts      string         `json:"ts,omitempty"`
	Summary *types.Summary `json:"summary,omitempty"`
}

// Archive uploads the full transcript of one request as a single JSONL
// object keyed by session and request id.
func (a *Archiver) Archive(ctx context.Context, meta *types.SessionMeta, records []*types.EventRecord, summary *types.Summary) error {
	var body bytes.Buffer
	enc := json.NewEncoder(&body)

	for _, rec := range records {
		line := transcriptLine{
			Seq:   rec.Seq,
			Kind:  rec.Kind,
			Field: rec.Field,
			Text:  rec.Text,
			Ts:    rec.Ts,
		}
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("s3 archiver: encode record: %w", err)
		}
	}
	if err := enc.Encode(transcriptLine{Kind: "summary", Summary: summary}); err != nil {
		return fmt.Errorf("s3 archiver: encode summary: %w", err)
	}

	key := a.key(meta)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("s3 archiver: put %s: %w", key, err)
	}
	return nil
}

func (a *Archiver) key(meta *types.SessionMeta) string {
	key := fmt.Sprintf("%s/%s.jsonl", meta.SessionID, meta.RequestID)
	if a.prefix != "" {
		key = a.prefix + "/" + key
	}
	return key
}

// ArchivingSink decorates an inner sink with per-request transcript
// archival. Create one per request: it buffers every record it sees and,
// after the summary write, uploads the transcript. Archival is best-effort
// and never fails the summary write.
type ArchivingSink struct {
	inner    pipeline.Sink
	archiver *Archiver
	meta     *types.SessionMeta
	logger   *log.Logger

	records []*types.EventRecord
}

// NewArchivingSink wraps inner with transcript archival for one request.
func NewArchivingSink(inner pipeline.Sink, archiver *Archiver, meta *types.SessionMeta, logger *log.Logger) *ArchivingSink {
	return &ArchivingSink{inner: inner, archiver: archiver, meta: meta, logger: logger}
}

// AppendEvents forwards to the inner sink and buffers for the transcript.
// Records are buffered even when the inner write fails: the transcript
// covers what the pipeline produced, not what the inner sink accepted.
func (s *ArchivingSink) AppendEvents(ctx context.Context, records []*types.EventRecord) error {
	s.records = append(s.records, records...)
	return s.inner.AppendEvents(ctx, records)
}

// WriteSummary forwards to the inner sink, then uploads the transcript.
func (s *ArchivingSink) WriteSummary(ctx context.Context, requestID string, summary *types.Summary) error {
	err := s.inner.WriteSummary(ctx, requestID, summary)

	if aerr := s.archiver.Archive(ctx, s.meta, s.records, summary); aerr != nil {
		s.logger.Warn("transcript archive failed (best effort)", map[string]any{
			"error": aerr.Error(),
		})
	}
	return err
}

// Close closes the inner sink.
func (s *ArchivingSink) Close() error {
	return s.inner.Close()
}

var _ pipeline.Sink = (*ArchivingSink)(nil)
