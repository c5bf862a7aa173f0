package lode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/justapithecus/lode/lode"
	lodes3 "github.com/justapithecus/lode/lode/s3"

	"github.com/pithecene-io/unlockbench/metrics"
)

// Archive backends accepted by Open.
const (
	BackendFS     = "fs"
	BackendS3     = "s3"
	BackendMemory = "memory"
)

// S3Config holds configuration for the S3 archive backend.
type S3Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string
	// Prefix is the key prefix within the bucket (optional).
	Prefix string
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom endpoint for S3-compatible providers
	// (e.g. Cloudflare R2, MinIO).
	Endpoint string
	// UsePathStyle forces path-style addressing. Required by most
	// S3-compatible providers.
	UsePathStyle bool
}

// Validate checks that required S3 configuration is present.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("S3 bucket is required")
	}
	return nil
}

// ParseS3Path parses a path in format "bucket/prefix" or "bucket".
func ParseS3Path(path string) (bucket, prefix string) {
	bucket, prefix, _ = strings.Cut(path, "/")
	return bucket, prefix
}

// NewS3Factory builds a Lode store factory over an S3 bucket using the AWS
// SDK default credential chain.
func NewS3Factory(ctx context.Context, s3cfg S3Config) (lode.StoreFactory, error) {
	if err := s3cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*config.LoadOptions) error
	if s3cfg.Region != "" {
		opts = append(opts, config.WithRegion(s3cfg.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if s3cfg.Endpoint != "" {
		endpoint := s3cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if s3cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	client := s3.NewFromConfig(awsConfig, s3Opts...)

	return func() (lode.Store, error) {
		return lodes3.New(client, lodes3.Config{
			Bucket: s3cfg.Bucket,
			Prefix: s3cfg.Prefix,
		})
	}, nil
}

// Config selects an archive backend.
type Config struct {
	Backend string
	Dataset string
	Path    string
	S3      S3Config
}

// Enabled reports whether an archive backend is configured.
func (c Config) Enabled() bool {
	return c.Backend != ""
}

// Factory returns the store factory for the configured backend.
func (c Config) Factory(ctx context.Context) (lode.StoreFactory, error) {
	switch c.Backend {
	case BackendFS:
		if c.Path == "" {
			return nil, errors.New("archive path is required for the fs backend")
		}
		if err := os.MkdirAll(c.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create archive path: %w", err)
		}
		return lode.NewFSFactory(c.Path), nil
	case BackendS3:
		return NewS3Factory(ctx, c.S3)
	case BackendMemory:
		store := lode.NewMemory()
		return func() (lode.Store, error) { return store, nil }, nil
	default:
		return nil, fmt.Errorf("unknown archive backend %q", c.Backend)
	}
}

// Open builds the configured archive. It returns nil, nil when no backend
// is configured.
func Open(ctx context.Context, cfg Config, collector *metrics.Collector) (*Archive, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	factory, err := cfg.Factory(ctx)
	if err != nil {
		return nil, err
	}
	return NewArchive(cfg.Dataset, factory, collector)
}
