// Package export writes finished pose sequences to S3-compatible object
// storage. Documents are msgpack-encoded so downstream consumers read the
// same wire format the estimator speaks.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/motionforge/posepipe/types"
)

// Config holds configuration for the S3 export sink.
type Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string
	// Prefix is the key prefix within the bucket (optional).
	Prefix string
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom S3 endpoint URL for S3-compatible providers
	// (e.g. Cloudflare R2, MinIO). Empty uses the default AWS endpoint.
	Endpoint string
	// UsePathStyle forces path-style addressing (bucket in path, not subdomain).
	// Required by most S3-compatible providers (R2, MinIO, etc.).
	UsePathStyle bool
}

// Validate checks that required S3 configuration is present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("S3 bucket is required")
	}
	return nil
}

// SequenceDocument is the exported artifact for one processing job.
type SequenceDocument struct {
	FormatVersion string                    `msgpack:"format_version"`
	JobID         string                    `msgpack:"job_id"`
	VideoID       string                    `msgpack:"video_id"`
	ExportedAt    time.Time                 `msgpack:"exported_at"`
	Observations  []*types.PoseObservation  `msgpack:"observations"`
	Verdicts      []types.QualityVerdict    `msgpack:"verdicts"`
	Entries       []types.LogicalFrameEntry `msgpack:"entries"`
}

// PutObjectAPI is the subset of the S3 client used by the sink.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads sequence documents to a bucket.
type S3Sink struct {
	config Config
	client PutObjectAPI
}

// New creates an S3 export sink.
// Uses AWS SDK default credential chain (env vars, shared config, IAM role).
func New(ctx context.Context, cfg Config) (*S3Sink, error) {
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

	return &S3Sink{
		config: cfg,
		client: s3.NewFromConfig(awsCfg, s3Opts...),
	}, nil
}

// NewWithClient creates a sink backed by an existing client.
func NewWithClient(cfg Config, client PutObjectAPI) (*S3Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &S3Sink{config: cfg, client: client}, nil
}

// Put uploads one sequence document. The object key is
// <prefix>/<job_id>.msgpack so jobs never overwrite each other.
func (s *S3Sink) Put(ctx context.Context, doc *SequenceDocument) (string, error) {
	if doc == nil || doc.JobID == "" {
		return "", errors.New("export: document requires a job ID")
	}

	body, err := msgpack.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("export: encode document: %w", err)
	}

	key := s.Key(doc.JobID)
	contentType := "application/msgpack"
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.config.Bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentType: &contentType,
	})
	if err != nil {
		return "", fmt.Errorf("export: put s3://%s/%s: %w", s.config.Bucket, key, err)
	}

	return key, nil
}

// Key returns the object key for a job ID under the configured prefix.
func (s *S3Sink) Key(jobID string) string {
	return path.Join(s.config.Prefix, jobID+".msgpack")
}
