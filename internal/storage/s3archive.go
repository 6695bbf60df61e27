package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3ArchiveConfig holds S3 archival configuration.
type S3ArchiveConfig struct {
	Region string `json:"region" yaml:"region"`
	Bucket string `json:"bucket" yaml:"bucket"`
	Prefix string `json:"prefix" yaml:"prefix"`

	// Endpoint is an optional custom endpoint for S3-compatible storage.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// Static credentials; IAM is used when unset.
	AccessKeyID     string `json:"access_key_id,omitempty" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty" yaml:"secret_access_key,omitempty"`

	// UsePathStyle forces path-style addressing (MinIO, LocalStack).
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// DefaultS3ArchiveConfig returns the default archive configuration.
func DefaultS3ArchiveConfig() S3ArchiveConfig {
	return S3ArchiveConfig{
		Region: "us-east-1",
		Bucket: "threat-sentinel-archive",
		Prefix: "reports/",
	}
}

// Validate checks if the configuration is valid.
func (c *S3ArchiveConfig) Validate() error {
	if c.Region == "" {
		return errors.New("s3: region is required")
	}
	if c.Bucket == "" {
		return errors.New("s3: bucket is required")
	}
	return nil
}

// S3Archive uploads incident reports to S3. It satisfies the report action's
// uploader interface.
type S3Archive struct {
	client *s3.Client
	config S3ArchiveConfig
}

// NewS3Archive creates an S3 archive client.
func NewS3Archive(ctx context.Context, cfg S3ArchiveConfig) (*S3Archive, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	slog.Info("s3 archive initialized", "bucket", cfg.Bucket, "region", cfg.Region)
	return &S3Archive{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		config: cfg,
	}, nil
}

// UploadReport stores one report under a date-partitioned key and returns
// its s3:// location.
func (a *S3Archive) UploadReport(ctx context.Context, key string, body []byte) (string, error) {
	fullKey := fmt.Sprintf("%s%s/%s", a.config.Prefix, time.Now().UTC().Format("2006/01/02"), key)

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.config.Bucket),
		Key:         aws.String(fullKey),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("s3: failed to upload report %s: %w", fullKey, err)
	}

	slog.Debug("archived report", "key", fullKey, "size", len(body))
	return fmt.Sprintf("s3://%s/%s", a.config.Bucket, fullKey), nil
}
