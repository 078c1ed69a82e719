// Package s3blob stores and retrieves snapshot archives on S3-compatible
// object storage. It backs the nightly JSONL dumps of the event and market
// mirrors and the retention pruning that follows them. Any provider speaking
// the S3 API works: AWS itself, MinIO, iDrive e2, Cloudflare R2.
package s3blob

import (
	"context"
	"fmt"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig describes the target bucket and how to reach it.
type ClientConfig struct {
	// Endpoint overrides the AWS endpoint for S3-compatible providers.
	// Empty means standard AWS S3.
	Endpoint string

	// Region is required even by providers that ignore it.
	Region string

	// Bucket receives all snapshot objects.
	Bucket string

	AccessKey string
	SecretKey string

	// UseSSL picks the scheme when Endpoint is given without one.
	UseSSL bool

	// ForcePathStyle puts the bucket in the URL path instead of the host.
	// Most non-AWS providers need this.
	ForcePathStyle bool
}

// Client holds a configured S3 connection and the snapshot bucket name.
// Writer and Reader are built on top of it.
type Client struct {
	s3     *s3.Client
	bucket string
}

// New validates cfg and dials the object store. Credentials are always
// static key pairs; the ambient AWS credential chain is deliberately not
// consulted so a misconfigured environment cannot silently pick up
// unrelated credentials.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3blob: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3blob: region is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	return &Client{
		s3:     s3.NewFromConfig(awsCfg, cfg.s3Options()...),
		bucket: cfg.Bucket,
	}, nil
}

// s3Options translates the provider-compatibility fields into SDK options.
func (cfg ClientConfig) s3Options() []func(*s3.Options) {
	var opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := withScheme(cfg.Endpoint, cfg.UseSSL)
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	if cfg.ForcePathStyle {
		opts = append(opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	return opts
}

// Health verifies the bucket exists and the credentials can reach it.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.bucket),
	})
	if err != nil {
		return fmt.Errorf("s3blob: head bucket %s: %w", c.bucket, err)
	}
	return nil
}

// Close exists for symmetry with the other infrastructure clients. The SDK
// client holds no resources that need explicit release.
func (c *Client) Close() error {
	return nil
}

// S3 exposes the underlying SDK client.
func (c *Client) S3() *s3.Client {
	return c.s3
}

// Bucket returns the configured snapshot bucket.
func (c *Client) Bucket() string {
	return c.bucket
}

// withScheme prepends http:// or https:// when endpoint carries no scheme.
func withScheme(endpoint string, useSSL bool) string {
	if parsed, err := url.Parse(endpoint); err == nil && parsed.Scheme != "" {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}
