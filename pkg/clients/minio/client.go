// Package minio provides the S3-compatible object store client used to
// archive security events, with OpenTelemetry tracing and platform error
// codes.
//
// # Connection Management
//
// MinIO uses stateless HTTP connections, so there is no pool to manage and
// nothing to close. The client is safe for concurrent use.
//
// # Configuration
//
// Create a client using [NewClient] with a [Config]. A config is
// [Config.Enabled] once Endpoint is set; under the service the fields come
// from TENANTAUTH_MINIO_ variables such as TENANTAUTH_MINIO_ENDPOINT and
// TENANTAUTH_MINIO_BUCKET:
//
//	cfg := minio.Config{Endpoint: "minio.internal:9000", AccessKey: "tenantauth", Bucket: "security-events"}
//	cfg.SecretKey = minio.Secret("my-secret-key")
//	client, err := minio.NewClient(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	if err := client.EnsureBucket(ctx); err != nil {
//	    return err
//	}
//
// For testing, use [NewFromStore] to inject a fake [ObjectStore].
//
// # OpenTelemetry Tracing
//
// EnsureBucket, PutObject and Health create spans with db.system, db.name
// (the bucket) and db.statement attributes, truncated to 100 characters.
//
// # Errors
//
// Deadline errors map to a retryable timeout code and other failures to
// an unavailable dependency code, so callers such as the event archive may
// retry the next batch.
package minio

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/tenantauth/pkg/errors"
)

const tracerName = "github.com/StricklySoft/tenantauth/pkg/clients/minio"

// ObjectStore is the subset of *minio.Client the archive needs.
type ObjectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
}

var _ ObjectStore = (*minio.Client)(nil)

// Client is a traced object store client bound to one bucket.
type Client struct {
	store  ObjectStore
	config *Config
	tracer trace.Tracer
}

// NewClient connects to the object store and creates the bucket if it does
// not exist.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidation,
			"minio: invalid configuration")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey.Value(), ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration,
			"minio: failed to create client")
	}

	c := &Client{store: mc, config: &cfg, tracer: otel.Tracer(tracerName)}
	if err := c.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// NewFromStore wraps an existing store. Used by tests.
func NewFromStore(store ObjectStore, cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	return &Client{
		store:  store,
		config: cfg,
		tracer: otel.Tracer(tracerName),
	}
}

// Bucket returns the configured bucket name.
func (c *Client) Bucket() string {
	return c.config.Bucket
}

// EnsureBucket creates the configured bucket when it is missing.
func (c *Client) EnsureBucket(ctx context.Context) error {
	bucket := c.config.Bucket
	ctx, span := c.startSpan(ctx, "EnsureBucket", bucket, fmt.Sprintf("HEAD %s", bucket))

	exists, err := c.store.BucketExists(ctx, bucket)
	if err == nil && !exists {
		err = c.store.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: c.config.Region})
	}
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "minio: ensure bucket failed")
	}
	return nil
}

// PutObject uploads size bytes from reader as objectName in the configured
// bucket.
func (c *Client) PutObject(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (minio.UploadInfo, error) {
	bucket := c.config.Bucket
	ctx, span := c.startSpan(ctx, "PutObject", bucket, fmt.Sprintf("PUT %s/%s", bucket, objectName))

	info, err := c.store.PutObject(ctx, bucket, objectName, reader, size, minio.PutObjectOptions{ContentType: contentType})
	finishSpan(span, err)
	if err != nil {
		return info, wrapError(err, "minio: put object failed")
	}
	return info, nil
}

// Health checks that the bucket is reachable.
func (c *Client) Health(ctx context.Context) error {
	bucket := c.config.Bucket
	ctx, span := c.startSpan(ctx, "Health", bucket, fmt.Sprintf("HEAD %s", bucket))

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}

	_, err := c.store.BucketExists(ctx, bucket)
	finishSpan(span, err)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeUnavailableDependency,
			"minio: health check failed")
	}
	return nil
}

func (c *Client) startSpan(ctx context.Context, operationName, bucketName, statement string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "minio."+operationName,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("db.system", "minio"),
		attribute.String("db.name", bucketName),
		attribute.String("db.statement", truncateStatement(statement)),
	)
	return ctx, span
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func wrapError(err error, message string) *sserr.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return sserr.Wrap(err, sserr.CodeTimeoutDependency, message)
	}
	return sserr.Wrap(err, sserr.CodeUnavailableDependency, message)
}
