package sink

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cockroachdb/errors"

	"weather-etl/internal/models"
	"weather-etl/pkg/logging"
	"weather-etl/pkg/metrics"
)

// ObjectPutter is the subset of the S3 API the sink needs
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Options configures the S3 client
type S3Options struct {
	Region    string
	Endpoint  string
	PathStyle bool
}

// NewS3Client builds a client from the default credential chain. A custom
// endpoint targets S3-compatible gateways such as MinIO.
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, errors.Wrap(err, "load aws configuration")
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	}), nil
}

// ObjectStoreSink uploads each batch as a single object
type ObjectStoreSink struct {
	client  ObjectPutter
	bucket  string
	prefix  string
	encoder Encoder
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewObjectStoreSink creates a sink uploading into bucket under prefix
func NewObjectStoreSink(client ObjectPutter, bucket, prefix string, encoder Encoder, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) (*ObjectStoreSink, error) {
	if bucket == "" {
		return nil, &models.ConfigurationError{Field: "s3.bucket", Message: "bucket is required for the s3 target"}
	}
	return &ObjectStoreSink{
		client:  client,
		bucket:  bucket,
		prefix:  prefix,
		encoder: encoder,
		logger:  logger,
		metrics: metricsCollector,
	}, nil
}

// Key returns the object key a destination resolves to
func (s *ObjectStoreSink) Key(destination string) string {
	ext := s.encoder.Extension()
	name := strings.TrimSuffix(destination, ext) + ext
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Persist encodes the batch in memory and uploads it
func (s *ObjectStoreSink) Persist(ctx context.Context, batch models.WeatherBatch, destination string) (string, error) {
	if len(batch) == 0 {
		return "", models.ErrEmptyBatch
	}
	if destination == "" {
		return "", errors.New("destination name is required")
	}

	start := time.Now()
	var body bytes.Buffer
	if err := s.encoder.Encode(&body, batch); err != nil {
		return "", errors.Wrap(err, "encode batch")
	}

	key := s.Key(destination)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body.Bytes()),
		ContentType: aws.String(s.encoder.ContentType()),
	})
	if err != nil {
		return "", errors.Wrapf(err, "upload s3://%s/%s", s.bucket, key)
	}

	location := fmt.Sprintf("s3://%s/%s", s.bucket, key)
	s.metrics.RecordRowsPersisted(TargetS3, len(batch))
	s.logger.Info(ctx, "[PERSIST_S3] Batch uploaded", logging.Fields{
		"stage":       "PERSISTING",
		"location":    location,
		"rows":        len(batch),
		"bytes":       body.Len(),
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return location, nil
}
