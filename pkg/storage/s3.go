// Package storage uploads rendered reports to S3 and returns their public URL.
package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// KeyTimeLayout is the timestamp suffix of report object keys.
const KeyTimeLayout = "2006-01-02-15-04-05"

// ContentType of uploaded reports.
const ContentType = "text/plain; charset=utf-8"

// defaultRegion is what S3 means by an empty location constraint.
const defaultRegion = "us-east-1"

var (
	reportUploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slack_report_uploads_total",
		Help: "Total report uploads by outcome",
	}, []string{"outcome"})

	reportUploadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slack_report_upload_bytes_total",
		Help: "Total bytes of reports uploaded",
	})
)

// Uploader puts objects. *manager.Uploader implements it.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// BucketLocator looks up bucket regions. *s3.Client implements it.
type BucketLocator interface {
	GetBucketLocation(ctx context.Context, params *s3.GetBucketLocationInput, optFns ...func(*s3.Options)) (*s3.GetBucketLocationOutput, error)
}

// S3Store writes reports as text objects.
type S3Store struct {
	uploader Uploader
	locator  BucketLocator
	now      func() time.Time
	logger   zerolog.Logger

	mu      sync.Mutex
	regions map[string]string
}

// NewS3Store creates a store that uploads through the S3 transfer manager.
func NewS3Store(client *s3.Client) *S3Store {
	return NewS3StoreWith(manager.NewUploader(client), client)
}

// NewS3StoreWith creates a store from explicit collaborators.
func NewS3StoreWith(uploader Uploader, locator BucketLocator) *S3Store {
	return &S3Store{
		uploader: uploader,
		locator:  locator,
		now:      time.Now,
		logger:   log.With().Str("component", "s3-store").Logger(),
		regions:  make(map[string]string),
	}
}

// SetClock replaces the time source used for object keys (for testing).
func (s *S3Store) SetClock(now func() time.Time) {
	s.now = now
}

// ObjectKey returns the key a report stored at t gets.
func ObjectKey(prefix string, t time.Time) string {
	return fmt.Sprintf("%s_%s.txt", prefix, t.Format(KeyTimeLayout))
}

// PublicURL returns the virtual-hosted URL of an object.
func PublicURL(bucket, region, key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, region, key)
}

// Store uploads contents under a timestamped key and returns its URL.
func (s *S3Store) Store(ctx context.Context, bucket, prefix, contents string) (string, error) {
	if bucket == "" {
		return "", fmt.Errorf("bucket is required")
	}

	key := ObjectKey(prefix, s.now())

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(contents),
		ContentType: aws.String(ContentType),
	})
	if err != nil {
		reportUploadsTotal.WithLabelValues("error").Inc()
		s.logger.Error().Err(err).Str("bucket", bucket).Str("key", key).Msg("Report upload failed")
		return "", fmt.Errorf("upload s3://%s/%s: %w", bucket, key, err)
	}
	reportUploadsTotal.WithLabelValues("success").Inc()
	reportUploadBytes.Add(float64(len(contents)))

	region, err := s.Region(ctx, bucket)
	if err != nil {
		return "", err
	}

	url := PublicURL(bucket, region, key)
	s.logger.Info().Str("bucket", bucket).Str("key", key).Int("bytes", len(contents)).Msg("Report uploaded")
	return url, nil
}

// Region returns the region of bucket. Lookups are cached per store.
func (s *S3Store) Region(ctx context.Context, bucket string) (string, error) {
	s.mu.Lock()
	region, ok := s.regions[bucket]
	s.mu.Unlock()
	if ok {
		return region, nil
	}

	out, err := s.locator.GetBucketLocation(ctx, &s3.GetBucketLocationInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		return "", fmt.Errorf("get bucket location %s: %w", bucket, err)
	}

	region = normalizeRegion(string(out.LocationConstraint))

	s.mu.Lock()
	s.regions[bucket] = region
	s.mu.Unlock()

	return region, nil
}

// normalizeRegion maps legacy location constraints to region names.
func normalizeRegion(constraint string) string {
	switch constraint {
	case "":
		return defaultRegion
	case "EU":
		return "eu-west-1"
	default:
		return constraint
	}
}
