// Package blob stores uploaded onboarding documents in S3-compatible object
// storage and returns their public URLs.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/hubenschmidt/preboard/internal/metrics"
)

var (
	// ErrTooLarge is returned for uploads above the configured limit.
	ErrTooLarge = errors.New("file too large")
	// ErrEmpty is returned for zero-length uploads.
	ErrEmpty = errors.New("empty file")
)

// Config describes the bucket and how objects are addressed publicly.
type Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	PublicURL string
	MaxBytes  int64
}

// Object is one stored document.
type Object struct {
	Key         string
	URL         string
	ContentType string
	Size        int64
}

type putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Store writes objects to a single bucket.
type Store struct {
	cfg    Config
	client putter
	now    func() time.Time
}

// NewStore builds an S3 client from cfg. Static credentials are used when
// both keys are set, otherwise the default AWS credential chain applies.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	slog.Info("blob store ready", "bucket", cfg.Bucket, "region", cfg.Region, "endpoint", cfg.Endpoint)
	return newStore(cfg, client), nil
}

func newStore(cfg Config, client putter) *Store {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 10 << 20
	}
	return &Store{cfg: cfg, client: client, now: time.Now}
}

// MaxBytes is the upload size limit.
func (s *Store) MaxBytes() int64 { return s.cfg.MaxBytes }

// Put uploads a document for a candidate and returns its public location.
func (s *Store) Put(ctx context.Context, recordID, documentType, filename, contentType string, data []byte) (Object, error) {
	size := int64(len(data))
	switch {
	case size == 0:
		return Object{}, ErrEmpty
	case size > s.cfg.MaxBytes:
		return Object{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, size, s.cfg.MaxBytes)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := ObjectKey(recordID, documentType, filename, s.now())
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		metrics.Errors.WithLabelValues("blob", "put").Inc()
		return Object{}, fmt.Errorf("put object %s: %w", key, err)
	}

	obj := Object{Key: key, URL: s.PublicURL(key), ContentType: contentType, Size: size}
	slog.Info("document stored", "record_id", recordID, "document_type", documentType, "key", key, "bytes", size)
	return obj, nil
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9.-]`)

// ObjectKey names an upload {recordId}_{documentType}_{unixMillis}_{file}
// with every character outside [a-zA-Z0-9.-] in the file name replaced.
func ObjectKey(recordID, documentType, filename string, at time.Time) string {
	if filename == "" {
		filename = "document"
	}
	return fmt.Sprintf("%s_%s_%d_%s", recordID, documentType, at.UnixMilli(), unsafeChars.ReplaceAllString(filename, "_"))
}

// PublicURL resolves where key can be fetched from.
func (s *Store) PublicURL(key string) string {
	switch {
	case s.cfg.PublicURL != "":
		return strings.TrimRight(s.cfg.PublicURL, "/") + "/" + key
	case s.cfg.Endpoint != "":
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.cfg.Endpoint, "/"), s.cfg.Bucket, key)
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, key)
	}
}
