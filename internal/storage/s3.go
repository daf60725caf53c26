package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/droplite/service/internal/config"
)

// S3Storage implements Storage with the AWS SDK. Point STORAGE_ENDPOINT at
// https://<account>.r2.cloudflarestorage.com for Cloudflare R2, or leave it empty for AWS.
type S3Storage struct {
	client     *s3.Client
	bucket     string
	publicBase string
}

// NewS3Storage initializes an S3 client using static credentials and an optional custom endpoint.
func NewS3Storage(cfg *config.Config, logger *slog.Logger) (*S3Storage, error) {
	if cfg.StorageBucket == "" {
		return nil, errors.New("s3 storage: bucket name is required")
	}

	awsCfg := aws.Config{
		Credentials: credentials.NewStaticCredentialsProvider(cfg.StorageAccessKey, cfg.StorageSecretKey, ""),
		Region:      cfg.StorageRegion,
	}

	endpoint := s3Endpoint(cfg.StorageEndpoint, cfg.StorageUseSSL)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = true
	})

	logger.Info("storage: initialized s3 client",
		slog.String("bucket", cfg.StorageBucket),
		slog.String("endpoint", endpoint),
	)

	return &S3Storage{
		client:     client,
		bucket:     cfg.StorageBucket,
		publicBase: strings.TrimRight(cfg.StoragePublicBase, "/"),
	}, nil
}

// Upload puts the object in a single request; size must be exact.
func (s *S3Storage) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          reader,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put object %q: %w", key, err)
	}
	return nil
}

// Delete removes the object at key.
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object %q: %w", key, err)
	}
	return nil
}

// Exists checks if a given object key exists in the bucket.
func (s *S3Storage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *s3types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, fmt.Errorf("head object %q: %w", key, err)
	}
	return true, nil
}

// List pages through ListObjectsV2 under prefix.
func (s *S3Storage) List(ctx context.Context, prefix string) ([]Object, error) {
	var out []Object
	pager := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects %q: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			o := Object{Key: aws.ToString(obj.Key), Size: aws.ToInt64(obj.Size)}
			if obj.LastModified != nil {
				o.LastModified = *obj.LastModified
			}
			out = append(out, o)
		}
	}
	return out, nil
}

// PublicURL returns the browser-accessible URL for the given key.
func (s *S3Storage) PublicURL(key string) string {
	return s.publicBase + "/" + key
}

func s3Endpoint(endpoint string, useSSL bool) string {
	if endpoint == "" || strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}
