package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"gate-service/internal/config"
)

var ErrNotConfigured = errors.New("r2 storage is not configured")

// R2Client stores artifacts in an S3 compatible bucket (Cloudflare R2, MinIO).
type R2Client struct {
	client        *s3.Client
	bucket        string
	endpoint      string
	publicBaseURL string
}

func NewR2Client(cfg config.StorageConfig) (*R2Client, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" || cfg.Bucket == "" {
		return nil, ErrNotConfigured
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	awsCfg := aws.Config{
		Region:      region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	return &R2Client{
		client:        client,
		bucket:        cfg.Bucket,
		endpoint:      endpoint,
		publicBaseURL: strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/"),
	}, nil
}

func (r *R2Client) Save(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if r == nil || r.client == nil {
		return "", ErrNotConfigured
	}
	if len(data) == 0 {
		return "", ErrEmptyArtifact
	}
	input := &s3.PutObjectInput{
		Bucket:        aws.String(r.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if _, err := r.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("r2 upload failed: %w", err)
	}
	return r.objectURL(key), nil
}

func (r *R2Client) objectURL(key string) string {
	trimmedKey := strings.TrimLeft(key, "/")
	if r.publicBaseURL != "" {
		return fmt.Sprintf("%s/%s/%s", r.publicBaseURL, r.bucket, trimmedKey)
	}
	return fmt.Sprintf("%s/%s/%s", r.endpoint, r.bucket, trimmedKey)
}
