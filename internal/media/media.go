// Package media signs short-lived download URLs for item media stored in an
// S3-compatible bucket. The whole package is optional: without a configured
// endpoint the service serves items with their media URL left empty.
package media

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Presigner struct {
	client *minio.Client
	bucket string
	ttl    time.Duration
}

func NewPresigner(endpoint, accessKey, secretKey, bucket string, useSSL bool, ttl time.Duration) (*Presigner, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	return &Presigner{client: client, bucket: bucket, ttl: ttl}, nil
}

// SignURL returns a presigned GET URL for the object, or "" for an empty
// object name so callers can pass an item's media file through unchecked.
func (p *Presigner) SignURL(ctx context.Context, objectName string) (string, error) {
	if objectName == "" {
		return "", nil
	}
	signed, err := p.client.PresignedGetObject(ctx, p.bucket, objectName, p.ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", objectName, err)
	}
	return signed.String(), nil
}

func (p *Presigner) Ping(ctx context.Context) error {
	ok, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !ok {
		return fmt.Errorf("bucket %s does not exist", p.bucket)
	}
	return nil
}
