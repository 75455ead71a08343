// Package archive stores raw crawl payloads in S3-compatible object storage.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"net/url"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"myriad/api/internal/crawler/platform"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type MinioArchive struct {
	client *minio.Client
	bucket string
}

func NewMinioArchive(cfg Config) (*MinioArchive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &MinioArchive{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (a *MinioArchive) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", a.bucket, err)
	}
	return nil
}

// Put uploads the payload body under Key(payload).
func (a *MinioArchive) Put(ctx context.Context, payload platform.Payload) error {
	_, err := a.client.PutObject(ctx, a.bucket, Key(payload), bytes.NewReader(payload.Body), int64(len(payload.Body)), minio.PutObjectOptions{
		ContentType: ContentType(payload.Format),
		UserMetadata: map[string]string{
			"platform": string(payload.Platform),
			"account":  payload.AccountID,
		},
	})
	if err != nil {
		return fmt.Errorf("archive payload: %w", err)
	}
	return nil
}

// Key is <platform>/<accountId>/<unix nanos>.<json|xml>.
func Key(payload platform.Payload) string {
	ext := "json"
	if payload.Format == platform.FormatXML {
		ext = "xml"
	}
	return fmt.Sprintf("%s/%s/%d.%s", payload.Platform, url.PathEscape(payload.AccountID), payload.FetchedAt.UnixNano(), ext)
}

func ContentType(format platform.Format) string {
	if format == platform.FormatXML {
		return "application/xml"
	}
	return "application/json"
}
