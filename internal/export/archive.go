package export

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	log "github.com/sirupsen/logrus"
)

const presignExpiry = 7 * 24 * time.Hour

type ArchiveConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func (c ArchiveConfig) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != ""
}

// Archive stores export results in an S3 compatible bucket.
type Archive struct {
	client *minio.Client
	bucket string
}

// NewArchive connects to the bucket and creates it when missing. It returns
// ErrArchiveDisabled when cfg names no endpoint or bucket.
func NewArchive(ctx context.Context, cfg ArchiveConfig) (*Archive, error) {
	if !cfg.Enabled() {
		return nil, ErrArchiveDisabled
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		log.WithField("bucket", cfg.Bucket).Info("export: created archive bucket")
	}
	return &Archive{client: client, bucket: cfg.Bucket}, nil
}

// Put uploads result under name and returns a presigned download URL.
func (a *Archive) Put(ctx context.Context, name string, result *Result) (string, error) {
	_, err := a.client.PutObject(ctx, a.bucket, name, bytes.NewReader(result.Data), int64(len(result.Data)), minio.PutObjectOptions{
		ContentType: result.MimeType,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}

	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	link, err := a.client.PresignedGetObject(ctx, a.bucket, name, presignExpiry, params)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", name, err)
	}
	return link.String(), nil
}
