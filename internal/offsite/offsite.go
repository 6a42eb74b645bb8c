// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package offsite copies backup archives to S3-compatible object storage.
package offsite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"go.astrophena.name/botops/internal/backup"
	"go.astrophena.name/botops/internal/logger"
)

// Config describes the bucket archives are copied to.
type Config struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	Region    string
	UseSSL    bool
	AccessKey string
	SecretKey string
}

// Uploader uploads archives to a bucket.
type Uploader struct {
	mc     *minio.Client
	bucket string
	prefix string
}

// New returns an Uploader for cfg.
func New(cfg Config) (*Uploader, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("offsite: endpoint and bucket are required")
	}
	if strings.Contains(cfg.Endpoint, "://") {
		return nil, fmt.Errorf("offsite: endpoint %q must be host[:port], use use_ssl for the scheme", cfg.Endpoint)
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("offsite: S3_ACCESS_KEY and S3_SECRET_KEY are required")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("offsite: s3 client: %w", err)
	}
	return &Uploader{mc: mc, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Key returns the object key for the archive named name.
func (u *Uploader) Key(name string) string {
	prefix := strings.Trim(u.prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// Upload copies a to the bucket and returns the object key.
func (u *Uploader) Upload(ctx context.Context, a *backup.Archive) (string, error) {
	key := u.Key(a.Name)
	info, err := u.mc.FPutObject(ctx, u.bucket, key, a.Path, minio.PutObjectOptions{
		ContentType: "application/gzip",
		UserMetadata: map[string]string{
			"kind":      string(a.Kind),
			"timestamp": a.Timestamp,
		},
	})
	if err != nil {
		return "", fmt.Errorf("offsite: uploading %s to %s: %w", a.Name, u.bucket, err)
	}
	logger.Get(ctx).Info("archive copied offsite",
		slog.String("bucket", u.bucket),
		slog.String("key", key),
		slog.Int64("size", info.Size),
	)
	return key, nil
}

// Healthy checks that the bucket is reachable.
func (u *Uploader) Healthy(ctx context.Context) error {
	ok, err := u.mc.BucketExists(ctx, u.bucket)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("offsite: bucket %s does not exist", u.bucket)
	}
	return nil
}
