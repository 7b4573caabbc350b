// Package snapshot ships central store snapshots to S3-compatible storage
// and hands out pre-signed download links for them. When no bucket is
// configured the NoopUploader is used and the server keeps snapshots on
// local disk only.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/piehlerb/job-estimator-sub000/internal/config"
)

// ErrNotConfigured is returned when S3 snapshot storage is not configured.
var ErrNotConfigured = errors.New("snapshot storage not configured")

// Uploader stores the latest snapshot and links to it.
type Uploader interface {
	Upload(ctx context.Context, filePath string) error
	PresignedURL(ctx context.Context) (url string, expiry time.Time, err error)
}

// objectStore is the subset of minio.Client the uploader needs.
type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	FPutObject(ctx context.Context, bucket, objectName, filePath string) error
	PresignedGetObject(ctx context.Context, bucket, objectName string, expiry time.Duration) (*url.URL, error)
}

type minioStore struct {
	client *minio.Client
}

func (m *minioStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return m.client.BucketExists(ctx, bucket)
}

func (m *minioStore) FPutObject(ctx context.Context, bucket, objectName, filePath string) error {
	_, err := m.client.FPutObject(ctx, bucket, objectName, filePath, minio.PutObjectOptions{
		ContentType: "application/vnd.sqlite3",
	})
	return err
}

func (m *minioStore) PresignedGetObject(ctx context.Context, bucket, objectName string, expiry time.Duration) (*url.URL, error) {
	return m.client.PresignedGetObject(ctx, bucket, objectName, expiry, nil)
}

// S3Uploader writes snapshots to one object key in a bucket.
type S3Uploader struct {
	client    objectStore
	bucket    string
	key       string
	urlExpiry time.Duration
	now       func() time.Time

	mu            sync.Mutex
	bucketChecked bool
}

// Upload replaces the stored snapshot with the file at filePath.
func (u *S3Uploader) Upload(ctx context.Context, filePath string) error {
	if err := u.checkBucket(ctx); err != nil {
		return err
	}
	if err := u.client.FPutObject(ctx, u.bucket, u.key, filePath); err != nil {
		return fmt.Errorf("upload snapshot to S3: %w", err)
	}
	return nil
}

// PresignedURL returns a time-limited GET link to the stored snapshot.
func (u *S3Uploader) PresignedURL(ctx context.Context) (string, time.Time, error) {
	presigned, err := u.client.PresignedGetObject(ctx, u.bucket, u.key, u.urlExpiry)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate pre-signed URL: %w", err)
	}
	return presigned.String(), u.now().Add(u.urlExpiry), nil
}

// checkBucket verifies the bucket once per uploader.
func (u *S3Uploader) checkBucket(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.bucketChecked {
		return nil
	}
	ok, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", u.bucket, err)
	}
	if !ok {
		return fmt.Errorf("bucket %q does not exist", u.bucket)
	}
	u.bucketChecked = true
	return nil
}

// NoopUploader is used when S3 storage is not configured.
type NoopUploader struct{}

// Upload does nothing.
func (NoopUploader) Upload(ctx context.Context, filePath string) error {
	return nil
}

// PresignedURL always returns ErrNotConfigured.
func (NoopUploader) PresignedURL(ctx context.Context) (string, time.Time, error) {
	return "", time.Time{}, ErrNotConfigured
}

// NewUploader returns a NoopUploader when no bucket is set, an S3Uploader
// otherwise.
func NewUploader(cfg config.SnapshotConfig) (Uploader, error) {
	storage := cfg.Storage
	if storage.Bucket == "" {
		return NoopUploader{}, nil
	}

	useSSL := true
	if storage.UseSSL != nil {
		useSSL = *storage.UseSSL
	}
	endpoint := stripScheme(storage.Endpoint, &useSSL)

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(storage.AccessKey, storage.SecretKey, ""),
		Secure: useSSL,
		Region: storage.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}

	return &S3Uploader{
		client:    &minioStore{client: client},
		bucket:    storage.Bucket,
		key:       objectKey(cfg.Name),
		urlExpiry: time.Duration(storage.URLExpiry),
		now:       time.Now,
	}, nil
}

// objectKey follows {name}/snapshot/current.db.
func objectKey(name string) string {
	if name == "" {
		name = "central"
	}
	return name + "/snapshot/current.db"
}

// stripScheme removes an http(s):// prefix from endpoint, which minio
// rejects, and lets an explicit scheme decide useSSL.
func stripScheme(endpoint string, useSSL *bool) string {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		*useSSL = true
		return strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		*useSSL = false
		return strings.TrimPrefix(endpoint, "http://")
	default:
		return endpoint
	}
}
