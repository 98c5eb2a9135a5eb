package blob

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig describes an S3 compatible endpoint.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinIO stores objects in an S3 compatible bucket.
type MinIO struct {
	client *minio.Client
	bucket string
}

// NewMinIO connects to the endpoint and creates the bucket when missing.
func NewMinIO(ctx context.Context, cfg MinIOConfig) (*MinIO, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, storageError("connect", cfg.Endpoint, err)
	}
	store := &MinIO{client: client, bucket: cfg.Bucket}
	if err := store.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (m *MinIO) ensureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return storageError("bucket exists", m.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return storageError("make bucket", m.bucket, err)
	}
	return nil
}

// Put uploads the object under key.
func (m *MinIO) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	_, err = m.client.PutObject(ctx, m.bucket, cleaned, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", storageError("put", cleaned, err)
	}
	return cleaned, nil
}

// Delete removes the object. S3 reports success for missing keys.
func (m *MinIO) Delete(ctx context.Context, path string) error {
	cleaned, err := CleanKey(path)
	if err != nil {
		return err
	}
	if err := m.client.RemoveObject(ctx, m.bucket, cleaned, minio.RemoveObjectOptions{}); err != nil {
		return storageError("delete", cleaned, err)
	}
	return nil
}

// Open streams the object.
func (m *MinIO) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	cleaned, err := CleanKey(path)
	if err != nil {
		return nil, err
	}
	obj, err := m.client.GetObject(ctx, m.bucket, cleaned, minio.GetObjectOptions{})
	if err != nil {
		return nil, storageError("get", cleaned, err)
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, cleaned)
		}
		return nil, storageError("stat", cleaned, err)
	}
	return obj, nil
}
