// Package storage persists lead photos in MinIO (or any S3-compatible store).
package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"clinic_funnel_backend/platform/config"
)

// PresignedURLTTL is the default expiration time for presigned URLs.
const PresignedURLTTL = 15 * time.Minute

// PhotoStore is the storage surface the photo pipeline depends on.
type PhotoStore interface {
	StorePhoto(ctx context.Context, leadID uuid.UUID, data []byte, contentType string) (string, error)
	PhotoURL(ctx context.Context, storageKey string) (string, error)
}

// MinIOStore implements PhotoStore on MinIO.
type MinIOStore struct {
	client *minio.Client
	bucket string
}

func NewMinIOStore(cfg config.StorageConfig) (*MinIOStore, error) {
	if !cfg.IsMinIOEnabled() {
		return nil, fmt.Errorf("MinIO is not configured")
	}

	client, err := minio.New(cfg.GetMinIOEndpoint(), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.GetMinIOAccessKey(), cfg.GetMinIOSecretKey(), ""),
		Secure: cfg.GetMinIOUseSSL(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &MinIOStore{
		client: client,
		bucket: cfg.GetMinioBucketLeadPhotos(),
	}, nil
}

// EnsureBucket creates the photo bucket if it doesn't exist.
func (s *MinIOStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// StorePhoto uploads photo bytes under a per-lead prefix and returns the key.
func (s *MinIOStore) StorePhoto(ctx context.Context, leadID uuid.UUID, data []byte, contentType string) (string, error) {
	key := filepath.ToSlash(filepath.Join(
		leadID.String(),
		fmt.Sprintf("%d_%s%s", time.Now().UnixMilli(), uuid.New().String()[:8], extForContentType(contentType)),
	))

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload photo %s: %w", key, err)
	}
	return key, nil
}

// PhotoURL returns a presigned download URL for a stored photo.
func (s *MinIOStore) PhotoURL(ctx context.Context, storageKey string) (string, error) {
	presigned, err := s.client.PresignedGetObject(ctx, s.bucket, storageKey, PresignedURLTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to presign photo url: %w", err)
	}
	return presigned.String(), nil
}

func extForContentType(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/heic":
		return ".heic"
	default:
		return ".jpg"
	}
}
