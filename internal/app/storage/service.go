package storage

import (
	"context"
	"time"
)

// ServiceConfig holds the settings required to reach the storage backend.
type ServiceConfig struct {
	S3BucketName      string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
}

// AvatarStore is the interface the avatar handlers program against.
// Uploads happen browser-side through presigned URLs; the server only mints
// URLs and removes replaced objects.
type AvatarStore interface {
	// PresignUpload generates a time-limited URL for uploading an avatar.
	PresignUpload(
		ctx context.Context,
		key string,
		mimeType string,
		fileSize int64,
		duration time.Duration,
	) (string, error)

	// PresignDownload generates a time-limited URL for fetching an avatar.
	PresignDownload(ctx context.Context, key string, duration time.Duration) (string, error)

	// Delete removes a superseded avatar object.
	Delete(ctx context.Context, key string) error
}

// NewAvatarStore initializes the S3-compatible implementation.
func NewAvatarStore(cfg ServiceConfig) (AvatarStore, error) {
	return newS3Store(cfg)
}
