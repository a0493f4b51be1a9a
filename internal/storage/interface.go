package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectNotFound is returned by Head when the key does not exist
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo is the metadata HeadObject returns
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
}

// VideoStore is the object storage used for video files. Clients upload and
// play back directly through presigned URLs; the server only touches objects
// for imports and deletes.
type VideoStore interface {
	PresignUpload(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
	PresignPlayback(ctx context.Context, key string, ttl time.Duration) (string, error)
	Head(ctx context.Context, key string) (*ObjectInfo, error)
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
}

// Ensure S3Uploader implements VideoStore
var _ VideoStore = (*S3Uploader)(nil)
