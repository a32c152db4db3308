package core

import (
	"context"
	"io"
	"time"
)

// ObjectStore keeps uploaded files (subject icons, submission attachments).
// Put returns the storage path to persist; SignedURL turns that path into a time-limited URL.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)
}
