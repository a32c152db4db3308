package objectstore

import (
	"context"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"

	"github.com/sjsfi/lms/core"
)

// MinioStore keeps objects in an S3-compatible bucket. Signed URLs are presigned GETs.
type MinioStore struct {
	client *minio.Client
	bucket string
}

var _ core.ObjectStore = (*MinioStore)(nil)

// NewMinioStore connects to conf.Endpoint and creates the bucket if it does not exist.
func NewMinioStore(ctx context.Context, conf core.ObjectStoreConfig) (*MinioStore, error) {
	client, err := minio.New(conf.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(conf.AccessKey, conf.SecretKey, ""),
		Secure: conf.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating minio client")
	}

	exists, err := client.BucketExists(ctx, conf.Bucket)
	if err != nil {
		return nil, errors.Wrap(err, "checking bucket")
	}
	if !exists {
		if err = client.MakeBucket(ctx, conf.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, errors.Wrap(err, "creating bucket")
		}
	}
	return &MinioStore{client: client, bucket: conf.Bucket}, nil
}

func (s *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	p, err := cleanPath(key)
	if err != nil {
		return "", err
	}
	info, err := s.client.PutObject(ctx, s.bucket, p, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", errors.Wrap(err, "uploading object")
	}
	return info.Key, nil
}

func (s *MinioStore) SignedURL(ctx context.Context, p string, ttl time.Duration) (string, error) {
	p, err := cleanPath(p)
	if err != nil {
		return "", err
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, p, ttl, nil)
	if err != nil {
		return "", errors.Wrap(err, "presigning object url")
	}
	return u.String(), nil
}
