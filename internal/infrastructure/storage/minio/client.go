// Package minio stores prescription images in S3-compatible object
// storage and hands out short-lived presigned URLs for viewing them.
package minio

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/medimorph/medimorph/internal/config"
	"github.com/medimorph/medimorph/internal/infrastructure/monitoring/logging"
	"github.com/medimorph/medimorph/pkg/errors"
)

// objectAPI is the slice of the minio client the store uses, extracted
// for testing.
type objectAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expiry time.Duration, reqParams url.Values) (*url.URL, error)
}

// ImageStore keeps prescription images in one bucket.  It implements
// prescription.ImageStore.
type ImageStore struct {
	api           objectAPI
	bucket        string
	presignExpiry time.Duration
	logger        logging.Logger
}

// NewImageStore connects to object storage and makes sure the bucket
// exists.
func NewImageStore(cfg config.MinIOConfig, logger logging.Logger) (*ImageStore, error) {
	if cfg.Endpoint == "" {
		return nil, errors.InvalidParam("minio endpoint required")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to create minio client")
	}

	store := &ImageStore{
		api:           client,
		bucket:        cfg.Bucket,
		presignExpiry: cfg.PresignExpiry,
		logger:        logger.Named("image_store"),
	}
	if store.presignExpiry <= 0 {
		store.presignExpiry = 15 * time.Minute
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.ensureBucket(ctx); err != nil {
		return nil, err
	}

	logger.Info("Image store connected",
		logging.String("endpoint", cfg.Endpoint),
		logging.String("bucket", cfg.Bucket),
		logging.Bool("ssl", cfg.UseSSL))
	return store, nil
}

func (s *ImageStore) ensureBucket(ctx context.Context) error {
	exists, err := s.api.BucketExists(ctx, s.bucket)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeExternalService, "failed to check bucket existence")
	}
	if !exists {
		if err := s.api.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return errors.Wrap(err, errors.ErrCodeExternalService, "failed to create bucket "+s.bucket)
		}
		s.logger.Info("Created bucket", logging.String("bucket", s.bucket))
	}
	return nil
}

// Put stores one image under the given key.
func (s *ImageStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if key == "" {
		return errors.InvalidParam("object key required")
	}
	if len(data) == 0 {
		return errors.InvalidParam("object data required")
	}
	_, err := s.api.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeExternalService, "failed to store image")
	}
	s.logger.Debug("Image stored",
		logging.String("key", key),
		logging.Int("bytes", len(data)))
	return nil
}

// PresignGet returns a time-limited URL for fetching the image.
func (s *ImageStore) PresignGet(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", errors.InvalidParam("object key required")
	}
	u, err := s.api.PresignedGetObject(ctx, s.bucket, key, s.presignExpiry, nil)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeExternalService, "failed to presign image url")
	}
	return u.String(), nil
}

// Get reads an image back.  Used by the reprocessing path.
func (s *ImageStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.api.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeExternalService, "failed to fetch image")
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return nil, errors.NotFound("image " + key)
		}
		return nil, errors.Wrap(err, errors.ErrCodeExternalService, "failed to read image")
	}
	return data, nil
}

// Delete removes an image.  Missing objects are not an error.
func (s *ImageStore) Delete(ctx context.Context, key string) error {
	if err := s.api.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return errors.Wrap(err, errors.ErrCodeExternalService, "failed to delete image")
	}
	return nil
}

// Exists reports whether the key is present in the bucket.
func (s *ImageStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.api.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return false, nil
		}
		return false, errors.Wrap(err, errors.ErrCodeExternalService, "failed to stat image")
	}
	return true, nil
}

// HealthCheck verifies the bucket is reachable.
func (s *ImageStore) HealthCheck(ctx context.Context) error {
	exists, err := s.api.BucketExists(ctx, s.bucket)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeExternalService, "object storage unreachable")
	}
	if !exists {
		return errors.New(errors.ErrCodeExternalService, "bucket "+s.bucket+" missing")
	}
	return nil
}
