package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/tags"

	"appmarket/internal/config"
	"appmarket/internal/domain"
	"appmarket/internal/logger"
)

// MinioClient реализует Storage для MinIO (локальная разработка и стенды)
type MinioClient struct {
	client        *minio.Client
	buckets       map[domain.Zone]string
	timeout       time.Duration
	streamTimeout time.Duration
}

// NewMinioClient создает клиент MinIO и при необходимости создает бакеты зон
func NewMinioClient(conf config.StorageConfig) (*MinioClient, error) {
	log := logger.Component("minio")
	log.Info().Str("endpoint", conf.Endpoint).Msg("initializing MinIO client")

	buckets, err := zoneBuckets(conf.Buckets)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(conf.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(conf.AccessKeyID, conf.SecretAccessKey, ""),
		Secure: conf.UseSSL,
		Region: conf.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), orDefault(conf.OperationTimeout, defaultTimeout))
	defer cancel()

	for zone, bucket := range buckets {
		exists, err := client.BucketExists(ctx, bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to check bucket %s for zone %s: %w", bucket, zone, err)
		}
		if exists {
			continue
		}
		log.Info().Str("bucket", bucket).Msg("bucket not found, creating")
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: conf.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
		}
	}

	return &MinioClient{
		client:        client,
		buckets:       buckets,
		timeout:       orDefault(conf.OperationTimeout, defaultTimeout),
		streamTimeout: orDefault(conf.StreamTimeout, defaultStreamTimeout),
	}, nil
}

func (c *MinioClient) bucket(zone domain.Zone) (string, error) {
	b, ok := c.buckets[zone]
	if !ok {
		return "", fmt.Errorf("unknown storage zone %q", zone)
	}
	return b, nil
}

func (c *MinioClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

func (c *MinioClient) Stat(ctx context.Context, zone domain.Zone, key string) (*ObjectInfo, error) {
	bucket, err := c.bucket(zone)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	info, err := c.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isMinioNotFound(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, zone, key)
		}
		return nil, fmt.Errorf("failed to stat object %s/%s: %w", zone, key, err)
	}

	objectTags, err := c.GetTags(ctx, zone, key)
	if err != nil {
		return nil, err
	}

	return &ObjectInfo{
		Key:         key,
		Size:        info.Size,
		ContentType: info.ContentType,
		ETag:        info.ETag,
		Tags:        objectTags,
	}, nil
}

func (c *MinioClient) Exists(ctx context.Context, zone domain.Zone, key string) (bool, error) {
	bucket, err := c.bucket(zone)
	if err != nil {
		return false, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if _, err := c.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{}); err != nil {
		if isMinioNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
	return true, nil
}

func (c *MinioClient) GetTags(ctx context.Context, zone domain.Zone, key string) (map[string]string, error) {
	bucket, err := c.bucket(zone)
	if err != nil {
		return nil, err
	}

	t, err := c.client.GetObjectTagging(ctx, bucket, key, minio.GetObjectTaggingOptions{})
	if err != nil {
		if isMinioNotFound(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, zone, key)
		}
		return nil, fmt.Errorf("failed to get object tags: %w", err)
	}
	if t == nil {
		return map[string]string{}, nil
	}
	return t.ToMap(), nil
}

func (c *MinioClient) PutTags(ctx context.Context, zone domain.Zone, key string, newTags map[string]string) error {
	bucket, err := c.bucket(zone)
	if err != nil {
		return err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	merged, err := c.GetTags(ctx, zone, key)
	if err != nil {
		return err
	}
	for k, v := range newTags {
		merged[k] = v
	}

	objectTags, err := tags.NewTags(merged, true)
	if err != nil {
		return fmt.Errorf("invalid object tags: %w", err)
	}

	if err := c.client.PutObjectTagging(ctx, bucket, key, objectTags, minio.PutObjectTaggingOptions{}); err != nil {
		return fmt.Errorf("failed to put object tags: %w", err)
	}
	return nil
}

func (c *MinioClient) Open(ctx context.Context, zone domain.Zone, key string) (Object, error) {
	bucket, err := c.bucket(zone)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.streamTimeout)

	obj, err := c.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to get object from MinIO: %w", err)
	}

	// GetObject ленивый: ошибка отсутствия объекта всплывает только на Stat/Read
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		cancel()
		if isMinioNotFound(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, zone, key)
		}
		return nil, fmt.Errorf("failed to stat object from MinIO: %w", err)
	}

	return &object{
		ReadCloser:    obj,
		contentLength: info.Size,
		contentType:   info.ContentType,
		cancel:        cancel,
	}, nil
}

func (c *MinioClient) ReadRange(ctx context.Context, zone domain.Zone, key string, offset, length int64) ([]byte, error) {
	bucket, err := c.bucket(zone)
	if err != nil {
		return nil, err
	}
	if length <= 0 {
		return nil, fmt.Errorf("invalid range length %d", length)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	info, err := c.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isMinioNotFound(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, zone, key)
		}
		return nil, fmt.Errorf("failed to stat object: %w", err)
	}
	if offset >= info.Size {
		return []byte{}, nil
	}
	end := offset + length - 1
	if end >= info.Size {
		end = info.Size - 1
	}

	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(offset, end); err != nil {
		return nil, fmt.Errorf("invalid range: %w", err)
	}

	obj, err := c.client.GetObject(ctx, bucket, key, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get object range from MinIO: %w", err)
	}
	defer obj.Close()

	return io.ReadAll(io.LimitReader(obj, length))
}

func (c *MinioClient) Put(ctx context.Context, zone domain.Zone, key string, r io.Reader, size int64, contentType string) error {
	bucket, err := c.bucket(zone)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.streamTimeout)
	defer cancel()

	uploadInfo, err := c.client.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to upload object to MinIO: %w", err)
	}

	logger.Logger.Debug().
		Str("zone", string(zone)).
		Str("key", key).
		Int64("size", uploadInfo.Size).
		Msg("[Minio] object uploaded")
	return nil
}

// Copy копирует объект между бакетами; теги копируются вместе с объектом
func (c *MinioClient) Copy(ctx context.Context, srcZone domain.Zone, srcKey string, dstZone domain.Zone, dstKey string) error {
	srcBucket, err := c.bucket(srcZone)
	if err != nil {
		return err
	}
	dstBucket, err := c.bucket(dstZone)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.streamTimeout)
	defer cancel()

	_, err = c.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: dstBucket, Object: dstKey},
		minio.CopySrcOptions{Bucket: srcBucket, Object: srcKey},
	)
	if err != nil {
		if isMinioNotFound(err) {
			return fmt.Errorf("%w: %s/%s", ErrObjectNotFound, srcZone, srcKey)
		}
		return fmt.Errorf("failed to copy %s/%s to %s/%s: %w", srcZone, srcKey, dstZone, dstKey, err)
	}
	return nil
}

func (c *MinioClient) Delete(ctx context.Context, zone domain.Zone, key string) error {
	bucket, err := c.bucket(zone)
	if err != nil {
		return err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil && !isMinioNotFound(err) {
		return fmt.Errorf("failed to delete object from MinIO: %w", err)
	}
	return nil
}

func isMinioNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound", "NoSuchTagSet":
		return true
	}
	return false
}
