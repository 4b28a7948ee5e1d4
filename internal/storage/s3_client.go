package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"appmarket/internal/config"
	"appmarket/internal/domain"
	"appmarket/internal/logger"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultStreamTimeout = 10 * time.Minute
)

// S3Client предоставляет методы для работы с S3-совместимым хранилищем,
// каждая зона - отдельный бакет
type S3Client struct {
	client        *s3.Client
	buckets       map[domain.Zone]string
	timeout       time.Duration
	streamTimeout time.Duration
}

// NewS3Client создает новый экземпляр клиента S3
func NewS3Client(conf config.StorageConfig) (*S3Client, error) {
	if conf.AccessKeyID == "" || conf.SecretAccessKey == "" {
		return nil, fmt.Errorf("missing required configuration: accessKeyID and secretAccessKey are required")
	}

	buckets, err := zoneBuckets(conf.Buckets)
	if err != nil {
		return nil, err
	}

	creds := aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
		conf.AccessKeyID,
		conf.SecretAccessKey,
		"",
	))

	client := s3.New(s3.Options{
		BaseEndpoint:     aws.String(conf.Endpoint),
		Region:           conf.Region,
		Credentials:      creds,
		RetryMode:        aws.RetryModeAdaptive,
		RetryMaxAttempts: 3,
		UsePathStyle:     true,
	})

	c := &S3Client{
		client:        client,
		buckets:       buckets,
		timeout:       orDefault(conf.OperationTimeout, defaultTimeout),
		streamTimeout: orDefault(conf.StreamTimeout, defaultStreamTimeout),
	}

	// Проверяем доступ ко всем бакетам зон
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	for zone, bucket := range buckets {
		if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
			return nil, fmt.Errorf("unable to access bucket %s for zone %s: %w", bucket, zone, err)
		}
	}

	return c, nil
}

func (c *S3Client) bucket(zone domain.Zone) (string, error) {
	b, ok := c.buckets[zone]
	if !ok {
		return "", fmt.Errorf("unknown storage zone %q", zone)
	}
	return b, nil
}

// Stat получает размер и теги объекта
func (c *S3Client) Stat(ctx context.Context, zone domain.Zone, key string) (*ObjectInfo, error) {
	bucket, err := c.bucket(zone)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	head, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, zone, key)
		}
		return nil, fmt.Errorf("failed to head object %s/%s: %w", zone, key, err)
	}

	tags, err := c.GetTags(ctx, zone, key)
	if err != nil {
		return nil, err
	}

	return &ObjectInfo{
		Key:         key,
		Size:        aws.ToInt64(head.ContentLength),
		ContentType: aws.ToString(head.ContentType),
		ETag:        strings.Trim(aws.ToString(head.ETag), `"`),
		Tags:        tags,
	}, nil
}

// Exists проверяет существование объекта без чтения тегов
func (c *S3Client) Exists(ctx context.Context, zone domain.Zone, key string) (bool, error) {
	bucket, err := c.bucket(zone)
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err = c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
	return true, nil
}

func (c *S3Client) GetTags(ctx context.Context, zone domain.Zone, key string) (map[string]string, error) {
	bucket, err := c.bucket(zone)
	if err != nil {
		return nil, err
	}

	out, err := c.client.GetObjectTagging(ctx, &s3.GetObjectTaggingInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, zone, key)
		}
		return nil, fmt.Errorf("failed to get object tags: %w", err)
	}

	tags := make(map[string]string, len(out.TagSet))
	for _, t := range out.TagSet {
		tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return tags, nil
}

// PutTags объединяет новые теги с существующими: S3 заменяет набор целиком
func (c *S3Client) PutTags(ctx context.Context, zone domain.Zone, key string, tags map[string]string) error {
	bucket, err := c.bucket(zone)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	merged, err := c.GetTags(ctx, zone, key)
	if err != nil {
		return err
	}
	for k, v := range tags {
		merged[k] = v
	}

	tagSet := make([]types.Tag, 0, len(merged))
	for k, v := range merged {
		tagSet = append(tagSet, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}

	_, err = c.client.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
		Bucket:  aws.String(bucket),
		Key:     aws.String(key),
		Tagging: &types.Tagging{TagSet: tagSet},
	})
	if err != nil {
		return fmt.Errorf("failed to put object tags: %w", err)
	}
	return nil
}

// Open получает объект из S3 потоком
func (c *S3Client) Open(ctx context.Context, zone domain.Zone, key string) (Object, error) {
	bucket, err := c.bucket(zone)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.streamTimeout)

	result, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		cancel()
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, zone, key)
		}
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}

	return &object{
		ReadCloser:    result.Body,
		contentLength: aws.ToInt64(result.ContentLength),
		contentType:   aws.ToString(result.ContentType),
		cancel:        cancel,
	}, nil
}

// ReadRange получает часть объекта из S3
func (c *S3Client) ReadRange(ctx context.Context, zone domain.Zone, key string, offset, length int64) ([]byte, error) {
	bucket, err := c.bucket(zone)
	if err != nil {
		return nil, err
	}
	if length <= 0 {
		return nil, fmt.Errorf("invalid range length %d", length)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	rangeHeader := fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	result, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Range:  aws.String(rangeHeader),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, zone, key)
		}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidRange" {
			// Объект короче запрошенного смещения
			return []byte{}, nil
		}
		return nil, fmt.Errorf("failed to get object range from S3: %w", err)
	}
	defer result.Body.Close()

	return io.ReadAll(io.LimitReader(result.Body, length))
}

// Put загружает объект в зону
func (c *S3Client) Put(ctx context.Context, zone domain.Zone, key string, r io.Reader, size int64, contentType string) error {
	bucket, err := c.bucket(zone)
	if err != nil {
		return err
	}
	if key == "" || r == nil {
		return fmt.Errorf("key and body are required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.streamTimeout)
	defer cancel()

	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   r,
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := c.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload object to S3: %w", err)
	}
	return nil
}

// Copy выполняет серверное копирование между бакетами зон
func (c *S3Client) Copy(ctx context.Context, srcZone domain.Zone, srcKey string, dstZone domain.Zone, dstKey string) error {
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

	_, err = c.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(dstBucket),
		Key:               aws.String(dstKey),
		CopySource:        aws.String(copySource(srcBucket, srcKey)),
		MetadataDirective: types.MetadataDirectiveCopy,
		TaggingDirective:  types.TaggingDirectiveCopy,
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s/%s", ErrObjectNotFound, srcZone, srcKey)
		}
		return fmt.Errorf("failed to copy %s/%s to %s/%s: %w", srcZone, srcKey, dstZone, dstKey, err)
	}

	logger.Logger.Debug().
		Str("src", string(srcZone)+"/"+srcKey).
		Str("dst", string(dstZone)+"/"+dstKey).
		Msg("[S3] copy issued")
	return nil
}

// Delete удаляет объект; отсутствие объекта не считается ошибкой
func (c *S3Client) Delete(ctx context.Context, zone domain.Zone, key string) error {
	bucket, err := c.bucket(zone)
	if err != nil {
		return err
	}
	if key == "" {
		return fmt.Errorf("key is required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err = c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete object from S3: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchTagSet":
			return true
		}
	}
	return false
}

// copySource кодирует источник копирования: каждый сегмент ключа экранируется отдельно
func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return bucket + "/" + strings.Join(segments, "/")
}

func zoneBuckets(raw map[string]string) (map[domain.Zone]string, error) {
	buckets := make(map[domain.Zone]string, len(domain.Zones))
	for _, zone := range domain.Zones {
		b := raw[string(zone)]
		if b == "" {
			return nil, fmt.Errorf("bucket for zone %q is required", zone)
		}
		buckets[zone] = b
	}
	return buckets, nil
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
