package tier

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/zeebo/xxh3"

	"github.com/wavecache/wavecache/internal/config"
	"github.com/wavecache/wavecache/pkg/errors"
	"github.com/wavecache/wavecache/pkg/types"
)

// checksumMetadataKey is the S3 user-metadata key carrying the payload
// checksum, written on every put so Checksum can avoid a full download.
const checksumMetadataKey = "payload-checksum"

// s3Client is the subset of the S3 API the blob store uses, narrowed for
// test doubles.
type s3Client interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// BlobStore is the slowest, durable tier: an S3-compatible object store.
type BlobStore struct {
	client s3Client
	bucket string
	prefix string
}

var _ types.TierStore = (*BlobStore)(nil)

// NewBlobStore builds an S3 client from cfg and wraps it as a tier store.
// Custom endpoints (MinIO, LocalStack) are supported via cfg.Endpoint and
// path-style addressing.
func NewBlobStore(ctx context.Context, cfg config.BlobStoreConfig) (*BlobStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "blob tier bucket not set")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return NewBlobStoreWithClient(client, cfg.Bucket, cfg.KeyPrefix), nil
}

// NewBlobStoreWithClient wraps an existing client, used by tests and hosts
// that manage their own AWS configuration.
func NewBlobStoreWithClient(client s3Client, bucket, prefix string) *BlobStore {
	return &BlobStore{client: client, bucket: bucket, prefix: prefix}
}

func (s *BlobStore) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return strings.TrimSuffix(s.prefix, "/") + "/" + key
}

// Read downloads the payload for key.
func (s *BlobStore) Read(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return nil, s.translateError(err, "read", key)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Newf(errors.ErrCodeStorageRead, "failed to read body for %q", key).
			WithComponent("tier.blob").WithOperation("read").WithCause(err)
	}
	return data, nil
}

// Write uploads data under key, recording the payload checksum as object
// metadata.
func (s *BlobStore) Write(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			checksumMetadataKey: strconv.FormatUint(xxh3.Hash(data), 16),
		},
	})
	if err != nil {
		return s.translateError(err, "write", key)
	}
	return nil
}

// Delete removes key. S3 treats deleting an absent key as success, and so
// does this store.
func (s *BlobStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return s.translateError(err, "delete", key)
	}
	return nil
}

// ListPresent pages through the bucket prefix and returns logical keys.
func (s *BlobStore) ListPresent(ctx context.Context) ([]string, error) {
	var keys []string
	var continuation *string

	prefix := s.prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, s.translateError(err, "list", prefix)
		}

		for _, obj := range out.Contents {
			if obj.Key == nil {
				continue
			}
			keys = append(keys, strings.TrimPrefix(*obj.Key, prefix))
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		continuation = out.NextContinuationToken
	}

	sort.Strings(keys)
	return keys, nil
}

// Checksum returns the payload checksum from object metadata, falling back
// to downloading and hashing objects written without it.
func (s *BlobStore) Checksum(ctx context.Context, key string) (uint64, error) {
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return 0, s.translateError(err, "checksum", key)
	}

	if stored, ok := head.Metadata[checksumMetadataKey]; ok {
		sum, parseErr := strconv.ParseUint(stored, 16, 64)
		if parseErr == nil {
			return sum, nil
		}
	}

	data, err := s.Read(ctx, key)
	if err != nil {
		return 0, err
	}
	return xxh3.Hash(data), nil
}

func (s *BlobStore) translateError(err error, operation, key string) error {
	switch {
	case isErrorType[*s3types.NoSuchKey](err), isErrorType[*s3types.NotFound](err):
		return errors.Newf(errors.ErrCodeObjectNotFound, "key %q not in blob tier", key).
			WithComponent("tier.blob").WithOperation(operation)
	case isErrorType[*s3types.NoSuchBucket](err):
		return errors.Newf(errors.ErrCodeTierUnavailable, "bucket %q not found", s.bucket).
			WithComponent("tier.blob").WithOperation(operation).WithCause(err)
	default:
		code := errors.ErrCodeStorageRead
		if operation == "write" || operation == "delete" {
			code = errors.ErrCodeStorageWrite
		}
		return errors.Newf(code, "blob tier %s failed for %q", operation, key).
			WithComponent("tier.blob").WithOperation(operation).WithCause(err)
	}
}

// isErrorType checks if an error is of a specific type.
func isErrorType[T error](err error) bool {
	var target T
	return stderrors.As(err, &target)
}
