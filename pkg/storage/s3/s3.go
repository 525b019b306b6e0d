// Package s3 implements storage.ObjectStore on top of the AWS SDK v2 S3
// client. It supports both real AWS (access-key pair or assumed role) and
// S3-compatible servers behind a custom endpoint, in which case path-style
// addressing is used.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"

	"github.com/reflector-media/reflector/pkg/storage"
)

// Config describes how to reach the backend. Exactly one of the access-key
// pair or RoleARN may be set; setting both is a configuration error caught by
// [New]. Leaving both empty falls back to the SDK default credential chain.
type Config struct {
	// Bucket is the default bucket for calls without a bucket override.
	Bucket string

	// Region is the AWS region. Required for real AWS; S3-compatible servers
	// usually accept any non-empty value.
	Region string

	// AccessKeyID and SecretAccessKey form a static credential pair.
	AccessKeyID     string
	SecretAccessKey string

	// RoleARN is assumed via STS when set. Mutually exclusive with the
	// static pair.
	RoleARN string

	// EndpointURL points at an S3-compatible server. When set, path-style
	// addressing is enabled (virtual-hosted style rarely works against
	// custom endpoints).
	EndpointURL string
}

// Store implements storage.ObjectStore backed by S3.
type Store struct {
	client   *awss3.Client
	presign  *awss3.PresignClient
	uploader *manager.Uploader
	bucket   string
}

var _ storage.ObjectStore = (*Store)(nil)

// New builds a Store from cfg. It validates the credential rule (key pair XOR
// role ARN) and wires path-style addressing for custom endpoints.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3: default bucket must not be empty")
	}
	hasPair := cfg.AccessKeyID != "" || cfg.SecretAccessKey != ""
	if hasPair && cfg.RoleARN != "" {
		return nil, errors.New("s3: access key pair and role ARN are mutually exclusive")
	}
	if (cfg.AccessKeyID == "") != (cfg.SecretAccessKey == "") {
		return nil, errors.New("s3: access key id and secret must be set together")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if hasPair {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}
	if cfg.RoleARN != "" {
		stsClient := sts.NewFromConfig(awsCfg)
		awsCfg.Credentials = aws.NewCredentialsCache(stscreds.NewAssumeRoleProvider(stsClient, cfg.RoleARN))
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})

	return &Store{
		client:   client,
		presign:  awss3.NewPresignClient(client),
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
	}, nil
}

func (s *Store) resolveBucket(opts []storage.Option) (string, storage.Options) {
	o := storage.Apply(opts)
	if o.Bucket != "" {
		return o.Bucket, o
	}
	return s.bucket, o
}

// Put implements storage.ObjectStore. It streams body through the SDK's
// multipart uploader so arbitrarily large padded tracks and mixdowns never
// need to fit in memory.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, opts ...storage.Option) error {
	bucket, o := s.resolveBucket(opts)
	input := &awss3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if o.ContentType != "" {
		input.ContentType = aws.String(o.ContentType)
	}
	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return wrapErr("put", bucket, key, err)
	}
	return nil
}

// Get implements storage.ObjectStore.
func (s *Store) Get(ctx context.Context, key string, opts ...storage.Option) ([]byte, error) {
	rc, err := s.Stream(ctx, key, opts...)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		bucket, _ := s.resolveBucket(opts)
		return nil, wrapErr("get", bucket, key, err)
	}
	return buf.Bytes(), nil
}

// Stream implements storage.ObjectStore.
func (s *Store) Stream(ctx context.Context, key string, opts ...storage.Option) (io.ReadCloser, error) {
	bucket, _ := s.resolveBucket(opts)
	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, wrapErr("get", bucket, key, err)
	}
	return out.Body, nil
}

// Presign implements storage.ObjectStore.
func (s *Store) Presign(ctx context.Context, key string, expiry time.Duration, opts ...storage.Option) (string, error) {
	bucket, _ := s.resolveBucket(opts)
	req, err := s.presign.PresignGetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, awss3.WithPresignExpires(expiry))
	if err != nil {
		return "", wrapErr("presign", bucket, key, err)
	}
	return req.URL, nil
}

// List implements storage.ObjectStore. Pagination is followed to exhaustion;
// callers list narrow prefixes (a single recording folder), not whole buckets.
func (s *Store) List(ctx context.Context, prefix string, opts ...storage.Option) ([]storage.ObjectInfo, error) {
	bucket, _ := s.resolveBucket(opts)
	var infos []storage.ObjectInfo

	paginator := awss3.NewListObjectsV2Paginator(s.client, &awss3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, wrapErr("list", bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			info := storage.ObjectInfo{Key: aws.ToString(obj.Key)}
			if obj.Size != nil {
				info.Size = *obj.Size
			}
			if obj.LastModified != nil {
				info.LastModified = *obj.LastModified
			}
			infos = append(infos, info)
		}
	}
	return infos, nil
}

// Delete implements storage.ObjectStore. S3 DeleteObject succeeds for missing
// keys, which gives consent cleanup its idempotence for free.
func (s *Store) Delete(ctx context.Context, key string, opts ...storage.Option) error {
	bucket, _ := s.resolveBucket(opts)
	if _, err := s.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		return wrapErr("delete", bucket, key, err)
	}
	return nil
}

// wrapErr classifies backend errors into the typed kinds the rest of the
// system dispatches on: permission errors (never retried), not-found
// (surfaced, not fatal), everything else passed through for the retry layer.
func wrapErr(op, bucket, key string, err error) error {
	var nsk *s3types.NoSuchKey
	var nsb *s3types.NoSuchBucket
	if errors.As(err, &nsk) || errors.As(err, &nsb) {
		return fmt.Errorf("s3: %s %s/%s: %w", op, bucket, key, storage.ErrNotFound)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return fmt.Errorf("s3: %s %s/%s: %w", op, bucket, key, storage.ErrNotFound)
		case "AccessDenied", "AllAccessDisabled", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return &storage.PermissionError{Bucket: bucket, Op: op, Err: err}
		}
	}
	return fmt.Errorf("s3: %s %s/%s: %w", op, bucket, key, err)
}
