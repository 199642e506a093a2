// Package s3store implements remote.Store on S3-compatible object storage
// (AWS S3, MinIO). The "folder" is a bucket plus a key prefix.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/dmitrijs2005/invoicekeeper/internal/client/remote"
	"github.com/dmitrijs2005/invoicekeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/invoicekeeper/internal/common"
	"github.com/dmitrijs2005/invoicekeeper/internal/logging"
)

// s3API is the subset of *s3.Client used by the store.
type s3API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) s3API {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// Config describes the target bucket and how to reach it.
type Config struct {
	Region    string
	Endpoint  string // e.g. http://localhost:9000 for MinIO; empty for AWS
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	PathStyle bool
}

type Store struct {
	api    s3API
	bucket string
	prefix string
	meta   metadata.Repository
	log    logging.Logger

	mu      sync.Mutex
	ensured bool
}

var _ remote.Store = (*Store)(nil)

// New builds an S3 client from cfg. Static credentials are used when given,
// otherwise the default AWS credential chain applies.
func New(ctx context.Context, cfg Config, meta metadata.Repository, log logging.Logger) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket: %w", common.ErrNotConfigured)
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	api := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return newWithAPI(api, cfg, meta, log), nil
}

func newWithAPI(api s3API, cfg Config, meta metadata.Repository, log logging.Logger) *Store {
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &Store{
		api:    api,
		bucket: cfg.Bucket,
		prefix: prefix,
		meta:   meta,
		log:    log.With("backend", "s3", "bucket", cfg.Bucket),
	}
}

func (s *Store) FolderName() string {
	return "s3://" + path.Join(s.bucket, s.prefix)
}

// ensureBucket makes sure the bucket exists, creating it when missing. The
// verified reference is persisted so later runs skip the check.
func (s *Store) ensureBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured {
		return nil
	}

	ref := s.FolderName()
	saved, err := metadata.GetString(ctx, s.meta, common.MetaS3Folder)
	if err != nil {
		return err
	}
	if saved == ref {
		s.ensured = true
		return nil
	}

	_, err = s.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		if !isCode(err, "NotFound", "NoSuchBucket") {
			return mapError("head bucket", err)
		}
		if _, err := s.api.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}); err != nil &&
			!isCode(err, "BucketAlreadyOwnedByYou") {
			return mapError("create bucket", err)
		}
		s.log.Info(ctx, "created bucket")
	}

	if err := metadata.SetString(ctx, s.meta, common.MetaS3Folder, ref); err != nil {
		return err
	}
	s.ensured = true
	return nil
}

// forget drops the verified bucket reference after the bucket vanished.
func (s *Store) forget(ctx context.Context) {
	s.mu.Lock()
	s.ensured = false
	s.mu.Unlock()
	_ = s.meta.Delete(ctx, common.MetaS3Folder)
}

// withBucket runs fn after ensuring the bucket, re-resolving once if the
// bucket turns out to be gone.
func (s *Store) withBucket(ctx context.Context, fn func() error) error {
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}
	err := fn()
	if err != nil && isCode(err, "NoSuchBucket") {
		s.log.Warn(ctx, "bucket disappeared, recreating")
		s.forget(ctx)
		if err := s.ensureBucket(ctx); err != nil {
			return err
		}
		err = fn()
	}
	return err
}

func (s *Store) List(ctx context.Context) ([]remote.File, error) {
	var out []remote.File
	err := s.withBucket(ctx, func() error {
		out = out[:0]
		p := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
			Bucket: aws.String(s.bucket),
			Prefix: aws.String(s.prefix),
		})
		for p.HasMorePages() {
			page, err := p.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, obj := range page.Contents {
				key := aws.ToString(obj.Key)
				name := strings.TrimPrefix(key, s.prefix)
				if name == "" || strings.Contains(name, "/") {
					continue
				}
				out = append(out, remote.File{
					ID:         key,
					Name:       name,
					ModifiedAt: aws.ToTime(obj.LastModified),
					Size:       aws.ToInt64(obj.Size),
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, mapError("list objects", err)
	}
	remote.SortNewestFirst(out)
	return out, nil
}

func (s *Store) Upload(ctx context.Context, name string, content []byte) (string, error) {
	key := s.prefix + name
	err := s.withBucket(ctx, func() error {
		_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(content),
			ContentLength: aws.Int64(int64(len(content))),
			ContentType:   aws.String("application/json"),
			IfNoneMatch:   aws.String("*"),
		})
		return err
	})
	if err != nil {
		return "", mapError("put "+key, err)
	}
	s.log.Debug(ctx, "object uploaded", "key", key, "bytes", len(content))
	return key, nil
}

func (s *Store) Download(ctx context.Context, id string) ([]byte, error) {
	var content []byte
	err := s.withBucket(ctx, func() error {
		out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(id),
		})
		if err != nil {
			return err
		}
		defer out.Body.Close()
		content, err = io.ReadAll(out.Body)
		if err != nil {
			return fmt.Errorf("%w: %v", common.ErrNetwork, err)
		}
		return nil
	})
	if err != nil {
		return nil, mapError("get "+id, err)
	}
	return content, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	err := s.withBucket(ctx, func() error {
		_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(id),
		})
		return err
	})
	if err != nil {
		return mapError("delete "+id, err)
	}
	return nil
}

func isCode(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, c := range codes {
		if apiErr.ErrorCode() == c {
			return true
		}
	}
	return false
}

// mapError translates S3 failures into the shared sentinel errors.
func mapError(op string, err error) error {
	switch {
	case errors.Is(err, common.ErrNetwork), errors.Is(err, common.ErrNotFound),
		errors.Is(err, common.ErrAuthRequired), errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	case isCode(err, "NoSuchKey", "NotFound", "NoSuchBucket"):
		return fmt.Errorf("%s: %w: %v", op, common.ErrNotFound, err)
	case isCode(err, "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken"):
		return fmt.Errorf("%s: %w: %v", op, common.ErrAuthRequired, err)
	case isCode(err, "PreconditionFailed"):
		return fmt.Errorf("%s: object already exists: %w", op, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, common.ErrNetwork, err)
}
