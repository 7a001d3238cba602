package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

var _ Backend = (*S3Store)(nil)

// S3API is the subset of the S3 client the store calls.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Options configures an S3Store.
type S3Options struct {
	Bucket string
	Region string
	// Prefix is prepended to every key; "media/" when empty.
	Prefix string
	// Endpoint overrides the public URL host for S3-compatible services.
	Endpoint string
	// VerifyWrites reads object metadata back after each Put and fails the
	// write when the stored size does not match.
	VerifyWrites bool
}

// S3Store persists artifacts in an S3 bucket. References take the form
// s3://bucket/key.
type S3Store struct {
	client S3API
	opts   S3Options
}

// NewS3Store wraps client.
func NewS3Store(client S3API, opts S3Options) (*S3Store, error) {
	if client == nil {
		return nil, errors.New("storage: s3 client is required")
	}
	opts.Bucket = strings.TrimSpace(opts.Bucket)
	if opts.Bucket == "" {
		return nil, errors.New("storage: s3 bucket is required")
	}
	if opts.Prefix == "" {
		opts.Prefix = "media/"
	}
	if !strings.HasSuffix(opts.Prefix, "/") {
		opts.Prefix += "/"
	}
	return &S3Store{client: client, opts: opts}, nil
}

// S3ClientConfig holds what NewS3Client needs to build an AWS client.
type S3ClientConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
}

// NewS3Client builds an S3 client from the default AWS credential chain,
// overridden by static keys when both are set.
func NewS3Client(ctx context.Context, cfg S3ClientConfig) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// Put uploads data under the prefixed key.
func (s *S3Store) Put(ctx context.Context, key string, data []byte) (string, error) {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return "", &WriteError{Key: key, Err: err}
	}
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.opts.Bucket),
		Key:           aws.String(objectKey),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if ct := mime.TypeByExtension(path.Ext(objectKey)); ct != "" {
		in.ContentType = aws.String(ct)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return "", &WriteError{Key: objectKey, Err: err}
	}
	if s.opts.VerifyWrites {
		head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.opts.Bucket),
			Key:    aws.String(objectKey),
		})
		if err != nil {
			return "", &WriteError{Key: objectKey, Err: fmt.Errorf("verify: %w", err)}
		}
		if size := aws.ToInt64(head.ContentLength); size != int64(len(data)) {
			return "", &WriteError{Key: objectKey, Err: fmt.Errorf("verify: stored %d bytes, wrote %d", size, len(data))}
		}
	}
	return "s3://" + s.opts.Bucket + "/" + objectKey, nil
}

// Get downloads the object behind ref.
func (s *S3Store) Get(ctx context.Context, ref string) ([]byte, error) {
	key, err := s.objectKey(ref)
	if err != nil {
		return nil, ErrNotFound
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: get object: %w", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("storage: read object: %w", err)
	}
	return data, nil
}

// Delete removes the object behind ref. S3 treats missing keys as deleted.
func (s *S3Store) Delete(ctx context.Context, ref string) error {
	key, err := s.objectKey(ref)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("storage: delete object: %w", err)
	}
	return nil
}

// PublicURL returns the virtual-hosted URL of ref, or a path-style URL on
// the custom endpoint when one is configured.
func (s *S3Store) PublicURL(ref string) string {
	if ref == "" {
		return ""
	}
	key, err := s.objectKey(ref)
	if err != nil {
		return ""
	}
	if s.opts.Endpoint != "" {
		return strings.TrimRight(s.opts.Endpoint, "/") + "/" + s.opts.Bucket + "/" + key
	}
	region := s.opts.Region
	if region == "" {
		region = "us-east-1"
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.opts.Bucket, region, key)
}

// objectKey resolves an s3:// reference or a caller key to the object key.
// Caller keys get the store prefix unless they already carry it, so Put and
// Get agree on the same key.
func (s *S3Store) objectKey(ref string) (string, error) {
	if full := "s3://" + s.opts.Bucket + "/"; strings.HasPrefix(ref, full) {
		return sanitizeKey(strings.TrimPrefix(ref, full))
	}
	clean, err := sanitizeKey(ref)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(clean, s.opts.Prefix) {
		return clean, nil
	}
	return s.opts.Prefix + clean, nil
}
