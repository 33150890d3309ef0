package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Store implements Store on an S3-compatible bucket
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3StoreConfig holds configuration for S3Store
type S3StoreConfig struct {
	Bucket   string
	Region   string
	Endpoint string // custom endpoint (MinIO, Hetzner, R2...), forces path-style
	Prefix   string

	// Static credentials; when empty the default AWS chain is used
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Store creates a new S3-backed blob store
func NewS3Store(ctx context.Context, cfg S3StoreConfig) (*S3Store, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Get streams an object
func (s *S3Store) Get(ctx context.Context, key string) (*Object, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + key),
	})
	if err != nil {
		return nil, classifyS3("get", key, err)
	}

	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	contentType := aws.ToString(out.ContentType)
	if contentType == "" {
		contentType = contentTypeFor(key)
	}
	return &Object{Body: out.Body, ContentType: contentType, Size: size}, nil
}

// Put uploads an object. Non-seekable bodies are spooled to a temporary
// file first, since signing needs the payload length.
func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, contentType string) (PutResult, error) {
	if err := ValidateKey(key); err != nil {
		return PutResult{}, &Error{Kind: KindPermanent, Op: "put", Key: key, Err: err}
	}
	if contentType == "" {
		contentType = contentTypeFor(key)
	}

	seeker, ok := body.(io.ReadSeeker)
	if !ok {
		spool, err := os.CreateTemp("", "burrow-s3-*")
		if err != nil {
			return PutResult{}, &Error{Kind: KindTransient, Op: "put", Key: key, Err: err}
		}
		defer os.Remove(spool.Name())
		defer spool.Close()

		if _, err := io.Copy(spool, readerWithContext(ctx, body)); err != nil {
			return PutResult{}, &Error{Kind: KindTransient, Op: "put", Key: key, Err: err}
		}
		if _, err := spool.Seek(0, io.SeekStart); err != nil {
			return PutResult{}, &Error{Kind: KindTransient, Op: "put", Key: key, Err: err}
		}
		seeker = spool
	}

	out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.prefix + key),
		Body:        seeker,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return PutResult{}, classifyS3("put", key, err)
	}
	return PutResult{ETag: aws.ToString(out.ETag)}, nil
}

// Head checks for an object without downloading it
func (s *S3Store) Head(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + key),
	})
	if err == nil {
		return true, nil
	}
	err = classifyS3("head", key, err)
	if IsNotFound(err) {
		return false, nil
	}
	return false, err
}

func classifyS3(op, key string, err error) error {
	var noKey *s3types.NoSuchKey
	var notFoundErr *s3types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFoundErr) {
		return notFound(op, key)
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch code := respErr.HTTPStatusCode(); {
		case code == http.StatusNotFound:
			return notFound(op, key)
		case code == http.StatusUnauthorized, code == http.StatusForbidden,
			code == http.StatusBadRequest, code == http.StatusRequestEntityTooLarge:
			return &Error{Kind: KindPermanent, Op: op, Key: key, Err: err}
		}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return notFound(op, key)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "NoSuchBucket", "QuotaExceeded":
			return &Error{Kind: KindPermanent, Op: op, Key: key, Err: err}
		}
	}

	return &Error{Kind: KindTransient, Op: op, Key: key, Err: err}
}
