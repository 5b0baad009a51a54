package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var _ ImageArchive = (*S3ImageArchive)(nil)

// S3API is the subset of the S3 client used by the archive.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3ArchiveConfig locates the bucket used for archived images.
type S3ArchiveConfig struct {
	Bucket   string
	Region   string
	Prefix   string
	Endpoint string
}

// S3ImageArchive stores images as objects in an S3 bucket.
type S3ImageArchive struct {
	client S3API
	bucket string
	prefix string
}

// NewS3ImageArchive loads the default AWS credential chain and builds an archive.
func NewS3ImageArchive(ctx context.Context, cfg S3ArchiveConfig) (*S3ImageArchive, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("image archive: s3 bucket is required")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if region := strings.TrimSpace(cfg.Region); region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("image archive: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3ImageArchiveWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3ImageArchiveWithClient builds an archive around an existing client.
func NewS3ImageArchiveWithClient(client S3API, bucket, prefix string) *S3ImageArchive {
	return &S3ImageArchive{
		client: client,
		bucket: strings.TrimSpace(bucket),
		prefix: strings.Trim(strings.TrimSpace(prefix), "/"),
	}
}

// Store uploads the image and returns its s3:// URI.
func (a *S3ImageArchive) Store(ctx context.Context, code string, createdAt time.Time, png []byte) (string, error) {
	name := sanitizePathFragment(code)
	if name == "" {
		return "", errors.New("image archive: invite code is required")
	}
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	key := archiveKey(name, createdAt)
	if a.prefix != "" {
		key = a.prefix + "/" + key
	}

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(png),
		ContentType:   aws.String("image/png"),
		ContentLength: aws.Int64(int64(len(png))),
	})
	if err != nil {
		return "", fmt.Errorf("image archive: put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", a.bucket, key), nil
}

// Delete removes the object referenced by an s3:// URI or bare key.
func (a *S3ImageArchive) Delete(ctx context.Context, path string) error {
	key := strings.TrimPrefix(path, "s3://"+a.bucket+"/")
	if key == "" {
		return nil
	}
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("image archive: delete object: %w", err)
	}
	return nil
}
