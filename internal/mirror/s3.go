package mirror

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// putter is the subset of the S3 client used by the mirror.
type putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 mirrors into a bucket under an optional key prefix.
type S3 struct {
	client putter
	bucket string
	prefix string
}

// S3Opts configures NewS3.
type S3Opts struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string // e.g. http://localstack:4566 or a MinIO URL
}

// NewS3 loads the default AWS credential chain and returns an S3 target.
func NewS3(ctx context.Context, opts S3Opts) (*S3, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("mirror: s3 bucket is required")
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("mirror: load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3(client, opts.Bucket, opts.Prefix), nil
}

func newS3(client putter, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: prefix}
}

// Name implements Target.
func (s *S3) Name() string { return "s3" }

// Key returns the object key for a file name.
func (s *S3) Key(name string) string {
	if s.prefix == "" {
		return path.Base(name)
	}
	return path.Join(s.prefix, path.Base(name))
}

// Copy uploads data as one object.
func (s *S3) Copy(ctx context.Context, name, contentType string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.Key(name)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("mirror: put s3://%s/%s: %w", s.bucket, s.Key(name), err)
	}
	return nil
}
