package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type S3Options struct {
	Bucket       string
	Region       string
	Endpoint     string
	UsePathStyle bool
}

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Store uploads lessons to an S3 (or S3-compatible) bucket.
type S3Store struct {
	bucket  string
	client  s3API
	presign func(ctx context.Context, key string, ttl time.Duration) (string, error)
}

func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 bucket must be set")
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})
	presigner := s3.NewPresignClient(client)
	store := &S3Store{bucket: opts.Bucket, client: client}
	store.presign = func(ctx context.Context, key string, ttl time.Duration) (string, error) {
		req, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(opts.Bucket),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(ttl))
		if err != nil {
			return "", err
		}
		return req.URL, nil
	}
	return store, nil
}

func (s *S3Store) Name() string { return "s3" }

func (s *S3Store) Put(ctx context.Context, obj Object) error {
	contentType := obj.ContentType
	if contentType == "" {
		contentType = ContentType(obj.Key)
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(obj.Key),
		Body:          bytes.NewReader(obj.Data),
		ContentLength: aws.Int64(int64(len(obj.Data))),
		ContentType:   aws.String(contentType),
		Metadata:      obj.Metadata,
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", obj.Key, err)
	}
	return nil
}

func (s *S3Store) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	url, err := s.presign(ctx, key, ttl)
	if err != nil {
		return "", fmt.Errorf("s3 presign %s: %w", key, err)
	}
	return url, nil
}

func (s *S3Store) Health(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("s3 bucket %s unreachable: %w", s.bucket, err)
	}
	return nil
}
