package images

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store writes images to a bucket. With a presign TTL the returned URL is
// a presigned GET; otherwise it is the virtual-hosted object URL.
type S3Store struct {
	client     s3API
	presign    func(ctx context.Context, bucket, key string) (string, error)
	bucket     string
	region     string
	prefix     string
	presignTTL time.Duration
}

func NewS3Store(ctx context.Context, bucket, region, prefix string, presignTTL time.Duration) (*S3Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	s := &S3Store{client: client, bucket: bucket, region: region, prefix: prefix, presignTTL: presignTTL}
	if presignTTL > 0 {
		pc := s3.NewPresignClient(client)
		s.presign = func(ctx context.Context, bucket, key string) (string, error) {
			req, err := pc.PresignGetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(bucket),
				Key:    aws.String(key),
			}, s3.WithPresignExpires(presignTTL))
			if err != nil {
				return "", err
			}
			return req.URL, nil
		}
	}
	return s, nil
}

func (s *S3Store) Put(ctx context.Context, img Image) (string, error) {
	key := objectKey(s.prefix, img)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(img.Data),
		ContentType: aws.String(img.ContentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	if s.presign != nil {
		u, err := s.presign(ctx, s.bucket, key)
		if err != nil {
			return "", fmt.Errorf("presign %s: %w", key, err)
		}
		return u, nil
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key), nil
}
