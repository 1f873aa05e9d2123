package mail

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Loader reads attachment bodies from the documents bucket.
type S3Loader struct {
	client s3API
	bucket string
}

func NewS3Loader(client s3API, bucket string) *S3Loader {
	return &S3Loader{client: client, bucket: bucket}
}

func (l *S3Loader) Load(ctx context.Context, key string) ([]byte, error) {
	if l.bucket == "" {
		return nil, fmt.Errorf("documents bucket is not configured")
	}
	out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get %s/%s: %w", l.bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3 object %s: %w", key, err)
	}
	return data, nil
}
