package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hbomb79/Archivist/pkg/logger"
)

var log = logger.Get("Storage")

// S3Client defines the S3 operations used by a Bucket.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Bucket provides object access to a single S3 bucket. Archived payloads are
// written here, and the credential cache reads its cookie file from one.
type Bucket struct {
	client S3Client
	name   string
}

func NewBucket(client S3Client, name string) *Bucket {
	return &Bucket{client: client, name: name}
}

func (b *Bucket) Name() string { return b.name }

// Upload writes the body to the key provided. The body is streamed, so
// callers should hand over a seekable reader (e.g. an *os.File) to allow
// the SDK to compute the payload checksum without buffering.
func (b *Bucket) Upload(ctx context.Context, key string, body io.Reader, contentType string) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.name),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %q in bucket %q: %w", key, b.name, err)
	}

	log.Infof("Object uploaded key=%s bucket=%s content_type=%s\n", key, b.name, contentType)
	return nil
}

// Get returns a reader for the object at key. The caller must close it.
func (b *Bucket) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %q from bucket %q: %w", key, b.name, err)
	}

	return out.Body, nil
}
