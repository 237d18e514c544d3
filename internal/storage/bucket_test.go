package storage_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hbomb79/Archivist/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockS3Client struct {
	putFunc func(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	getFunc func(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

func (m *mockS3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putFunc != nil {
		return m.putFunc(ctx, params, optFns...)
	}
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, params, optFns...)
	}
	return &s3.GetObjectOutput{}, nil
}

func TestBucket_Upload(t *testing.T) {
	var uploaded []byte
	bucket := storage.NewBucket(&mockS3Client{
		putFunc: func(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
			assert.Equal(t, "archive-bucket", aws.ToString(params.Bucket))
			assert.Equal(t, "downloads/a.mp4", aws.ToString(params.Key))
			assert.Equal(t, "video/mp4", aws.ToString(params.ContentType))

			var err error
			uploaded, err = io.ReadAll(params.Body)
			return &s3.PutObjectOutput{}, err
		},
	}, "archive-bucket")
	assert.Equal(t, "archive-bucket", bucket.Name())

	require.NoError(t, bucket.Upload(context.Background(), "downloads/a.mp4", bytes.NewReader([]byte("payload")), "video/mp4"))
	assert.Equal(t, "payload", string(uploaded))
}

func TestBucket_UploadError(t *testing.T) {
	bucket := storage.NewBucket(&mockS3Client{
		putFunc: func(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
			return nil, errors.New("access denied")
		},
	}, "archive-bucket")

	err := bucket.Upload(context.Background(), "downloads/a.mp4", bytes.NewReader(nil), "video/mp4")
	assert.ErrorContains(t, err, "access denied")
}

func TestBucket_Get(t *testing.T) {
	bucket := storage.NewBucket(&mockS3Client{
		getFunc: func(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			assert.Equal(t, "creds-bucket", aws.ToString(params.Bucket))
			assert.Equal(t, "cookies.txt", aws.ToString(params.Key))
			return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewBufferString("cookies"))}, nil
		},
	}, "creds-bucket")

	body, err := bucket.Get(context.Background(), "cookies.txt")
	require.NoError(t, err)
	defer body.Close()

	contents, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "cookies", string(contents))
}
