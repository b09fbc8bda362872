package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/custodia-labs/memweave/internal/core/domain"
)

// Options configures the MinIO client.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	Secure    bool
	Region    string
}

// minioObjects implements objects over a MinIO client.
type minioObjects struct {
	client *minio.Client
	bucket string
}

// Open connects to the endpoint and creates the bucket if it does not exist.
func Open(ctx context.Context, name string, opts Options) (*Backend, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("%w: objectstore backend %s requires a bucket", domain.ErrInvalidInput, name)
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.Secure,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("%w: bucket check: %v", domain.ErrBackendUnavailable, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{Region: opts.Region}); err != nil {
			return nil, fmt.Errorf("%w: make bucket: %v", domain.ErrBackendUnavailable, err)
		}
	}
	return newBackend(name, &minioObjects{client: client, bucket: opts.Bucket}, opts.Prefix), nil
}

func (m *minioObjects) put(ctx context.Context, key string, data []byte) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	return err
}

func (m *minioObjects) get(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, notFound(err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, notFound(err)
	}
	return data, nil
}

func (m *minioObjects) list(ctx context.Context, prefix string) ([]objectInfo, error) {
	var out []objectInfo
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		out = append(out, objectInfo{Key: obj.Key, LastModified: obj.LastModified})
	}
	return out, nil
}

func (m *minioObjects) close() error {
	return nil
}

func notFound(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.Code == "NotFound" {
		return errObjectNotFound
	}
	return err
}
