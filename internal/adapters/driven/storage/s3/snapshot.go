// Package s3 stores unified index snapshots in S3 or an S3-compatible service.
package s3

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/custodia-labs/memweave/internal/adapters/driven/storage/codec"
	"github.com/custodia-labs/memweave/internal/core/domain"
	"github.com/custodia-labs/memweave/internal/core/ports/driven"
)

// digestMetadataKey holds the SHA-256 of the encoded snapshot.
const digestMetadataKey = "memweave-digest"

// Client is the subset of the S3 API the snapshot store uses.
type Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Ensure SnapshotStore implements the interface.
var _ driven.SnapshotStore = (*SnapshotStore)(nil)

// SnapshotStore keeps the latest index snapshot as a single object.
type SnapshotStore struct {
	client Client
	bucket string
	key    string
}

// NewSnapshotStore creates a snapshot store over an existing client.
func NewSnapshotStore(client Client, bucket, key string) *SnapshotStore {
	return &SnapshotStore{client: client, bucket: bucket, key: key}
}

// NewSnapshotStoreFromConfig loads AWS configuration from the environment
// and builds a client. A custom endpoint switches to path-style addressing.
func NewSnapshotStoreFromConfig(ctx context.Context, cfg domain.SnapshotConfig) (*SnapshotStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: s3 snapshot requires a bucket", domain.ErrInvalidInput)
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewSnapshotStore(client, cfg.Bucket, cfg.Key), nil
}

// Save uploads the encoded snapshot, replacing the previous object.
func (s *SnapshotStore) Save(ctx context.Context, records []domain.Record) error {
	data, err := codec.Encode(records)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(data)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(codec.ContentType),
		Metadata:    map[string]string{digestMetadataKey: hex.EncodeToString(sum[:])},
	})
	if err != nil {
		return fmt.Errorf("s3 put snapshot: %w", err)
	}
	return nil
}

// Load downloads and decodes the snapshot.
func (s *SnapshotStore) Load(ctx context.Context) ([]domain.Record, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		var nf *types.NotFound
		if errors.As(err, &nsk) || errors.As(err, &nf) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("s3 get snapshot: %w", err)
	}
	defer func() { _ = out.Body.Close() }()

	return codec.Decode(out.Body)
}

// Close is a no-op; the S3 client holds no resources that need releasing.
func (s *SnapshotStore) Close() error {
	return nil
}
