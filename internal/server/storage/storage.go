// Package storage defines the durable storage backend used by the upload
// coordinator and its local-filesystem and S3 implementations.
package storage

import (
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/dmitrijs2005/measurekeeper/internal/server/config"
)

// Backend stores chunk bytes durably. Implementations must be crash
// tolerant: a partially written chunk must not corrupt previously stored
// bytes, and BytesStored reflects only fully, durably appended bytes.
type Backend interface {
	// Store appends chunk at the given byte offset of id's staged upload
	// and returns the number of durably persisted bytes.
	Store(ctx context.Context, id string, chunk []byte, offset int64) (int64, error)

	// BytesStored returns how many bytes are durably staged for id.
	// Unknown identifiers report zero.
	BytesStored(ctx context.Context, id string) (int64, error)

	// Complete turns id's staged bytes into the final retrievable object
	// and returns the server-assigned object name, persisted as the
	// metadata document's filename.
	Complete(ctx context.Context, id string) (string, error)

	// Discard drops id's staged bytes.
	Discard(ctx context.Context, id string) error

	// Cleanup removes staged uploads idle for longer than age and
	// returns how many were removed.
	Cleanup(ctx context.Context, age time.Duration) (int, error)
}

// NewBackend builds the backend selected by cfg.StorageBackend. The
// returned backend carries its own matching Cleanup operation.
func NewBackend(cfg *config.Config) (Backend, error) {
	switch cfg.StorageBackend {
	case config.BackendFile:
		return NewFileBackend(cfg.UploadRootDir)
	case config.BackendS3:
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(cfg.S3Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.S3RootUser,
				cfg.S3RootPassword,
				"",
			)))
		if err != nil {
			return nil, fmt.Errorf("aws config: %w", err)
		}

		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.S3BaseEndpoint)
			o.UsePathStyle = true
		})

		return NewS3Backend(client, cfg.S3Bucket), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}
