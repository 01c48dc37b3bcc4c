package storage

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dmitrijs2005/measurekeeper/internal/common"
	"github.com/google/uuid"
)

// s3API is the slice of the S3 client the backend uses. *s3.Client
// satisfies it; tests substitute a fake.
type s3API interface {
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	ListMultipartUploads(ctx context.Context, params *s3.ListMultipartUploadsInput, optFns ...func(*s3.Options)) (*s3.ListMultipartUploadsOutput, error)
}

// s3Upload tracks one in-progress multipart upload.
type s3Upload struct {
	key      string
	uploadID string
	parts    []types.CompletedPart
	bytes    int64
	// lastActivity is refreshed on every stored chunk; Cleanup judges
	// uploads owned by this process by it, not by initiation time.
	lastActivity time.Time
}

// S3Backend appends chunks through the object store's multipart-upload
// semantics: one part per chunk, completed into the final object at
// finalization. Until then the staged bytes are invisible as objects.
//
// Remote stores enforce a minimum part size (5 MiB on AWS S3, except for
// the last part); chunks below it are rejected by the store at completion.
type S3Backend struct {
	client s3API
	bucket string

	mu      sync.Mutex
	uploads map[string]*s3Upload
}

// NewS3Backend returns a backend writing into the given bucket.
func NewS3Backend(client s3API, bucket string) *S3Backend {
	return &S3Backend{
		client:  client,
		bucket:  bucket,
		uploads: make(map[string]*s3Upload),
	}
}

func (b *S3Backend) Store(ctx context.Context, id string, chunk []byte, offset int64) (int64, error) {
	b.mu.Lock()
	up, ok := b.uploads[id]
	b.mu.Unlock()

	if !ok {
		if offset != 0 {
			return 0, fmt.Errorf("%w: no staged upload for %q at offset %d", common.ErrStorageFailure, id, offset)
		}
		key := uuid.New().String()
		out, err := b.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return 0, fmt.Errorf("%w: create multipart upload: %v", common.ErrStorageFailure, err)
		}
		up = &s3Upload{key: key, uploadID: aws.ToString(out.UploadId), lastActivity: time.Now()}
		b.mu.Lock()
		b.uploads[id] = up
		b.mu.Unlock()
	}

	if up.bytes != offset {
		return 0, fmt.Errorf("%w: staged %d bytes, chunk starts at %d", common.ErrStorageFailure, up.bytes, offset)
	}

	partNumber := int32(len(up.parts) + 1)
	out, err := b.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(b.bucket),
		Key:        aws.String(up.key),
		UploadId:   aws.String(up.uploadID),
		PartNumber: aws.Int32(partNumber),
		Body:       bytes.NewReader(chunk),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: upload part %d: %v", common.ErrStorageFailure, partNumber, err)
	}

	b.mu.Lock()
	up.parts = append(up.parts, types.CompletedPart{
		ETag:       out.ETag,
		PartNumber: aws.Int32(partNumber),
	})
	up.bytes += int64(len(chunk))
	up.lastActivity = time.Now()
	b.mu.Unlock()

	return int64(len(chunk)), nil
}

func (b *S3Backend) BytesStored(ctx context.Context, id string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if up, ok := b.uploads[id]; ok {
		return up.bytes, nil
	}
	return 0, nil
}

func (b *S3Backend) Complete(ctx context.Context, id string) (string, error) {
	b.mu.Lock()
	up, ok := b.uploads[id]
	b.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: no staged upload for %q", common.ErrStorageFailure, id)
	}

	_, err := b.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(b.bucket),
		Key:      aws.String(up.key),
		UploadId: aws.String(up.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: up.parts,
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: complete multipart upload: %v", common.ErrStorageFailure, err)
	}

	b.mu.Lock()
	delete(b.uploads, id)
	b.mu.Unlock()

	return up.key, nil
}

func (b *S3Backend) Discard(ctx context.Context, id string) error {
	b.mu.Lock()
	up, ok := b.uploads[id]
	delete(b.uploads, id)
	b.mu.Unlock()
	if !ok {
		return nil
	}

	_, err := b.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(b.bucket),
		Key:      aws.String(up.key),
		UploadId: aws.String(up.uploadID),
	})
	if err != nil {
		return fmt.Errorf("%w: abort multipart upload: %v", common.ErrStorageFailure, err)
	}
	return nil
}

// Cleanup aborts incomplete multipart uploads idle for longer than age.
// Uploads owned by this process are judged by the time of their last
// stored chunk; uploads left behind by an earlier process carry no
// activity record, so their initiation time is all there is to go on.
func (b *S3Backend) Cleanup(ctx context.Context, age time.Duration) (int, error) {
	cutoff := time.Now().Add(-age)

	type target struct {
		id       string
		key      string
		uploadID string
	}
	var idle []target
	b.mu.Lock()
	for id, up := range b.uploads {
		if up.lastActivity.Before(cutoff) {
			idle = append(idle, target{id: id, key: up.key, uploadID: up.uploadID})
		}
	}
	b.mu.Unlock()

	removed := 0
	for _, t := range idle {
		_, err := b.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(b.bucket),
			Key:      aws.String(t.key),
			UploadId: aws.String(t.uploadID),
		})
		if err != nil {
			continue
		}
		b.mu.Lock()
		delete(b.uploads, t.id)
		b.mu.Unlock()
		removed++
	}

	out, err := b.client.ListMultipartUploads(ctx, &s3.ListMultipartUploadsInput{
		Bucket: aws.String(b.bucket),
	})
	if err != nil {
		return removed, fmt.Errorf("%w: list multipart uploads: %v", common.ErrStorageFailure, err)
	}

	for _, u := range out.Uploads {
		if b.owns(aws.ToString(u.UploadId)) {
			continue
		}
		if u.Initiated == nil || u.Initiated.After(cutoff) {
			continue
		}
		_, err := b.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(b.bucket),
			Key:      u.Key,
			UploadId: u.UploadId,
		})
		if err != nil {
			continue
		}
		removed++
	}
	return removed, nil
}

// owns reports whether the multipart upload is tracked by this process.
func (b *S3Backend) owns(uploadID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, up := range b.uploads {
		if up.uploadID == uploadID {
			return true
		}
	}
	return false
}
