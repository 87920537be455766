// Package store is the pluggable content-addressed object store room
// snapshots land in: callers address blobs by name, backends decide
// whether that's S3 or GCS. Backend selection follows a backend-behind-
// an-interface split: build a client once at startup, pass it down, never
// branch on provider inside business logic.
package store

import (
	"bytes"
	"context"
	"errors"
	"io"

	"cloud.google.com/go/storage"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrNotFound is returned by Get when key doesn't exist.
var ErrNotFound = errors.New("store: object not found")

// Backend is the minimal surface every provider must offer. Keys are
// opaque content-addressed paths chosen by the caller (internal/room/
// snapshot), never interpreted by the backend.
type Backend interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// S3Backend stores blobs in a single bucket via aws-sdk-go-v2.
type S3Backend struct {
	client *s3.Client
	bucket string
}

func NewS3Backend(client *s3.Client, bucket string) *S3Backend {
	return &S3Backend{client: client, bucket: bucket}
}

func (b *S3Backend) Put(ctx context.Context, key string, data []byte) error {
	uploader := manager.NewUploader(b.client)
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	return err
}

func (b *S3Backend) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// GCSBackend stores blobs in a single bucket via the GCS client library.
type GCSBackend struct {
	client *storage.Client
	bucket string
}

func NewGCSBackend(client *storage.Client, bucket string) *GCSBackend {
	return &GCSBackend{client: client, bucket: bucket}
}

func (b *GCSBackend) Put(ctx context.Context, key string, data []byte) error {
	w := b.client.Bucket(b.bucket).Object(key).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (b *GCSBackend) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := b.client.Bucket(b.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
