package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

// GCSStorage implements Storage on a Google Cloud Storage bucket
type GCSStorage struct {
	client *gcs.Client
	bucket string
	prefix string
}

// NewGCSStorage creates a bucket-backed store. Without a credentials file the
// client uses Application Default Credentials.
func NewGCSStorage(ctx context.Context, bucket, prefix, credentialsFile string) (*GCSStorage, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return NewGCSStorageWithClient(client, bucket, prefix), nil
}

// NewGCSStorageWithClient wraps an existing client
func NewGCSStorageWithClient(client *gcs.Client, bucket, prefix string) *GCSStorage {
	return &GCSStorage{client: client, bucket: bucket, prefix: prefix}
}

// Save uploads r as a new object
func (s *GCSStorage) Save(ctx context.Context, userID uuid.UUID, filename string, r io.Reader) (*FileInfo, error) {
	name := path.Join(s.prefix, objectName(userID, filename))

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "text/csv"

	size, err := io.Copy(w, r)
	if err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to copy upload to bucket: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize upload: %w", err)
	}

	return &FileInfo{
		Name:      filename,
		Size:      size,
		Path:      name,
		CreatedAt: time.Now(),
	}, nil
}

// Open returns a reader over the object
func (s *GCSStorage) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	rc, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s/%s: %w", s.bucket, name, err)
	}
	return rc, nil
}

// Delete removes the object
func (s *GCSStorage) Delete(ctx context.Context, name string) error {
	err := s.client.Bucket(s.bucket).Object(name).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete object %s/%s: %w", s.bucket, name, err)
	}
	return nil
}

// Close releases the client
func (s *GCSStorage) Close() error {
	return s.client.Close()
}
