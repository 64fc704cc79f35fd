package storage

import (
	"context"
	"fmt"

	"github.com/yairfalse/sweepr/pkg/resource"
)

// Store dispatches documents to the local filesystem or S3 depending on
// the location. The S3 client is created on first use so local-only runs
// never touch AWS configuration.
type Store struct {
	files FileBackend
	s3    *S3Backend
	aws   AWSConfig
}

// NewStore creates a store. cfg is only used when an s3:// location is
// accessed.
func NewStore(cfg AWSConfig) *Store {
	return &Store{aws: cfg}
}

// WithS3Client uses an existing S3 client instead of the default chain.
func (s *Store) WithS3Client(client S3API) *Store {
	s.s3 = NewS3Backend(client)
	return s
}

// Read returns the raw document at location.
func (s *Store) Read(ctx context.Context, location string) ([]byte, error) {
	loc, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}
	backend, err := s.backend(ctx, loc)
	if err != nil {
		return nil, err
	}
	return backend.Read(ctx, loc)
}

// Write stores data at location.
func (s *Store) Write(ctx context.Context, location string, data []byte) error {
	loc, err := ParseLocation(location)
	if err != nil {
		return err
	}
	backend, err := s.backend(ctx, loc)
	if err != nil {
		return err
	}
	return backend.Write(ctx, loc, data)
}

func (s *Store) backend(ctx context.Context, loc Location) (Backend, error) {
	if !loc.IsRemote() {
		return s.files, nil
	}
	if s.s3 == nil {
		client, err := NewS3Client(ctx, s.aws)
		if err != nil {
			return nil, err
		}
		s.s3 = NewS3Backend(client)
	}
	return s.s3, nil
}

// LoadResources reads a resource list document.
func LoadResources(ctx context.Context, store DocumentStore, location string) ([]resource.Resource, error) {
	data, err := store.Read(ctx, location)
	if err != nil {
		return nil, err
	}
	resources, err := resource.ParseList(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformed, location, err)
	}
	return resources, nil
}
