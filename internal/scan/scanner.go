// Package scan supplies the current resource listing, either from a
// captured document or by running awsweeper.
package scan

import (
	"context"
	"errors"
	"fmt"

	"github.com/yairfalse/sweepr/pkg/resource"
	"github.com/yairfalse/sweepr/storage"
)

var (
	// ErrScannerFailed is returned when the scanner process cannot be run
	// or exits non-zero.
	ErrScannerFailed = errors.New("scanner failed")
	// ErrMalformedOutput is returned when the listing is not a YAML list
	// of resources.
	ErrMalformedOutput = errors.New("malformed scanner output")
)

// Scanner produces the current resource listing.
type Scanner interface {
	// Name identifies the source in logs.
	Name() string

	// Scan returns every currently observed resource.
	Scan(ctx context.Context) ([]resource.Resource, error)
}

// FileScanner reads a previously captured listing.
type FileScanner struct {
	store    storage.DocumentStore
	location string
}

// NewFileScanner reads the listing at location through store, so the
// capture may live on disk or in S3.
func NewFileScanner(store storage.DocumentStore, location string) *FileScanner {
	return &FileScanner{store: store, location: location}
}

// Name returns the capture location.
func (f *FileScanner) Name() string {
	return "file:" + f.location
}

// Scan loads and parses the capture.
func (f *FileScanner) Scan(ctx context.Context) ([]resource.Resource, error) {
	data, err := f.store.Read(ctx, f.location)
	if err != nil {
		return nil, fmt.Errorf("read scanner output: %w", err)
	}
	resources, err := resource.ParseList(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedOutput, f.location, err)
	}
	return resources, nil
}
