// Package storage reads and writes the tracked-state and deletion-manifest
// documents on local disk or in S3, and keeps a local run history.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when the document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrUnreadable is returned when the document exists but cannot be read.
	ErrUnreadable = errors.New("document unreadable")
	// ErrMalformed is returned when the document is not valid YAML of the
	// expected shape.
	ErrMalformed = errors.New("malformed document")
	// ErrTransport is returned for object store transport or auth failures.
	ErrTransport = errors.New("object store failure")
	// ErrInvalidLocation is returned for locations that cannot be addressed.
	ErrInvalidLocation = errors.New("invalid location")
)

// DocumentStore reads and writes raw documents by location string.
type DocumentStore interface {
	Read(ctx context.Context, location string) ([]byte, error)
	Write(ctx context.Context, location string, data []byte) error
}

// Backend reads and writes documents at a parsed location.
type Backend interface {
	Read(ctx context.Context, loc Location) ([]byte, error)
	Write(ctx context.Context, loc Location, data []byte) error
}
