package storage

import (
	"fmt"
	"strings"
)

// Location schemes.
const (
	SchemeFile = "file"
	SchemeS3   = "s3"
)

const (
	s3Prefix   = "s3://"
	filePrefix = "file://"
)

// Location addresses a document either on local disk or in S3.
type Location struct {
	Scheme string
	Path   string // local path, file scheme only
	Bucket string // s3 scheme only
	Key    string // s3 scheme only
}

// ParseLocation parses a local path or s3://bucket/key. The bucket and key
// are split on the first slash after the prefix; both must be non-empty.
func ParseLocation(s string) (Location, error) {
	if s == "" {
		return Location{}, fmt.Errorf("%w: empty location", ErrInvalidLocation)
	}

	if rest, ok := strings.CutPrefix(s, s3Prefix); ok {
		bucket, key, found := strings.Cut(rest, "/")
		if !found || bucket == "" || key == "" {
			return Location{}, fmt.Errorf("%w: %q: expected s3://bucket/key", ErrInvalidLocation, s)
		}
		return Location{Scheme: SchemeS3, Bucket: bucket, Key: key}, nil
	}

	path := strings.TrimPrefix(s, filePrefix)
	if path == "" {
		return Location{}, fmt.Errorf("%w: %q: empty path", ErrInvalidLocation, s)
	}
	return Location{Scheme: SchemeFile, Path: path}, nil
}

// IsRemote reports whether the location lives in object storage.
func (l Location) IsRemote() bool {
	return l.Scheme == SchemeS3
}

// String renders the location in its parseable form.
func (l Location) String() string {
	if l.IsRemote() {
		return s3Prefix + l.Bucket + "/" + l.Key
	}
	return l.Path
}
