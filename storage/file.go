package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileBackend stores documents on the local filesystem.
type FileBackend struct{}

// Read returns the file contents.
func (FileBackend) Read(_ context.Context, loc Location) ([]byte, error) {
	data, err := os.ReadFile(loc.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, loc)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreadable, loc, err)
	}
	return data, nil
}

// Write replaces the file atomically: data goes to a temporary file in the
// same directory which is then renamed over the target.
func (FileBackend) Write(_ context.Context, loc Location, data []byte) error {
	dir := filepath.Dir(loc.Path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(loc.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", loc, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", loc, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", loc, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("chmod %s: %w", loc, err)
	}
	if err := os.Rename(tmpName, loc.Path); err != nil {
		return fmt.Errorf("rename %s: %w", loc, err)
	}
	return nil
}
