package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrLimitExceeded is returned by Save when the stream is longer than the limit.
var ErrLimitExceeded = errors.New("write exceeds size limit")

const partialSuffix = ".partial"

// Store defines the staging area uploads are written to before hand-off.
type Store interface {
	Save(name string, data io.Reader, limit int64) (int64, error)
	Path(name string) string
	Delete(name string) error
	SweepPartials(olderThan time.Duration) (int, error)
	CheckDir() error
}

// FileSystemStore stages uploaded files in a single local directory.
type FileSystemStore struct {
	basePath string
}

// NewFileSystemStore creates a new filesystem staging store.
func NewFileSystemStore(basePath string) *FileSystemStore {
	return &FileSystemStore{basePath: basePath}
}

// CheckDir verifies the staging directory exists. It never creates it:
// provisioning the directory is a deployment concern.
func (fs *FileSystemStore) CheckDir() error {
	info, err := os.Stat(fs.basePath)
	if err != nil {
		return fmt.Errorf("upload directory %s unavailable: %w", fs.basePath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("upload directory %s is not a directory", fs.basePath)
	}
	return nil
}

// Save streams data into a hidden partial file beside the destination and
// renames it to name once the copy finished within limit. A limit <= 0
// disables the check. Nothing is left under name when an error is returned.
func (fs *FileSystemStore) Save(name string, data io.Reader, limit int64) (int64, error) {
	tmp, err := os.CreateTemp(fs.basePath, "."+name+"-*"+partialSuffix)
	if err != nil {
		return 0, fmt.Errorf("failed to create staging file for %s: %w", name, err)
	}

	src := data
	if limit > 0 {
		// +1 so an exact-limit upload is distinguishable from an overflow
		src = io.LimitReader(data, limit+1)
	}

	n, err := io.Copy(tmp, src)
	if err == nil && limit > 0 && n > limit {
		err = ErrLimitExceeded
	}
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		if errors.Is(err, ErrLimitExceeded) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to write file: %w", err)
	}

	if err := os.Rename(tmp.Name(), fs.Path(name)); err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("failed to move %s into place: %w", name, err)
	}

	return n, nil
}

// Path returns the location of a staged file. It does not check existence.
func (fs *FileSystemStore) Path(name string) string {
	return filepath.Join(fs.basePath, name)
}

// Delete removes a staged file. Missing files are not an error.
func (fs *FileSystemStore) Delete(name string) error {
	filePath := fs.Path(name)
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file %s: %w", filePath, err)
	}
	return nil
}

// SweepPartials removes partial files left behind by interrupted writes
// that are older than olderThan. It returns the number of files removed.
func (fs *FileSystemStore) SweepPartials(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(fs.basePath)
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", fs.basePath, err)
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, ".") || !strings.HasSuffix(name, partialSuffix) {
			continue
		}

		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}

		if err := os.Remove(filepath.Join(fs.basePath, name)); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to remove partial file %s: %w", name, err)
		}
		removed++
	}

	return removed, nil
}
