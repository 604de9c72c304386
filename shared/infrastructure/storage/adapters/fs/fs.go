package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"itchdl/shared/domain/observability"
	"itchdl/shared/domain/storage"
)

// partMarker tags in-progress files; List never reports them.
const partMarker = ".part-"

// Storage implements ObjectStorage using the local filesystem
type Storage struct {
	basePath string
	logger   observability.Logger
	metrics  observability.Metrics
}

// NewStorage creates a new filesystem-based object storage rooted at basePath
func NewStorage(basePath string, logger observability.Logger, metrics observability.Metrics) (*Storage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		logger.Error("Failed to create base path", "path", basePath, "error", err)
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	logger.Debug("Filesystem storage initialized", "base_path", basePath)

	return &Storage{
		basePath: basePath,
		logger:   logger.WithFields(map[string]interface{}{"component": "filesystem_storage"}),
		metrics:  metrics.WithTags(map[string]string{"storage": "filesystem"}),
	}, nil
}

// Put streams reader into a temporary sibling file and renames it over the
// destination once complete. The temporary file is removed on any failure.
func (s *Storage) Put(ctx context.Context, key string, reader io.Reader, metadata storage.ObjectMetadata) error {
	startTime := time.Now()

	if err := ctx.Err(); err != nil {
		return err
	}

	objectPath, err := s.getObjectPath(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(objectPath), 0755); err != nil {
		s.logger.Error("Failed to create directory", "key", key, "error", err)
		s.metrics.IncrementCounter("storage.put.errors", map[string]string{"error": "mkdir"})
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpPath := filepath.Join(filepath.Dir(objectPath),
		"."+filepath.Base(objectPath)+partMarker+uuid.NewString())

	file, err := os.Create(tmpPath)
	if err != nil {
		s.logger.Error("Failed to create file", "path", tmpPath, "error", err)
		s.metrics.IncrementCounter("storage.put.errors", map[string]string{"error": "create"})
		return fmt.Errorf("failed to create file: %w", err)
	}

	bytesWritten, err := io.Copy(file, reader)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err == nil && metadata.ContentLength >= 0 && bytesWritten != metadata.ContentLength {
		err = fmt.Errorf("wrote %d of %d bytes: %w", bytesWritten, metadata.ContentLength, io.ErrUnexpectedEOF)
	}
	if err != nil {
		os.Remove(tmpPath)
		s.logger.Debug("Failed to write data", "key", key, "bytes", bytesWritten, "error", err)
		s.metrics.IncrementCounter("storage.put.errors", map[string]string{"error": "write"})
		return fmt.Errorf("failed to write data: %w", err)
	}

	if err := os.Rename(tmpPath, objectPath); err != nil {
		os.Remove(tmpPath)
		s.logger.Error("Failed to move file into place", "key", key, "error", err)
		s.metrics.IncrementCounter("storage.put.errors", map[string]string{"error": "rename"})
		return fmt.Errorf("failed to move file into place: %w", err)
	}

	duration := time.Since(startTime)
	s.logger.Debug("Object stored successfully",
		"key", key,
		"bytes", bytesWritten,
		"duration_ms", duration.Milliseconds())

	s.metrics.IncrementCounter("storage.put.success", nil)
	s.metrics.RecordHistogram("storage.put.bytes", float64(bytesWritten), nil)

	return nil
}

// Stat returns size and modification time of an object
func (s *Storage) Stat(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	objectPath, err := s.getObjectPath(key)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(objectPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, storage.ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to stat object: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory: %w", key, storage.ErrObjectNotFound)
	}

	return &storage.ObjectInfo{
		Key:          key,
		Size:         info.Size(),
		LastModified: info.ModTime(),
	}, nil
}

// Get retrieves an object
func (s *Storage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	objectPath, err := s.getObjectPath(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(objectPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, storage.ErrObjectNotFound
		}
		s.logger.Error("Failed to open file", "path", objectPath, "error", err)
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return file, nil
}

// Delete removes an object
func (s *Storage) Delete(ctx context.Context, key string) error {
	objectPath, err := s.getObjectPath(key)
	if err != nil {
		return err
	}

	if err := os.Remove(objectPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Error("Failed to delete object", "path", objectPath, "error", err)
		return fmt.Errorf("failed to delete object: %w", err)
	}

	return nil
}

// List returns objects with an optional key prefix
func (s *Storage) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	var objects []storage.ObjectInfo

	err := filepath.WalkDir(s.basePath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // Skip unreadable entries
		}
		if d.IsDir() || strings.Contains(d.Name(), partMarker) {
			return nil
		}

		relPath, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return nil
		}
		key := filepath.ToSlash(relPath)
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}

		objects = append(objects, storage.ObjectInfo{
			Key:          key,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to list objects", "prefix", prefix, "error", err)
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}

	return objects, nil
}

// getObjectPath maps a key onto the filesystem, refusing keys that would
// resolve outside basePath
func (s *Storage) getObjectPath(key string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(key, "/")))
	if key == "" || cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", storage.ErrInvalidKey, key)
	}
	return filepath.Join(s.basePath, cleaned), nil
}
