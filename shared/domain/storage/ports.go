package storage

import (
	"context"
	"io"

	"itchdl/shared/domain/base"
)

// ObjectStorage defines the interface for object storage operations.
// Keys are slash separated and relative to the root the adapter was
// created with (a directory or a bucket prefix).
type ObjectStorage interface {
	// Put stores the object under key. The object becomes visible only once
	// the whole reader has been consumed; on error nothing is left behind.
	Put(ctx context.Context, key string, reader io.Reader, metadata ObjectMetadata) error

	// Stat returns the object's info or ErrObjectNotFound
	Stat(ctx context.Context, key string) (*ObjectInfo, error)

	// Get retrieves an object by key
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error

	// List returns the objects whose keys start with prefix
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

type StorageFactory interface {
	base.Factory[ObjectStorage]
}
