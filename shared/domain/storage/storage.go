package storage

import (
	"errors"
	"time"
)

// Common storage errors
var (
	// ErrObjectNotFound is returned when an object is not found in storage
	ErrObjectNotFound = errors.New("object not found")

	// ErrInvalidKey is returned for keys that are empty or escape the root
	ErrInvalidKey = errors.New("invalid object key")
)

// ObjectMetadata represents metadata associated with stored objects
type ObjectMetadata struct {
	ContentType string
	// ContentLength is the expected size, or -1 when unknown
	ContentLength int64
	UserMetadata  map[string]string
}

// ObjectInfo represents information about a stored object
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
}
