package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"itchdl/shared/domain/storage"
)

// MockObjectStorage is a mock implementation of ObjectStorage interface
type MockObjectStorage struct {
	mock.Mock
}

// Put mocks the Put method. The reader is drained so callers that count
// bytes see the full body.
func (m *MockObjectStorage) Put(ctx context.Context, key string, reader io.Reader, metadata storage.ObjectMetadata) error {
	args := m.Called(ctx, key, reader, metadata)
	if err := args.Error(0); err != nil {
		return err
	}
	_, err := io.Copy(io.Discard, reader)
	return err
}

// Stat mocks the Stat method
func (m *MockObjectStorage) Stat(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.ObjectInfo), args.Error(1)
}

// Get mocks the Get method
func (m *MockObjectStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

// Delete mocks the Delete method
func (m *MockObjectStorage) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// List mocks the List method
func (m *MockObjectStorage) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	args := m.Called(ctx, prefix)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]storage.ObjectInfo), args.Error(1)
}
