package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"itchdl/internal/domain"
)

// MockUploadOpener is a mock implementation of domain.UploadOpener
type MockUploadOpener struct {
	mock.Mock
}

func (m *MockUploadOpener) OpenUpload(ctx context.Context, uploadID, downloadKeyID int64) (*domain.UploadBody, error) {
	args := m.Called(ctx, uploadID, downloadKeyID)

	var body *domain.UploadBody
	if args.Get(0) != nil {
		body = args.Get(0).(*domain.UploadBody)
	}

	return body, args.Error(1)
}

var _ domain.UploadOpener = (*MockUploadOpener)(nil)
