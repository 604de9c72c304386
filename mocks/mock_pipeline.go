package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"itchdl/internal/domain"
)

// MockResolver is a mock implementation of usecase.Resolver
type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Resolve(ctx context.Context, input string) ([]domain.ContentRef, error) {
	args := m.Called(ctx, input)

	var refs []domain.ContentRef
	if args.Get(0) != nil {
		refs = args.Get(0).([]domain.ContentRef)
	}

	return refs, args.Error(1)
}

// MockMetadataFetcher is a mock implementation of usecase.MetadataFetcher
type MockMetadataFetcher struct {
	mock.Mock
}

func (m *MockMetadataFetcher) FetchAll(ctx context.Context, refs []domain.ContentRef) []domain.FetchResult {
	args := m.Called(ctx, refs)

	var results []domain.FetchResult
	if args.Get(0) != nil {
		results = args.Get(0).([]domain.FetchResult)
	}

	return results
}

// MockDownloadScheduler is a mock implementation of usecase.DownloadScheduler.
// Expectations may use Run to record results into the ledger argument.
type MockDownloadScheduler struct {
	mock.Mock
}

func (m *MockDownloadScheduler) Run(ctx context.Context, records []*domain.GameRecord, ledger *domain.Ledger) {
	m.Called(ctx, records, ledger)
}

// MockKeyLoader is a mock implementation of usecase.KeyLoader
type MockKeyLoader struct {
	mock.Mock
}

func (m *MockKeyLoader) Load(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
