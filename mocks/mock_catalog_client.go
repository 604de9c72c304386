package mocks

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/stretchr/testify/mock"

	"itchdl/internal/domain"
)

// MockCatalogClient is a mock implementation of domain.CatalogClient
type MockCatalogClient struct {
	mock.Mock
}

func (m *MockCatalogClient) FetchPage(ctx context.Context, rawURL string) ([]byte, error) {
	args := m.Called(ctx, rawURL)

	var page []byte
	if args.Get(0) != nil {
		page = args.Get(0).([]byte)
	}

	return page, args.Error(1)
}

// GetJSON marshals the first return value into out, so expectations can
// return plain maps or structs
func (m *MockCatalogClient) GetJSON(ctx context.Context, endpoint string, query url.Values, out interface{}) error {
	args := m.Called(ctx, endpoint, query, out)

	if err := args.Error(1); err != nil {
		return err
	}

	if args.Get(0) != nil {
		data, err := json.Marshal(args.Get(0))
		if err != nil {
			return err
		}
		return json.Unmarshal(data, out)
	}

	return nil
}

func (m *MockCatalogClient) ExternalURL(ctx context.Context, uploadID, downloadKeyID int64) (string, error) {
	args := m.Called(ctx, uploadID, downloadKeyID)
	return args.String(0), args.Error(1)
}

var _ domain.CatalogClient = (*MockCatalogClient)(nil)
