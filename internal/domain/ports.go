package domain

import (
	"context"
	"io"
	"net/url"
)

// CatalogClient is the read side of itch.io used while resolving sources
// and fetching metadata
type CatalogClient interface {
	// FetchPage returns the body of a web page
	FetchPage(ctx context.Context, rawURL string) ([]byte, error)

	// GetJSON decodes a JSON document. Paths starting with "/" are API
	// endpoints; anything else is an absolute URL.
	GetJSON(ctx context.Context, endpoint string, query url.Values, out interface{}) error

	// ExternalURL returns where an externally hosted upload points to,
	// without fetching it
	ExternalURL(ctx context.Context, uploadID, downloadKeyID int64) (string, error)
}

// UploadBody is an open download stream. Size is -1 when unknown.
type UploadBody struct {
	io.ReadCloser
	Size        int64
	ContentType string
}

// UploadOpener starts the download of one hosted upload
type UploadOpener interface {
	OpenUpload(ctx context.Context, uploadID, downloadKeyID int64) (*UploadBody, error)
}
