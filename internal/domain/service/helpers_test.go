package service

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"itchdl/internal/domain"
	itchhttp "itchdl/internal/infrastructure/adapters/http"
	"itchdl/internal/testutil/fakeitch"
	"itchdl/shared/config"
	obsmocks "itchdl/shared/domain/observability/mocks"
)

// newCatalog returns a fake itch.io and a real API client talking to it
func newCatalog(t *testing.T) (*fakeitch.Server, domain.CatalogClient) {
	t.Helper()

	server := fakeitch.New(t)

	cfg := config.DefaultConfig()
	cfg.Itch.APIKey = "secret"
	cfg.HTTP.RateLimit = 0
	cfg.Retry.MaxAttempts = 2
	cfg.Retry.InitialBackoff = time.Millisecond

	client := itchhttp.NewClient(cfg, obsmocks.NewQuietLogger(), obsmocks.NewQuietMetrics(),
		itchhttp.WithHTTPClient(server.Client()))
	return server, client
}

func newResolver(t *testing.T, client domain.CatalogClient) *ResolverService {
	t.Helper()

	resolver, err := NewResolverService(client, config.DefaultWebBaseURL, obsmocks.NewQuietLogger(), obsmocks.NewQuietMetrics())
	require.NoError(t, err)
	return resolver
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func ids(refs []domain.ContentRef) []domain.ContentID {
	out := make([]domain.ContentID, len(refs))
	for i, ref := range refs {
		out[i] = ref.ID
	}
	return out
}
