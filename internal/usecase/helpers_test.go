package usecase

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"itchdl/internal/domain"
	"itchdl/internal/domain/service"
	itchhttp "itchdl/internal/infrastructure/adapters/http"
	"itchdl/internal/testutil/fakeitch"
	"itchdl/shared/config"
	obsmocks "itchdl/shared/domain/observability/mocks"
	"itchdl/shared/domain/retry"
	"itchdl/shared/domain/storage"
	"itchdl/shared/infrastructure/storage/adapters/fs"
)

type testEnv struct {
	server *fakeitch.Server
	client *itchhttp.Client
	store  *fs.Storage
	dir    string
	cfg    *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Itch.APIKey = "secret"
	cfg.HTTP.RateLimit = 0
	cfg.Retry = config.RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        10 * time.Millisecond,
		BackoffMultiplier: 2,
	}

	server := fakeitch.New(t)
	client := itchhttp.NewClient(cfg, obsmocks.NewQuietLogger(), obsmocks.NewQuietMetrics(),
		itchhttp.WithHTTPClient(server.Client()))

	dir := t.TempDir()
	store, err := fs.NewStorage(dir, obsmocks.NewQuietLogger(), obsmocks.NewQuietMetrics())
	require.NoError(t, err)

	return &testEnv{server: server, client: client, store: store, dir: dir, cfg: cfg}
}

func (e *testEnv) scheduler(opts SchedulerOptions) *Scheduler {
	return e.schedulerWith(e.store, opts)
}

func (e *testEnv) schedulerWith(store storage.ObjectStorage, opts SchedulerOptions) *Scheduler {
	return NewScheduler(
		e.client,
		store,
		service.NewStoragePathService(),
		retry.NewPolicy(e.cfg.Retry, domain.IsTransient),
		opts,
		obsmocks.NewQuietLogger(),
		obsmocks.NewQuietMetrics(),
	)
}

// serveUpload registers the download endpoint of one hosted upload
func (e *testEnv) serveUpload(id int64, content string) {
	e.server.Handle("api.itch.io", uploadPath(id), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		fmt.Fprint(w, content)
	})
}

func (e *testEnv) read(t *testing.T, key string) string {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(e.dir, filepath.FromSlash(key)))
	require.NoError(t, err)
	return string(data)
}

func (e *testEnv) exists(key string) bool {
	_, err := os.Stat(filepath.Join(e.dir, filepath.FromSlash(key)))
	return err == nil
}

// partFiles returns leftover temporary files under the storage root
func (e *testEnv) partFiles(t *testing.T) []string {
	t.Helper()

	var parts []string
	err := filepath.WalkDir(e.dir, func(path string, d os.DirEntry, err error) error {
		if err == nil && strings.Contains(d.Name(), ".part-") {
			parts = append(parts, path)
		}
		return err
	})
	require.NoError(t, err)
	return parts
}

func uploadPath(id int64) string {
	return fmt.Sprintf("/uploads/%d/download", id)
}

func newGame(t *testing.T, rawURL string, gameID int64, uploads ...domain.UploadEntry) *domain.GameRecord {
	t.Helper()

	ref, err := domain.ParseGameURL(rawURL)
	require.NoError(t, err)

	return &domain.GameRecord{
		ID:      ref.ID,
		GameID:  gameID,
		Title:   ref.ID.Game(),
		URL:     ref.URL,
		Author:  ref.ID.Author(),
		Uploads: uploads,
	}
}

func refsOf(records ...*domain.GameRecord) []domain.ContentRef {
	refs := make([]domain.ContentRef, len(records))
	for i, r := range records {
		refs[i] = domain.ContentRef{ID: r.ID, URL: r.URL}
	}
	return refs
}

func stringsReader(s string) *strings.Reader {
	return strings.NewReader(s)
}
