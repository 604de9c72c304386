package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"itchdl/internal/domain"
	"itchdl/internal/domain/service"
	"itchdl/mocks"
	obsmocks "itchdl/shared/domain/observability/mocks"
	"itchdl/shared/domain/retry"
	"itchdl/shared/domain/storage"
	storagemocks "itchdl/shared/domain/storage/mocks"
)

func TestScheduler_DownloadsAndWritesSidecars(t *testing.T) {
	env := newTestEnv(t)
	env.serveUpload(1, "windows build")
	env.serveUpload(2, "linux build")

	game := newGame(t, "https://frogs.itch.io/frog-game", 42,
		domain.UploadEntry{ID: 1, Filename: "frog-win.zip", Size: 13},
		domain.UploadEntry{ID: 2, Filename: "frog-linux.tar.gz"},
		domain.UploadEntry{ID: 3, Filename: "soundtrack", External: true, ExternalURL: "https://bandcamp.example/frogs"},
	)
	game.PageHTML = []byte("<html>frogs</html>")
	ledger := domain.NewLedger(refsOf(game))

	env.scheduler(SchedulerOptions{Workers: 2, SavePage: true, WriteMetadata: true}).
		Run(context.Background(), []*domain.GameRecord{game}, ledger)

	outcome, ok := ledger.Get(game.ID)
	require.True(t, ok)
	assert.Equal(t, domain.OutcomeSuccess, outcome.Kind)
	assert.ElementsMatch(t, []string{
		"frogs/frog-game/files/frog-win.zip",
		"frogs/frog-game/files/frog-linux.tar.gz",
	}, outcome.Paths)
	assert.Equal(t, 2, outcome.Downloaded)
	assert.Equal(t, 2, outcome.Attempted)
	assert.Equal(t, int64(24), outcome.Bytes)
	assert.Equal(t, []string{"https://bandcamp.example/frogs"}, outcome.ExternalURLs)

	assert.Equal(t, "windows build", env.read(t, "frogs/frog-game/files/frog-win.zip"))
	assert.Equal(t, "<html>frogs</html>", env.read(t, "frogs/frog-game/index.html"))

	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(env.read(t, "frogs/frog-game/metadata.json")), &meta))
	assert.Equal(t, float64(42), meta["game_id"])
	assert.Equal(t, []interface{}{"https://bandcamp.example/frogs"}, meta["external_downloads"])
	assert.Empty(t, meta["errors"])
	assert.Zero(t, env.server.Hits("bandcamp.example", "/frogs"), "external links are never fetched")
	assert.Empty(t, env.partFiles(t))
}

func TestScheduler_MetadataCarriesPageDetails(t *testing.T) {
	env := newTestEnv(t)
	published := time.Date(2021, time.March, 13, 17, 44, 0, 0, time.UTC)

	game := newGame(t, "https://frogs.itch.io/frog-game", 42)
	game.AuthorName = "Frog Studio"
	game.AuthorURL = "https://frogs.itch.io"
	game.Screenshots = []string{"https://img.itch.zone/shot1.png"}
	game.Rating = &domain.Rating{Average: 4.5, Votes: 12}
	game.Info = &domain.GameInfo{
		PublishedAt: &published,
		Status:      "Released",
		Tags:        map[string]string{"Frogs": "https://itch.io/games/tag-frogs"},
	}
	ledger := domain.NewLedger(refsOf(game))

	env.scheduler(SchedulerOptions{Workers: 1, WriteMetadata: true}).
		Run(context.Background(), []*domain.GameRecord{game}, ledger)

	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(env.read(t, "frogs/frog-game/metadata.json")), &meta))
	assert.Equal(t, "Frog Studio", meta["author"])
	assert.Equal(t, "https://frogs.itch.io", meta["author_url"])
	assert.Equal(t, "2021-03-13T17:44:00Z", meta["published_at"])
	assert.NotContains(t, meta, "updated_at")
	assert.Equal(t, map[string]interface{}{"average": 4.5, "votes": float64(12)}, meta["rating"])
	assert.Equal(t, []interface{}{"https://img.itch.zone/shot1.png"}, meta["screenshots"])

	extra, ok := meta["extra"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Released", extra["status"])
	assert.Equal(t, map[string]interface{}{"Frogs": "https://itch.io/games/tag-frogs"}, extra["tags"])
	assert.NotContains(t, extra, "published_at", "dates are only written at the top level")
}

func TestScheduler_IdempotentRerun(t *testing.T) {
	env := newTestEnv(t)
	var games []*domain.GameRecord
	for i, url := range []string{"https://a.itch.io/one", "https://b.itch.io/two"} {
		id := int64(i + 1)
		env.serveUpload(id, "payload")
		games = append(games, newGame(t, url, id, domain.UploadEntry{ID: id, Filename: "game.zip", Size: 7}))
	}
	sched := env.scheduler(SchedulerOptions{Workers: 4, WriteMetadata: true})

	sched.Run(context.Background(), games, domain.NewLedger(refsOf(games...)))
	hitsAfterFirstRun := env.server.TotalHits()
	require.Equal(t, 2, hitsAfterFirstRun)

	ledger := domain.NewLedger(refsOf(games...))
	sched.Run(context.Background(), games, ledger)

	assert.Equal(t, hitsAfterFirstRun, env.server.TotalHits(), "no network downloads on re-run")
	for _, outcome := range ledger.Snapshot() {
		assert.Equal(t, domain.OutcomeSuccess, outcome.Kind)
		assert.Equal(t, 1, outcome.Present)
		assert.Zero(t, outcome.Downloaded)
		assert.Zero(t, outcome.Bytes)
	}
}

func TestScheduler_WrongSizeIsDownloadedAgain(t *testing.T) {
	env := newTestEnv(t)
	env.serveUpload(1, "complete")
	game := newGame(t, "https://a.itch.io/one", 1, domain.UploadEntry{ID: 1, Filename: "game.zip", Size: 8})
	require.NoError(t, env.store.Put(context.Background(), "a/one/files/game.zip",
		stringsReader("old"), storage.ObjectMetadata{ContentLength: -1}))

	ledger := domain.NewLedger(refsOf(game))
	env.scheduler(SchedulerOptions{Workers: 1}).Run(context.Background(), []*domain.GameRecord{game}, ledger)

	outcome, _ := ledger.Get(game.ID)
	assert.Equal(t, 1, outcome.Downloaded)
	assert.Equal(t, "complete", env.read(t, "a/one/files/game.zip"))
}

func TestScheduler_TransientFailureIsRetried(t *testing.T) {
	env := newTestEnv(t)
	var calls atomic.Int32
	env.server.Handle("api.itch.io", uploadPath(1), func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if calls.Load() == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("flaky"))
	})
	env.serveUpload(2, "steady")

	game := newGame(t, "https://a.itch.io/one", 1,
		domain.UploadEntry{ID: 1, Filename: "flaky.zip"},
		domain.UploadEntry{ID: 2, Filename: "steady.zip"},
	)
	ledger := domain.NewLedger(refsOf(game))

	env.scheduler(SchedulerOptions{Workers: 2}).Run(context.Background(), []*domain.GameRecord{game}, ledger)

	outcome, _ := ledger.Get(game.ID)
	assert.Equal(t, domain.OutcomeSuccess, outcome.Kind)
	assert.Empty(t, outcome.Failures)
	assert.Len(t, outcome.Paths, 2)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 1, env.server.Hits("api.itch.io", uploadPath(2)))
	assert.Equal(t, "flaky", env.read(t, "a/one/files/flaky.zip"))
}

func TestScheduler_TruncatedBodyIsRetried(t *testing.T) {
	env := newTestEnv(t)
	var calls atomic.Int32
	env.server.Handle("api.itch.io", uploadPath(1), func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Length", "10")
		if calls.Load() == 1 {
			w.Write([]byte("0123"))
			return
		}
		w.Write([]byte("0123456789"))
	})

	game := newGame(t, "https://a.itch.io/one", 1, domain.UploadEntry{ID: 1, Filename: "game.zip", Size: 10})
	ledger := domain.NewLedger(refsOf(game))

	env.scheduler(SchedulerOptions{Workers: 1}).Run(context.Background(), []*domain.GameRecord{game}, ledger)

	outcome, _ := ledger.Get(game.ID)
	assert.Equal(t, domain.OutcomeSuccess, outcome.Kind)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "0123456789", env.read(t, "a/one/files/game.zip"))
	assert.Empty(t, env.partFiles(t), "partial files never survive")
}

func TestScheduler_PermanentFailureYieldsPartialFailure(t *testing.T) {
	env := newTestEnv(t)
	env.serveUpload(1, "one")
	env.serveUpload(3, "three")

	game := newGame(t, "https://a.itch.io/one", 1,
		domain.UploadEntry{ID: 1, Filename: "a.zip"},
		domain.UploadEntry{ID: 2, Filename: "missing.zip"},
		domain.UploadEntry{ID: 3, Filename: "c.zip"},
	)
	ledger := domain.NewLedger(refsOf(game))

	env.scheduler(SchedulerOptions{Workers: 3, WriteMetadata: true}).
		Run(context.Background(), []*domain.GameRecord{game}, ledger)

	outcome, _ := ledger.Get(game.ID)
	assert.Equal(t, domain.OutcomePartialFailure, outcome.Kind)
	require.Len(t, outcome.Failures, 1)
	assert.Equal(t, "missing.zip", outcome.Failures[0].Filename)
	assert.Contains(t, outcome.Failures[0].Reason, "not found")
	assert.ElementsMatch(t, []string{"a/one/files/a.zip", "a/one/files/c.zip"}, outcome.Paths)
	assert.Equal(t, 1, env.server.Hits("api.itch.io", uploadPath(2)), "permanent failures are not retried")
	assert.False(t, env.exists("a/one/files/missing.zip"))

	var meta struct {
		Errors []string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal([]byte(env.read(t, "a/one/metadata.json")), &meta))
	require.Len(t, meta.Errors, 1)
	assert.Contains(t, meta.Errors[0], "missing.zip (upload 2)")
}

func TestScheduler_WriteErrorIsNotRetried(t *testing.T) {
	env := newTestEnv(t)
	env.serveUpload(1, "payload")

	store := &storagemocks.MockObjectStorage{}
	store.On("Stat", mock.Anything, mock.Anything).Return(nil, storage.ErrObjectNotFound)
	store.On("Put", mock.Anything, "a/one/files/game.zip", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	game := newGame(t, "https://a.itch.io/one", 1, domain.UploadEntry{ID: 1, Filename: "game.zip"})
	ledger := domain.NewLedger(refsOf(game))

	env.schedulerWith(store, SchedulerOptions{Workers: 1}).Run(context.Background(), []*domain.GameRecord{game}, ledger)

	outcome, _ := ledger.Get(game.ID)
	assert.Equal(t, domain.OutcomeFailed, outcome.Kind)
	require.Len(t, outcome.Failures, 1)
	assert.Contains(t, outcome.Failures[0].Reason, "disk full")
	assert.Equal(t, 1, env.server.Hits("api.itch.io", uploadPath(1)))
	store.AssertNumberOfCalls(t, "Put", 1)
}

func TestScheduler_SizeMismatchIsAFailure(t *testing.T) {
	env := newTestEnv(t)
	env.serveUpload(1, "abc")

	game := newGame(t, "https://a.itch.io/one", 1, domain.UploadEntry{ID: 1, Filename: "game.bin", Size: 10})
	ledger := domain.NewLedger(refsOf(game))

	env.scheduler(SchedulerOptions{Workers: 1}).Run(context.Background(), []*domain.GameRecord{game}, ledger)

	outcome, _ := ledger.Get(game.ID)
	assert.Equal(t, domain.OutcomeFailed, outcome.Kind)
	require.Len(t, outcome.Failures, 1)
	assert.Equal(t, "size mismatch: expected 10 bytes, got 3", outcome.Failures[0].Reason)
	assert.Empty(t, outcome.Paths)
}

func TestScheduler_ArchiveMatchesOnUnpackedSize(t *testing.T) {
	env := newTestEnv(t)
	archive := zipArchive(t, map[string]string{"game/run.exe": "0123456789", "game/readme.txt": "hello"})
	env.serveUpload(1, string(archive))

	newRecords := func() ([]*domain.GameRecord, *domain.Ledger) {
		game := newGame(t, "https://a.itch.io/one", 1, domain.UploadEntry{ID: 1, Filename: "game.zip", Size: 15})
		return []*domain.GameRecord{game}, domain.NewLedger(refsOf(game))
	}

	records, ledger := newRecords()
	env.scheduler(SchedulerOptions{Workers: 1}).Run(context.Background(), records, ledger)
	outcome, _ := ledger.Get(records[0].ID)
	assert.Equal(t, domain.OutcomeSuccess, outcome.Kind)
	assert.Equal(t, 1, outcome.Downloaded)

	records, ledger = newRecords()
	env.scheduler(SchedulerOptions{Workers: 1}).Run(context.Background(), records, ledger)
	outcome, _ = ledger.Get(records[0].ID)
	assert.Equal(t, domain.OutcomeSuccess, outcome.Kind)
	assert.Equal(t, 1, outcome.Present, "the stored archive is recognized on the next run")
	assert.Equal(t, 1, env.server.Hits("api.itch.io", uploadPath(1)))
}

func TestScheduler_PassesDownloadKeyAndStopsOnPermanentError(t *testing.T) {
	env := newTestEnv(t)

	opener := &mocks.MockUploadOpener{}
	opener.On("OpenUpload", mock.Anything, int64(1), int64(77)).
		Return(nil, &domain.NotFoundError{URL: "upload 1"})
	opener.On("OpenUpload", mock.Anything, int64(2), int64(77)).
		Return(&domain.UploadBody{ReadCloser: io.NopCloser(stringsReader("owned")), Size: 5}, nil)

	game := newGame(t, "https://a.itch.io/paid", 9,
		domain.UploadEntry{ID: 1, Filename: "gone.zip"},
		domain.UploadEntry{ID: 2, Filename: "owned.zip", Size: 5},
	)
	game.DownloadKeyID = 77
	ledger := domain.NewLedger(refsOf(game))

	scheduler := NewScheduler(opener, env.store, service.NewStoragePathService(),
		retry.NewPolicy(env.cfg.Retry, domain.IsTransient), SchedulerOptions{Workers: 1},
		obsmocks.NewQuietLogger(), obsmocks.NewQuietMetrics())
	scheduler.Run(context.Background(), []*domain.GameRecord{game}, ledger)

	outcome, _ := ledger.Get(game.ID)
	assert.Equal(t, domain.OutcomePartialFailure, outcome.Kind)
	require.Len(t, outcome.Failures, 1)
	assert.Equal(t, "gone.zip", outcome.Failures[0].Filename)
	assert.Equal(t, "owned", env.read(t, "a/paid/files/owned.zip"))
	opener.AssertNumberOfCalls(t, "OpenUpload", 2)
	opener.AssertExpectations(t)
}

func TestScheduler_CancelledMidDownload(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env.server.Handle("api.itch.io", uploadPath(1), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		cancel()
		<-r.Context().Done()
	})

	game := newGame(t, "https://a.itch.io/one", 1, domain.UploadEntry{ID: 1, Filename: "a.zip", Size: 100})
	ledger := domain.NewLedger(refsOf(game))

	env.scheduler(SchedulerOptions{Workers: 1, WriteMetadata: true}).Run(ctx, []*domain.GameRecord{game}, ledger)

	outcome, _ := ledger.Get(game.ID)
	assert.Equal(t, domain.OutcomeFailed, outcome.Kind)
	require.Len(t, outcome.Failures, 1)
	assert.Equal(t, "cancelled", outcome.Failures[0].Reason)
	assert.Empty(t, env.partFiles(t), "no temporary file is left behind")
	assert.False(t, env.exists("a/one/files/a.zip"), "nothing is stored under the final name")
	assert.False(t, env.exists("a/one/metadata.json"))
}

func TestScheduler_PanicInTaskIsRecorded(t *testing.T) {
	env := newTestEnv(t)
	env.serveUpload(2, "two")

	store := &storagemocks.MockObjectStorage{}
	store.On("Stat", mock.Anything, "a/one/files/bad.zip").Run(func(mock.Arguments) { panic("boom") })
	store.On("Stat", mock.Anything, "a/one/files/good.zip").Return(nil, storage.ErrObjectNotFound)
	store.On("Put", mock.Anything, "a/one/files/good.zip", mock.Anything, mock.Anything).Return(nil)

	game := newGame(t, "https://a.itch.io/one", 1,
		domain.UploadEntry{ID: 1, Filename: "bad.zip"},
		domain.UploadEntry{ID: 2, Filename: "good.zip"},
	)
	ledger := domain.NewLedger(refsOf(game))

	env.schedulerWith(store, SchedulerOptions{Workers: 2}).Run(context.Background(), []*domain.GameRecord{game}, ledger)

	outcome, _ := ledger.Get(game.ID)
	assert.Equal(t, domain.OutcomePartialFailure, outcome.Kind)
	require.Len(t, outcome.Failures, 1)
	assert.Equal(t, "panic recovered: boom", outcome.Failures[0].Reason)
	assert.Equal(t, []string{"a/one/files/good.zip"}, outcome.Paths)
}

func TestScheduler_Cancelled(t *testing.T) {
	env := newTestEnv(t)
	env.serveUpload(1, "one")
	env.serveUpload(2, "two")

	game := newGame(t, "https://a.itch.io/one", 1,
		domain.UploadEntry{ID: 1, Filename: "a.zip"},
		domain.UploadEntry{ID: 2, Filename: "b.zip"},
	)
	ledger := domain.NewLedger(refsOf(game))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	env.scheduler(SchedulerOptions{Workers: 1, WriteMetadata: true}).Run(ctx, []*domain.GameRecord{game}, ledger)

	outcome, _ := ledger.Get(game.ID)
	assert.Equal(t, domain.OutcomeFailed, outcome.Kind)
	require.Len(t, outcome.Failures, 2)
	for _, f := range outcome.Failures {
		assert.Equal(t, "cancelled", f.Reason)
	}
	assert.Zero(t, env.server.TotalHits())
	assert.False(t, env.exists("a/one/metadata.json"))
}

func TestScheduler_InvalidUploadsAndExternalLinks(t *testing.T) {
	env := newTestEnv(t)
	game := newGame(t, "https://a.itch.io/one", 1,
		domain.UploadEntry{ID: 5, Filename: "link", External: true, ExternalURL: "https://example.com/dl"},
	)
	game.Invalid = []domain.InvalidUpload{{UploadID: 6, Reason: `upload is missing mandatory field "filename"`}}
	ledger := domain.NewLedger(refsOf(game))

	env.scheduler(SchedulerOptions{Workers: 1}).Run(context.Background(), []*domain.GameRecord{game}, ledger)

	outcome, _ := ledger.Get(game.ID)
	assert.Equal(t, domain.OutcomeFailed, outcome.Kind, "rejected uploads are never silently dropped")
	assert.Equal(t, []string{"https://example.com/dl"}, outcome.ExternalURLs)
	assert.Zero(t, outcome.Attempted)
}
