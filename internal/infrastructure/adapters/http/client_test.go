package http

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"itchdl/internal/domain"
	"itchdl/internal/testutil/fakeitch"
	"itchdl/shared/config"
	obsmocks "itchdl/shared/domain/observability/mocks"
)

func newTestClient(t *testing.T, server *fakeitch.Server) *Client {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Itch.APIKey = "secret"
	cfg.HTTP.RateLimit = 0
	cfg.Retry.MaxAttempts = 3
	cfg.Retry.InitialBackoff = time.Millisecond
	cfg.Retry.MaxBackoff = 5 * time.Millisecond

	return NewClient(cfg, obsmocks.NewQuietLogger(), obsmocks.NewQuietMetrics(), WithHTTPClient(server.Client()))
}

func TestClient_GetJSON(t *testing.T) {
	server := fakeitch.New(t)
	server.Handle("api.itch.io", "/games/42/uploads", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "7", r.URL.Query().Get("download_key_id"))
		assert.Equal(t, "itchdl/1.0", r.Header.Get("User-Agent"))
		io.WriteString(w, `{"uploads":[{"id":1}]}`)
	})
	client := newTestClient(t, server)

	var out struct {
		Uploads []struct {
			ID int64 `json:"id"`
		} `json:"uploads"`
	}
	err := client.GetJSON(context.Background(), "/games/42/uploads", url.Values{"download_key_id": {"7"}}, &out)

	require.NoError(t, err)
	require.Len(t, out.Uploads, 1)
	assert.Equal(t, int64(1), out.Uploads[0].ID)
}

func TestClient_GetJSON_ErrorsPayload(t *testing.T) {
	server := fakeitch.New(t)
	server.JSON("api.itch.io", "/games/42/uploads", map[string]interface{}{"errors": []string{"invalid key"}})
	client := newTestClient(t, server)

	var out map[string]interface{}
	err := client.GetJSON(context.Background(), "/games/42/uploads", nil, &out)

	var denied *domain.AccessDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "invalid key", denied.Reason)
}

func TestClient_CheckKey(t *testing.T) {
	server := fakeitch.New(t)
	server.Handle("api.itch.io", "/profile", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		io.WriteString(w, `{"user":{"id":3,"username":"leafo"}}`)
	})

	user, err := newTestClient(t, server).CheckKey(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "leafo", user)
}

func TestClient_CheckKey_Rejected(t *testing.T) {
	tests := []struct {
		name  string
		serve func(server *fakeitch.Server)
	}{
		{
			name: "errors payload",
			serve: func(server *fakeitch.Server) {
				server.JSON("api.itch.io", "/profile", map[string]interface{}{"errors": []string{"invalid key"}})
			},
		},
		{
			name: "forbidden",
			serve: func(server *fakeitch.Server) {
				server.Status("api.itch.io", "/profile", http.StatusForbidden)
			},
		},
		{
			name: "no user",
			serve: func(server *fakeitch.Server) {
				server.JSON("api.itch.io", "/profile", map[string]interface{}{})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := fakeitch.New(t)
			tt.serve(server)

			user, err := newTestClient(t, server).CheckKey(context.Background())

			assert.Empty(t, user)
			assert.ErrorIs(t, err, domain.ErrAccessDenied)
			assert.Equal(t, 1, server.Hits("api.itch.io", "/profile"), "a rejected key is not retried")
		})
	}
}

func TestClient_StatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		sentinel error
		attempts int
	}{
		{"not found", http.StatusNotFound, domain.ErrNotFound, 1},
		{"forbidden", http.StatusForbidden, domain.ErrAccessDenied, 1},
		{"unauthorized", http.StatusUnauthorized, domain.ErrAccessDenied, 1},
		{"bad request", http.StatusBadRequest, domain.ErrFetch, 1},
		{"server error retried", http.StatusServiceUnavailable, domain.ErrFetch, 3},
		{"rate limited retried", http.StatusTooManyRequests, domain.ErrFetch, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := fakeitch.New(t)
			server.Status("author.itch.io", "/game", tt.status)
			client := newTestClient(t, server)

			_, err := client.FetchPage(context.Background(), "https://author.itch.io/game")

			require.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, tt.attempts, server.Hits("author.itch.io", "/game"))
		})
	}
}

func TestClient_FetchPage_RecoversFromTransientFailure(t *testing.T) {
	server := fakeitch.New(t)
	var calls atomic.Int32
	server.Handle("author.itch.io", "/game", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Empty(t, r.Header.Get("Authorization"), "pages are fetched without credentials")
		if calls.Load() == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		io.WriteString(w, "<html>ok</html>")
	})
	client := newTestClient(t, server)

	body, err := client.FetchPage(context.Background(), "https://author.itch.io/game")

	require.NoError(t, err)
	assert.Equal(t, "<html>ok</html>", string(body))
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_ExternalURL(t *testing.T) {
	server := fakeitch.New(t)
	server.Handle("api.itch.io", "/uploads/9/download", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://drive.example.com/file", http.StatusFound)
	})
	client := newTestClient(t, server)

	location, err := client.ExternalURL(context.Background(), 9, 0)

	require.NoError(t, err)
	assert.Equal(t, "https://drive.example.com/file", location)
	assert.Zero(t, server.Hits("drive.example.com", "/file"), "external hosts are never contacted")
}

func TestClient_OpenUpload(t *testing.T) {
	server := fakeitch.New(t)
	server.Handle("api.itch.io", "/uploads/5/download", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://files.itch.zone/5/game.zip", http.StatusFound)
	})
	server.Handle("files.itch.zone", "/5/game.zip", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"), "credentials are not forwarded to the CDN")
		w.Header().Set("Content-Type", "application/zip")
		io.WriteString(w, "zipdata")
	})
	client := newTestClient(t, server)

	body, err := client.OpenUpload(context.Background(), 5, 0)
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "zipdata", string(data))
	assert.Equal(t, int64(7), body.Size)
	assert.Equal(t, "application/zip", body.ContentType)
}

func TestClient_OpenUpload_SingleAttempt(t *testing.T) {
	server := fakeitch.New(t)
	server.Status("api.itch.io", "/uploads/5/download", http.StatusInternalServerError)
	client := newTestClient(t, server)

	_, err := client.OpenUpload(context.Background(), 5, 0)

	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
	assert.Equal(t, 1, server.Hits("api.itch.io", "/uploads/5/download"))
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, retryAfter("3"))
	assert.Zero(t, retryAfter(""))
	assert.Zero(t, retryAfter("soon"))
}
