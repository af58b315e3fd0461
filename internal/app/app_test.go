package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/booru-tag-crawler/internal/archive"
	"github.com/JakeFAU/booru-tag-crawler/internal/booru"
	"github.com/JakeFAU/booru-tag-crawler/internal/config"
)

func newFakeBooru(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/post/index.json", func(w http.ResponseWriter, r *http.Request) {
		posts := []map[string]any{}
		if r.URL.Query().Get("page") == "0" {
			posts = append(posts,
				map[string]any{"id": 2, "md5": "0123456789abcdef0123456789abcdef", "tags": "kaa spiral_eyes", "created_at": 1700000000},
				map[string]any{"id": 1, "md5": "fedcba9876543210fedcba9876543210", "tags": "some_artist", "created_at": 1690000000},
			)
		}
		assert.NoError(t, json.NewEncoder(w).Encode(posts))
	})
	mux.HandleFunc("/tag/index.json", func(w http.ResponseWriter, r *http.Request) {
		types := map[string]int{"kaa": 4, "some_artist": 1}
		name := r.URL.Query().Get("name")
		out := []map[string]any{}
		if kind, ok := types[name]; ok {
			out = append(out, map[string]any{"name": name, "tag_type": kind})
		}
		assert.NoError(t, json.NewEncoder(w).Encode(out))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, baseURL string) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.API.BaseURL = baseURL
	cfg.Retry.MinDelay = 0
	cfg.Retry.MaxDelay = 0
	cfg.Cache.Driver = "sqlite"
	cfg.Cache.Path = filepath.Join(dir, "succ.db")
	cfg.Archive.Path = filepath.Join(dir, "succ-archive.db")
	cfg.Lock.Path = filepath.Join(dir, "succ.lock")
	cfg.Metrics.Textfile = filepath.Join(dir, "booru.prom")
	return cfg
}

func TestAppLatestEndToEnd(t *testing.T) {
	t.Parallel()

	srv := newFakeBooru(t)
	cfg := testConfig(t, srv.URL)

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotEmpty(t, a.RunID())
	require.NotNil(t, a.Logger())

	require.NoError(t, a.Controller().Latest(context.Background()))

	counts, err := a.Cache().Counts(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[booru.TagType]int{
		booru.TagTypeCharacter: 1,
		booru.TagTypeArtist:    1,
		booru.TagTypeGeneral:   1,
	}, counts)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	_, err = os.Stat(cfg.Metrics.Textfile)
	require.NoError(t, err)
	_, err = os.Stat(cfg.Archive.Path)
	require.NoError(t, err)
}

func TestAppInstanceLock(t *testing.T) {
	t.Parallel()

	srv := newFakeBooru(t)
	cfg := testConfig(t, srv.URL)
	cfg.Cache.Driver = "memory"

	first, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)

	_, err = New(context.Background(), cfg, nil)
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, first.Close())

	second, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestAppNewReleasesOnFailure(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "https://example.invalid")
	cfg.Archive.HashType = "crc32"

	_, err := New(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)

	cfg.Archive.HashType = "md5"
	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, a.Close())
}

func TestAppMemoryArchiveDryRun(t *testing.T) {
	t.Parallel()

	srv := newFakeBooru(t)
	cfg := testConfig(t, srv.URL)
	cfg.Cache.Driver = "memory"
	cfg.Archive.Driver = "memory"

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, a.Controller().Latest(context.Background()))

	sink, ok := a.archive.(*archive.Memory)
	require.True(t, ok)
	batches := sink.Batches()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 2)
	require.NoError(t, a.Close())

	_, err = os.Stat(cfg.Archive.Path)
	require.ErrorIs(t, err, os.ErrNotExist)
}
