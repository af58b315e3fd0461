package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/booru-tag-crawler/internal/booru"
	"github.com/JakeFAU/booru-tag-crawler/internal/config"
	"github.com/JakeFAU/booru-tag-crawler/internal/tagcache"
)

type fakeCrawler struct {
	calls []string
	start int
	end   int
	until int64
	err   error
}

func (f *fakeCrawler) Latest(context.Context) error {
	f.calls = append(f.calls, "latest")
	return f.err
}

func (f *fakeCrawler) Pages(_ context.Context, start, end int) error {
	f.calls = append(f.calls, "pages")
	f.start, f.end = start, end
	return f.err
}

func (f *fakeCrawler) Until(_ context.Context, target int64) error {
	f.calls = append(f.calls, "until")
	f.until = target
	return f.err
}

func (f *fakeCrawler) All(context.Context) error {
	f.calls = append(f.calls, "all")
	return f.err
}

func (f *fakeCrawler) Loop(context.Context) error {
	f.calls = append(f.calls, "loop")
	return f.err
}

type fakeApp struct {
	crawler *fakeCrawler
	closed  int
}

var (
	_ App = (*fakeApp)(nil)
	_ App = appServices{}
)

func (f *fakeApp) Crawler() Crawler { return f.crawler }

func (f *fakeApp) Close() error {
	f.closed++
	return nil
}

// withFakeApp swaps the app factory; tests using it must not run in parallel.
func withFakeApp(t *testing.T, crawler *fakeCrawler) *fakeApp {
	t.Helper()
	t.Setenv("BOORU_LOGGING_DEVELOPMENT", "false")
	fake := &fakeApp{crawler: crawler}
	prev := newApp
	newApp = func(context.Context, config.Config, *zap.Logger) (App, error) {
		return fake, nil
	}
	t.Cleanup(func() { newApp = prev })
	return fake
}

func TestRunDispatchesModes(t *testing.T) {
	cases := []struct {
		args []string
		want string
	}{
		{args: []string{"latest"}, want: "latest"},
		{args: []string{"pages", "3", "7"}, want: "pages"},
		{args: []string{"until", "12345"}, want: "until"},
		{args: []string{"all"}, want: "all"},
		{args: []string{"loop"}, want: "loop"},
	}
	for _, tc := range cases {
		t.Run(tc.want, func(t *testing.T) {
			crawler := &fakeCrawler{}
			fake := withFakeApp(t, crawler)

			require.NoError(t, run(context.Background(), tc.args, &bytes.Buffer{}))
			require.Equal(t, []string{tc.want}, crawler.calls)
			require.Equal(t, 1, fake.closed)
		})
	}
}

func TestRunParsesArguments(t *testing.T) {
	crawler := &fakeCrawler{}
	withFakeApp(t, crawler)

	require.NoError(t, run(context.Background(), []string{"pages", "2", "5"}, &bytes.Buffer{}))
	require.Equal(t, 2, crawler.start)
	require.Equal(t, 5, crawler.end)

	require.NoError(t, run(context.Background(), []string{"until", "95"}, &bytes.Buffer{}))
	require.Equal(t, int64(95), crawler.until)

	require.Error(t, run(context.Background(), []string{"pages", "two", "5"}, &bytes.Buffer{}))
	require.Error(t, run(context.Background(), []string{"until"}, &bytes.Buffer{}))
}

func TestRunClosesAppOnFailure(t *testing.T) {
	crawler := &fakeCrawler{err: errors.New("sink unavailable")}
	fake := withFakeApp(t, crawler)

	require.Error(t, run(context.Background(), []string{"all"}, &bytes.Buffer{}))
	require.Equal(t, 1, fake.closed)
}

func TestRunTreatsCancelAsSuccess(t *testing.T) {
	crawler := &fakeCrawler{err: context.Canceled}
	withFakeApp(t, crawler)

	require.NoError(t, run(context.Background(), []string{"loop"}, &bytes.Buffer{}))
}

func TestCacheStatsRendersTable(t *testing.T) {
	withFakeApp(t, &fakeCrawler{})
	cache := tagcache.NewMemory()
	ctx := context.Background()
	_, err := cache.InsertIfAbsent(ctx, "kaa", booru.TagTypeCharacter)
	require.NoError(t, err)
	_, err = cache.InsertIfAbsent(ctx, "spiral", booru.TagTypeGeneral)
	require.NoError(t, err)
	_, err = cache.InsertIfAbsent(ctx, "eyes", booru.TagTypeGeneral)
	require.NoError(t, err)

	prev := openCache
	openCache = func(*cobra.Command) (booru.TagCache, error) { return cache, nil }
	t.Cleanup(func() { openCache = prev })

	var out bytes.Buffer
	require.NoError(t, run(ctx, []string{"cache", "stats"}, &out))
	require.Contains(t, out.String(), "general")
	require.Contains(t, out.String(), "character")
	require.Contains(t, out.String(), "3")
}
