package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/booru-tag-crawler/internal/booru"
	"github.com/JakeFAU/booru-tag-crawler/internal/retry"
	"github.com/JakeFAU/booru-tag-crawler/internal/tagcache"
)

type fakeRemote struct {
	mu       sync.Mutex
	tags     map[string][]booru.Tag
	failures int
	calls    []string
}

func (f *fakeRemote) ListPosts(context.Context, int, int) ([]booru.PostRecord, error) {
	return nil, nil
}

func (f *fakeRemote) SearchTags(_ context.Context, name string) ([]booru.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if f.failures > 0 {
		f.failures--
		return nil, retry.MarkTransient(errors.New("503 service unavailable"))
	}
	return f.tags[name], nil
}

func (f *fakeRemote) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type failingCache struct {
	booru.TagCache
}

func (failingCache) Lookup(context.Context, string) (booru.Tag, bool, error) {
	return booru.Tag{}, false, errors.New("disk I/O error")
}

func newTestResolver(t *testing.T, cache booru.TagCache, remote booru.Remote) *Resolver {
	t.Helper()
	policy, err := retry.NewPolicy(retry.Config{}, zap.NewNop())
	require.NoError(t, err)
	r, err := New(cache, remote, policy, zap.NewNop())
	require.NoError(t, err)
	return r
}

func TestResolveExactMatchLearnsEveryRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cache := tagcache.NewMemory()
	remote := &fakeRemote{tags: map[string][]booru.Tag{
		"kaa": {
			{Name: "kaa_(jungle_book)", Type: booru.TagTypeCharacter},
			{Name: "kaa", Type: booru.TagTypeCharacter},
		},
	}}
	r := newTestResolver(t, cache, remote)

	tag, err := r.Resolve(ctx, "kaa")
	require.NoError(t, err)
	require.Equal(t, booru.Tag{Name: "kaa", Type: booru.TagTypeCharacter}, tag)
	require.Equal(t, 2, cache.Len())

	other, ok, err := cache.Lookup(ctx, "kaa_(jungle_book)")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, booru.TagTypeCharacter, other.Type)
}

func TestResolveWarmCacheSkipsRemote(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cache := tagcache.NewMemory()
	_, err := cache.InsertIfAbsent(ctx, "some_artist", booru.TagTypeArtist)
	require.NoError(t, err)
	remote := &fakeRemote{}
	r := newTestResolver(t, cache, remote)

	for i := 0; i < 3; i++ {
		tag, err := r.Resolve(ctx, "some_artist")
		require.NoError(t, err)
		require.Equal(t, booru.TagTypeArtist, tag.Type)
	}
	require.Zero(t, remote.callCount())
}

func TestResolveFallsBackToGeneral(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cache := tagcache.NewMemory()
	remote := &fakeRemote{tags: map[string][]booru.Tag{
		"spiral": {{Name: "spiral_eyes", Type: booru.TagTypeGeneral}, {Name: "spiral_(artist)", Type: booru.TagTypeArtist}},
	}}
	r := newTestResolver(t, cache, remote)

	tag, err := r.Resolve(ctx, "spiral")
	require.NoError(t, err)
	require.Equal(t, booru.Tag{Name: "spiral", Type: booru.TagTypeGeneral}, tag)

	stored, ok, err := cache.Lookup(ctx, "spiral")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, booru.TagTypeGeneral, stored.Type)
	require.Equal(t, 3, cache.Len())

	_, err = r.Resolve(ctx, "spiral")
	require.NoError(t, err)
	require.Equal(t, 1, remote.callCount())
}

func TestResolveEmptySearchFallsBack(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t, tagcache.NewMemory(), &fakeRemote{})
	tag, err := r.Resolve(context.Background(), "unknown_tag")
	require.NoError(t, err)
	require.Equal(t, booru.TagTypeGeneral, tag.Type)
}

func TestResolveRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	remote := &fakeRemote{
		failures: 2,
		tags:     map[string][]booru.Tag{"pendulum": {{Name: "pendulum", Type: booru.TagTypeGeneral}}},
	}
	r := newTestResolver(t, tagcache.NewMemory(), remote)

	tag, err := r.Resolve(context.Background(), "pendulum")
	require.NoError(t, err)
	require.Equal(t, "pendulum", tag.Name)
	require.Equal(t, 3, remote.callCount())
}

func TestResolveCacheErrorIsReturned(t *testing.T) {
	t.Parallel()

	remote := &fakeRemote{}
	r := newTestResolver(t, failingCache{}, remote)

	_, err := r.Resolve(context.Background(), "anything")
	require.Error(t, err)
	require.Zero(t, remote.callCount())
}

func TestNewValidatesDependencies(t *testing.T) {
	t.Parallel()

	policy, err := retry.NewPolicy(retry.DefaultConfig(), nil)
	require.NoError(t, err)

	_, err = New(nil, &fakeRemote{}, policy, nil)
	require.Error(t, err)
	_, err = New(tagcache.NewMemory(), nil, policy, nil)
	require.Error(t, err)
	_, err = New(tagcache.NewMemory(), &fakeRemote{}, nil, nil)
	require.Error(t, err)
}
