package directory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis, *countingRecorder) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rec := newCountingRecorder()
	return NewCache(client, time.Minute, nil, rec), mr, rec
}

func TestCacheFetchStoresLoaderResult(t *testing.T) {
	cache, _, rec := newTestCache(t)
	ctx := context.Background()
	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return []string{"CompanyA"}, nil
	}

	var first, second []string
	require.NoError(t, cache.Fetch(ctx, "search", &first, loader, "en", "comp"))
	require.NoError(t, cache.Fetch(ctx, "search", &second, loader, "en", "comp"))

	assert.Equal(t, []string{"CompanyA"}, first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, rec.lookups[true])
	assert.Equal(t, 1, rec.lookups[false])
}

func TestCacheBumpInvalidates(t *testing.T) {
	cache, _, _ := newTestCache(t)
	ctx := context.Background()
	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return calls, nil
	}

	var got int
	require.NoError(t, cache.Fetch(ctx, "detail", &got, loader, "ko", "회사A"))
	before, err := cache.Version(ctx)
	require.NoError(t, err)

	require.NoError(t, cache.Bump(ctx))
	after, err := cache.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+1, after)

	require.NoError(t, cache.Fetch(ctx, "detail", &got, loader, "ko", "회사A"))
	assert.Equal(t, 2, got)
}

func TestCacheDoesNotStoreLoaderErrors(t *testing.T) {
	cache, _, _ := newTestCache(t)
	ctx := context.Background()
	boom := errors.New("boom")

	var got []string
	err := cache.Fetch(ctx, "search", &got, func(context.Context) (any, error) { return nil, boom }, "ko", "x")
	require.ErrorIs(t, err, boom)

	err = cache.Fetch(ctx, "search", &got, func(context.Context) (any, error) { return []string{"ok"}, nil }, "ko", "x")
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, got)
}

func TestCacheFallsBackWhenRedisUnavailable(t *testing.T) {
	cache, mr, _ := newTestCache(t)
	mr.Close()

	var got []string
	err := cache.Fetch(context.Background(), "search", &got, func(context.Context) (any, error) {
		return []string{"CompanyA"}, nil
	}, "en", "comp")
	require.NoError(t, err)
	assert.Equal(t, []string{"CompanyA"}, got)
}

func TestNilCachePassesThrough(t *testing.T) {
	var cache *Cache
	ctx := context.Background()

	var got int
	require.NoError(t, cache.Fetch(ctx, "detail", &got, func(context.Context) (any, error) { return 7, nil }))
	assert.Equal(t, 7, got)
	assert.NoError(t, cache.Bump(ctx))
	assert.NoError(t, cache.ListenForInvalidation(ctx))
}

func newSharedCaches(t *testing.T) (*Cache, *Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	var caches [2]*Cache
	for i := range caches {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		caches[i] = NewCache(client, time.Minute, nil, nil)
	}
	return caches[0], caches[1], mr
}

func keyEventually(t *testing.T, cache *Cache, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		key, err := cache.BuildKey(context.Background(), "search")
		return err == nil && key == want
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCacheFollowsBumpsFromOtherInstances(t *testing.T) {
	api, worker, mr := newSharedCaches(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, api.ListenForInvalidation(ctx))

	key, err := api.BuildKey(ctx, "search")
	require.NoError(t, err)
	assert.Equal(t, "directory:search:1", key)

	// The version is held in process, so a change nobody published is not seen.
	require.NoError(t, mr.Set(cacheVersionKey, "100"))
	key, err = api.BuildKey(ctx, "search")
	require.NoError(t, err)
	assert.Equal(t, "directory:search:1", key)

	require.NoError(t, worker.Bump(ctx))
	keyEventually(t, api, "directory:search:101")
}

func TestCacheIgnoresOlderPublishedVersions(t *testing.T) {
	api, worker, mr := newSharedCaches(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, api.ListenForInvalidation(ctx))

	require.NoError(t, worker.Bump(ctx))
	require.NoError(t, worker.Bump(ctx))
	keyEventually(t, api, "directory:search:2")

	mr.Publish(BumpChannel, "1")
	mr.Publish(BumpChannel, "not a number")
	mr.Publish(BumpChannel, "5")
	keyEventually(t, api, "directory:search:5")
}

func TestCacheReadsRedisVersionWhenNotListening(t *testing.T) {
	api, _, mr := newSharedCaches(t)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, api.ListenForInvalidation(ctx))
	keyEventually(t, api, "directory:search:1")

	cancel()
	require.NoError(t, mr.Set(cacheVersionKey, "9"))
	keyEventually(t, api, "directory:search:9")
}

func TestCacheSharedLoadOutlivesCancelledCaller(t *testing.T) {
	cache, _, _ := newTestCache(t)
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	loader := func(ctx context.Context) (any, error) {
		once.Do(func() { close(started) })
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return []string{"CompanyA"}, nil
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		var got []string
		firstErr <- cache.Fetch(firstCtx, "search", &got, loader, "en", "comp")
	}()
	<-started

	secondErr := make(chan error, 1)
	var second []string
	go func() {
		secondErr <- cache.Fetch(context.Background(), "search", &second, loader, "en", "comp")
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	require.NoError(t, <-secondErr)
	assert.Equal(t, []string{"CompanyA"}, second)
}

func TestServiceSearchServedFromCacheUntilWrite(t *testing.T) {
	repo := newMockRepository()
	cache, _, _ := newTestCache(t)
	svc := NewService(repo, cache, ServiceConfig{FallbackLanguages: testPriority}, nil, nil)
	ctx := context.Background()
	seedCompanyA(t, svc)

	items, err := svc.Search(ctx, "comp", "en")
	require.NoError(t, err)
	require.Len(t, items, 1)

	// A row written behind the service's back stays invisible until a write bumps the version.
	repo.mu.Lock()
	repo.state.companyNames = append(repo.state.companyNames, memTranslation{id: 999, owner: 99, language: "en", name: "CompanyZ"})
	repo.mu.Unlock()

	items, err = svc.Search(ctx, "comp", "en")
	require.NoError(t, err)
	assert.Len(t, items, 1)

	_, err = svc.Create(ctx, NewCompany{Names: map[string]string{"en": "CompanyB"}}, "en")
	require.NoError(t, err)

	items, err = svc.Search(ctx, "comp", "en")
	require.NoError(t, err)
	assert.Equal(t, []CompanyItem{{CompanyName: "CompanyA"}, {CompanyName: "CompanyB"}, {CompanyName: "CompanyZ"}}, items)
}
