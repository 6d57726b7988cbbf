package strategy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/la-tribu/tribu-cache/internal/cache"
)

var errNetworkDown = errors.New("dial tcp: connection refused")

type fakeNetwork struct {
	mu      sync.Mutex
	calls   map[string]int
	status  int
	body    string
	failing bool
}

func newFakeNetwork(body string) *fakeNetwork {
	return &fakeNetwork{calls: map[string]int{}, status: http.StatusOK, body: body}
}

func (f *fakeNetwork) Fetch(_ context.Context, req *http.Request) (*cache.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.URL.String()]++
	if f.failing {
		return nil, errNetworkDown
	}
	return cache.NewResponse(req.URL.String(), f.status, http.Header{"Content-Type": {"text/plain"}}, []byte(f.body)), nil
}

func (f *fakeNetwork) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func newEnv(t *testing.T, network Fetcher) (Env, cache.Bucket) {
	t.Helper()
	storage, err := cache.NewFileStorage(t.TempDir(), cache.FileOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })
	bucket, err := storage.Open(context.Background(), "la-tribu-cache-v1")
	require.NoError(t, err)
	return Env{Network: network, Bucket: bucket, Writer: cache.NewWriter(bucket, false)}, bucket
}

func getRequest(t *testing.T, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	return req
}

func TestCacheFirstHitSkipsNetwork(t *testing.T) {
	network := newFakeNetwork("fresh")
	env, bucket := newEnv(t, network)
	url := "https://la-tribu.example/static/css/app.css"
	require.NoError(t, bucket.Put(context.Background(), url, cache.NewResponse(url, http.StatusOK, nil, []byte("cached"))))

	result, err := CacheFirst{}.Serve(context.Background(), getRequest(t, url), env)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, result.Source)
	assert.True(t, result.CacheHit())
	assert.Equal(t, "cached", string(result.Response.Body))
	assert.Zero(t, network.count(url))
}

func TestCacheFirstMissFetchesOnceAndStores(t *testing.T) {
	network := newFakeNetwork("from-network")
	env, bucket := newEnv(t, network)
	url := "https://cdn.jsdelivr.net/npm/bootstrap@5.3.0/dist/js/bootstrap.bundle.min.js"

	result, err := CacheFirst{}.Serve(context.Background(), getRequest(t, url), env)
	require.NoError(t, err)
	assert.Equal(t, SourceNetwork, result.Source)
	assert.True(t, result.Stored)
	assert.Equal(t, 1, network.count(url))

	stored, err := bucket.Match(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, "from-network", string(stored.Body))

	again, err := CacheFirst{}.Serve(context.Background(), getRequest(t, url), env)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, again.Source)
	assert.Equal(t, 1, network.count(url))
}

func TestCacheFirstMissAndNetworkFailurePropagates(t *testing.T) {
	network := newFakeNetwork("")
	network.failing = true
	env, _ := newEnv(t, network)

	_, err := CacheFirst{}.Serve(context.Background(), getRequest(t, "https://la-tribu.example/static/img/logo.png"), env)
	require.ErrorIs(t, err, errNetworkDown)
}

func TestNetworkFirstOverwritesEntry(t *testing.T) {
	network := newFakeNetwork("v2")
	env, bucket := newEnv(t, network)
	url := "https://la-tribu.example/admin/calendar"
	require.NoError(t, bucket.Put(context.Background(), url, cache.NewResponse(url, http.StatusOK, nil, []byte("v1"))))

	result, err := NetworkFirst{}.Serve(context.Background(), getRequest(t, url), env)
	require.NoError(t, err)
	assert.Equal(t, SourceNetwork, result.Source)
	assert.False(t, result.CacheHit())

	stored, err := bucket.Match(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(stored.Body))
}

func TestNetworkFirstFallsBackToCache(t *testing.T) {
	network := newFakeNetwork("")
	network.failing = true
	env, bucket := newEnv(t, network)
	url := "https://la-tribu.example/"
	require.NoError(t, bucket.Put(context.Background(), url, cache.NewResponse(url, http.StatusOK, nil, []byte("offline copy"))))

	result, err := NetworkFirst{}.Serve(context.Background(), getRequest(t, url), env)
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, result.Source)
	assert.Equal(t, "offline copy", string(result.Response.Body))
}

func TestNetworkFirstFailsWithoutCache(t *testing.T) {
	network := newFakeNetwork("")
	network.failing = true
	env, _ := newEnv(t, network)

	result, err := NetworkFirst{}.Serve(context.Background(), getRequest(t, "https://la-tribu.example/api/lookup/0000"), env)
	require.ErrorIs(t, err, ErrOffline)
	require.ErrorIs(t, err, errNetworkDown)
	assert.Nil(t, result.Response)
}

type fetchFunc func(context.Context, *http.Request) (*cache.Response, error)

func (f fetchFunc) Fetch(ctx context.Context, req *http.Request) (*cache.Response, error) {
	return f(ctx, req)
}

func TestNetworkFirstDoesNotFallBackForUncacheableResponse(t *testing.T) {
	tooLarge := fmt.Errorf("body over limit: %w", ErrUncacheable)
	env, bucket := newEnv(t, fetchFunc(func(context.Context, *http.Request) (*cache.Response, error) {
		return nil, tooLarge
	}))
	url := "https://la-tribu.example/downloads/video.mp4"
	require.NoError(t, bucket.Put(context.Background(), url, cache.NewResponse(url, http.StatusOK, nil, []byte("old"))))

	result, err := NetworkFirst{}.Serve(context.Background(), getRequest(t, url), env)
	require.ErrorIs(t, err, ErrUncacheable)
	assert.NotErrorIs(t, err, ErrOffline)
	assert.Nil(t, result.Response)
}

func TestNetworkFirstSkipsErrorStatusByDefault(t *testing.T) {
	network := newFakeNetwork("server error")
	network.status = http.StatusInternalServerError
	env, bucket := newEnv(t, network)
	url := "https://la-tribu.example/api/reserve"

	result, err := NetworkFirst{}.Serve(context.Background(), getRequest(t, url), env)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, result.Response.StatusCode)
	assert.False(t, result.Stored)

	_, err = bucket.Match(context.Background(), url)
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestStoreErrorsAreReportedNotReturned(t *testing.T) {
	network := newFakeNetwork("ok")
	env, _ := newEnv(t, network)
	env.Writer = cache.NewWriter(brokenBucket{}, false)
	env.Bucket = brokenBucket{}

	var reported []string
	env.OnError = func(op, _ string, _ error) { reported = append(reported, op) }

	result, err := CacheFirst{}.Serve(context.Background(), getRequest(t, "https://la-tribu.example/static/a.js"), env)
	require.NoError(t, err)
	assert.False(t, result.Stored)
	assert.Equal(t, []string{"cache_match", "cache_put"}, reported)
}

func TestRequestKeyDropsFragment(t *testing.T) {
	req := getRequest(t, "https://la-tribu.example/static/app.css?v=3#top")
	assert.Equal(t, "https://la-tribu.example/static/app.css?v=3", RequestKey(req.URL))
	assert.Empty(t, RequestKey(nil))
}

type brokenBucket struct{}

func (brokenBucket) Name() string { return "broken" }

func (brokenBucket) Match(context.Context, string) (*cache.Response, error) {
	return nil, errors.New("disk unreadable")
}

func (brokenBucket) Put(context.Context, string, *cache.Response) error {
	return errors.New("disk full")
}

func (brokenBucket) Delete(context.Context, string) (bool, error) { return false, nil }

func (brokenBucket) Keys(context.Context) ([]string, error) { return nil, nil }
