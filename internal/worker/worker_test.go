package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/la-tribu/tribu-cache/internal/cache"
)

var errNetworkDown = errors.New("dial tcp: connection refused")

// fakeNetwork 记录每个 URL 的请求次数，可按 URL 注入失败。
type fakeNetwork struct {
	mu      sync.Mutex
	calls   map[string]int
	bodies  map[string]string
	status  map[string]int
	offline bool
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		calls:  map[string]int{},
		bodies: map[string]string{},
		status: map[string]int{},
	}
}

func (f *fakeNetwork) Fetch(_ context.Context, req *http.Request) (*cache.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := req.URL.String()
	f.calls[key]++
	if f.offline {
		return nil, errNetworkDown
	}
	status := http.StatusOK
	if s, ok := f.status[key]; ok {
		status = s
	}
	return cache.NewResponse(key, status, http.Header{"Content-Type": {"text/plain"}}, []byte(f.bodies[key])), nil
}

func (f *fakeNetwork) set(url, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[url] = body
}

func (f *fakeNetwork) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeNetwork) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeNetwork) goOffline() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = true
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestStorage(t *testing.T) cache.Storage {
	t.Helper()
	storage, err := cache.NewFileStorage(t.TempDir(), cache.FileOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })
	return storage
}

func newTestManager(t *testing.T, version string, precache []string, network Fetcher, storage cache.Storage) *Manager {
	t.Helper()
	m, err := NewManager(Options{
		Version:    version,
		Precache:   precache,
		Classifier: NewClassifier(nil, nil),
	}, Capabilities{Network: network, Caches: storage}, newTestLogger(), nil)
	require.NoError(t, err)
	return m
}

func getRequest(t *testing.T, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	return req
}
