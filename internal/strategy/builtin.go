package strategy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

const (
	KeyCacheFirst   = "cache-first"
	KeyNetworkFirst = "network-first"
)

func init() {
	MustRegister(CacheFirst{})
	MustRegister(NetworkFirst{})
}

// CacheFirst 命中直接返回且不校验新鲜度；未命中回源并写入副本。
type CacheFirst struct{}

func (CacheFirst) Metadata() Metadata {
	return Metadata{
		Key:         KeyCacheFirst,
		Description: "serve from the version bucket, fetch and store on miss",
	}
}

func (CacheFirst) Serve(ctx context.Context, req *http.Request, env Env) (Result, error) {
	key := RequestKey(req.URL)
	if cached, ok := env.match(ctx, key); ok {
		return Result{Response: cached, Source: SourceCache}, nil
	}

	resp, err := env.Network.Fetch(ctx, req)
	if err != nil {
		return Result{}, err
	}
	stored := env.store(ctx, key, resp)
	return Result{Response: resp, Source: SourceNetwork, Stored: stored}, nil
}

// NetworkFirst 总是先回源，成功时覆盖缓存；网络失败才回退到 bucket。
type NetworkFirst struct{}

func (NetworkFirst) Metadata() Metadata {
	return Metadata{
		Key:         KeyNetworkFirst,
		Description: "fetch from the network and refresh the bucket, fall back to the bucket when offline",
	}
}

func (NetworkFirst) Serve(ctx context.Context, req *http.Request, env Env) (Result, error) {
	key := RequestKey(req.URL)
	resp, err := env.Network.Fetch(ctx, req)
	if err == nil {
		stored := env.store(ctx, key, resp)
		return Result{Response: resp, Source: SourceNetwork, Stored: stored}, nil
	}
	if errors.Is(err, ErrUncacheable) {
		return Result{}, err
	}

	if cached, ok := env.match(ctx, key); ok {
		return Result{Response: cached, Source: SourceFallback}, nil
	}
	return Result{}, fmt.Errorf("%w: %w", ErrOffline, err)
}
