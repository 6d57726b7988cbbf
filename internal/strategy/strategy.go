package strategy

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/la-tribu/tribu-cache/internal/cache"
)

// Fetcher 是网络请求能力：仅在网络层失败时返回 error，任何 HTTP 状态码都视为已完成的请求。
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*cache.Response, error)
}

// Source 标记响应来自缓存、网络还是离线回退。
type Source string

const (
	SourceCache    Source = "cache"
	SourceNetwork  Source = "network"
	SourceFallback Source = "fallback"
)

// Metadata 记录策略的静态信息，供诊断端使用。
type Metadata struct {
	Key         string
	Description string
}

// Env 是单次请求可用的能力集合。
type Env struct {
	Network Fetcher
	Bucket  cache.Bucket
	Writer  cache.Writer
	// OnError 接收不影响响应的旁路错误（缓存读写失败），可为空。
	OnError func(op, key string, err error)
}

// Result 描述策略执行结果。
type Result struct {
	Response *cache.Response
	Source   Source
	// Stored 表示本次是否写入了 bucket。
	Stored bool
}

// CacheHit 返回响应是否直接取自缓存（含离线回退）。
func (r Result) CacheHit() bool {
	return r.Source == SourceCache || r.Source == SourceFallback
}

// Strategy 定义一种 fetch 处理方式。
type Strategy interface {
	Metadata() Metadata
	Serve(ctx context.Context, req *http.Request, env Env) (Result, error)
}

// ErrOffline 表示网络失败且缓存中也没有可用条目。
var ErrOffline = errors.New("network unavailable and no cached response")

// ErrUncacheable 表示上游已正常应答但响应无法整体缓存；策略不回退到 bucket，原样上抛。
var ErrUncacheable = errors.New("response cannot be cached")

// RequestKey 返回请求在 bucket 中的 key：完整 URL，去掉片段。
func RequestKey(u *url.URL) string {
	if u == nil {
		return ""
	}
	clean := *u
	clean.Fragment = ""
	clean.RawFragment = ""
	return clean.String()
}

func (e Env) report(op, key string, err error) {
	if e.OnError != nil && err != nil {
		e.OnError(op, key, err)
	}
}

func (e Env) match(ctx context.Context, key string) (*cache.Response, bool) {
	if e.Bucket == nil {
		return nil, false
	}
	resp, err := e.Bucket.Match(ctx, key)
	switch {
	case err == nil:
		return resp, true
	case errors.Is(err, cache.ErrNotFound):
		return nil, false
	default:
		e.report("cache_match", key, err)
		return nil, false
	}
}

func (e Env) store(ctx context.Context, key string, resp *cache.Response) bool {
	if !e.Writer.Enabled() {
		return false
	}
	stored, err := e.Writer.Store(ctx, key, resp)
	if err != nil {
		e.report("cache_put", key, err)
		return false
	}
	return stored
}
