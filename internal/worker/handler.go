package worker

import (
	"context"
	"errors"
	"net/http"

	"github.com/la-tribu/tribu-cache/internal/cache"
	"github.com/la-tribu/tribu-cache/internal/strategy"
)

// Handler 对应 service worker 的三个生命周期事件。
type Handler interface {
	OnInstall(ctx context.Context) error
	OnActivate(ctx context.Context) error
	OnFetch(ctx context.Context, req *http.Request) (*Outcome, error)
}

// Fetcher 是网络能力，见 strategy.Fetcher。
type Fetcher = strategy.Fetcher

// Capabilities 是 worker 依赖的平台能力集合，测试中可替换为 fake。
type Capabilities struct {
	Network Fetcher
	Caches  cache.Storage
}

// Outcome 是一次 fetch 事件的处理结果。
type Outcome struct {
	Response *cache.Response
	Class    Class
	Strategy string
	Source   strategy.Source
	Stored   bool
	Version  string
}

// CacheHit 返回响应是否取自缓存。
func (o *Outcome) CacheHit() bool {
	if o == nil {
		return false
	}
	return o.Source == strategy.SourceCache || o.Source == strategy.SourceFallback
}

var (
	// ErrPassthrough 表示该请求不由 worker 处理，调用方应原样回源。
	ErrPassthrough = errors.New("request not handled by worker")
	// ErrPrecacheFailed 表示 install 阶段有资源无法获取。
	ErrPrecacheFailed = errors.New("precache failed")
	// ErrOffline 与 strategy.ErrOffline 相同。
	ErrOffline = strategy.ErrOffline
)
