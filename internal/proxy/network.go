package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/la-tribu/tribu-cache/internal/cache"
	"github.com/la-tribu/tribu-cache/internal/server"
	"github.com/la-tribu/tribu-cache/internal/strategy"
)

// DefaultMaxBodyBytes 限制单个被缓存响应体的大小。
const DefaultMaxBodyBytes int64 = 64 << 20

// ErrBodyTooLarge 表示上游响应体超过 MaxBodyBytes，无法整体缓存。
var ErrBodyTooLarge = errors.New("upstream body exceeds cache limit")

// OversizedError 携带超过缓存上限、尚未读完的上游响应。上游已正常应答，
// 持有者应把 Response 流式转发给客户端，或调用 Close 释放连接。
type OversizedError struct {
	URL      string
	Response *http.Response
}

func (e *OversizedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrBodyTooLarge, e.URL)
}

// Unwrap 让 errors.Is 同时匹配 ErrBodyTooLarge 与 strategy.ErrUncacheable。
func (e *OversizedError) Unwrap() []error {
	return []error{ErrBodyTooLarge, strategy.ErrUncacheable}
}

// Close 释放上游连接。
func (e *OversizedError) Close() error {
	if e.Response == nil || e.Response.Body == nil {
		return nil
	}
	return e.Response.Body.Close()
}

// prefixedBody 把已读出的前缀拼回剩余的上游正文。
type prefixedBody struct {
	io.Reader
	io.Closer
}

// Network 是 worker 的网络能力：共享 http.Client，按上游 Host 选择是否经代理出站。
type Network struct {
	client       *http.Client
	proxied      map[string]*http.Client
	maxBodyBytes int64
}

// NewNetwork 为每个配置了 Proxy 的 Origin 预先构造代理 client。
func NewNetwork(client *http.Client, routes []server.OriginRoute) *Network {
	if client == nil {
		client = server.NewUpstreamClient(nil)
	}
	n := &Network{
		client:       client,
		proxied:      make(map[string]*http.Client),
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, route := range routes {
		if route.ProxyURL == nil || route.UpstreamURL == nil {
			continue
		}
		n.proxied[strings.ToLower(route.UpstreamURL.Host)] = server.ClientForProxy(client, route.ProxyURL)
	}
	return n
}

// Fetch 发出请求并读取完整响应体；只有网络层失败才返回 error，任何状态码都视为完成。
// 正文超过上限时返回 *OversizedError，其中的响应仍可完整转发。
func (n *Network) Fetch(ctx context.Context, req *http.Request) (*cache.Response, error) {
	resp, err := n.Do(req.WithContext(ctx))
	if err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, n.maxBodyBytes+1))
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	if int64(len(body)) > n.maxBodyBytes {
		resp.Body = prefixedBody{
			Reader: io.MultiReader(bytes.NewReader(body), resp.Body),
			Closer: resp.Body,
		}
		return nil, &OversizedError{URL: req.URL.Redacted(), Response: resp}
	}
	resp.Body.Close()

	header := make(http.Header, len(resp.Header))
	server.CopyHeaders(header, resp.Header)
	header.Del("Content-Length")
	return cache.NewResponse(strategy.RequestKey(req.URL), resp.StatusCode, header, body), nil
}

// Do 发出请求并返回未读取的响应，供透传场景流式转发。
func (n *Network) Do(req *http.Request) (*http.Response, error) {
	return n.clientFor(req).Do(req)
}

func (n *Network) clientFor(req *http.Request) *http.Client {
	if req != nil && req.URL != nil {
		if client, ok := n.proxied[strings.ToLower(req.URL.Host)]; ok {
			return client
		}
	}
	return n.client
}
