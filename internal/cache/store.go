package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
)

// Storage 管理全部命名 bucket，对应浏览器的 CacheStorage。
type Storage interface {
	// Open 打开指定 bucket，不存在时自动创建。
	Open(ctx context.Context, name string) (Bucket, error)

	// Has 判断 bucket 是否存在，不会创建。
	Has(ctx context.Context, name string) (bool, error)

	// Keys 返回按名称排序的 bucket 列表。
	Keys(ctx context.Context) ([]string, error)

	// Delete 整体删除 bucket 及其条目，返回删除前是否存在。
	Delete(ctx context.Context, name string) (bool, error)

	// Close 释放底层资源。
	Close() error
}

// Bucket 是单个版本的 URL -> Response 存储，同一 key 并发写入以最后一次为准。
type Bucket interface {
	Name() string

	// Match 返回 key 对应的缓存响应，不存在时返回 ErrNotFound。
	Match(ctx context.Context, key string) (*Response, error)

	// Put 覆盖写入 key 对应的响应。
	Put(ctx context.Context, key string, resp *Response) error

	// Delete 删除单个条目，返回删除前是否存在。
	Delete(ctx context.Context, key string) (bool, error)

	// Keys 返回按字典序排列的全部 key。
	Keys(ctx context.Context) ([]string, error)
}

// Response 是缓存中保存的完整响应（状态码 + 头 + 正文）。
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	StoredAt   time.Time
	Digest     digest.Digest
}

// NewResponse 构造响应并计算正文摘要。
func NewResponse(url string, status int, header http.Header, body []byte) *Response {
	if header == nil {
		header = http.Header{}
	}
	return &Response{
		URL:        url,
		StatusCode: status,
		Header:     header,
		Body:       body,
		Digest:     digest.FromBytes(body),
	}
}

// OK 与 fetch Response.ok 一致，仅 2xx 视为成功。
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Clone 返回独立副本，调用方可以随意修改 Header/Body。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	cloned := *r
	cloned.Header = r.Header.Clone()
	if cloned.Header == nil {
		cloned.Header = http.Header{}
	}
	cloned.Body = append([]byte(nil), r.Body...)
	return &cloned
}

// seal 在写入前补齐摘要与写入时间。
func (r *Response) seal(now time.Time) *Response {
	sealed := r.Clone()
	sealed.Digest = digest.FromBytes(sealed.Body)
	if sealed.StoredAt.IsZero() {
		sealed.StoredAt = now.UTC()
	}
	return sealed
}

// verify 校验正文与记录的摘要一致。
func (r *Response) verify() error {
	if r.Digest == "" {
		return nil
	}
	if err := r.Digest.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	verifier := r.Digest.Verifier()
	_, _ = verifier.Write(r.Body)
	if !verifier.Verified() {
		return fmt.Errorf("%w: digest mismatch for %s", ErrCorrupt, r.URL)
	}
	return nil
}

var (
	// ErrNotFound 表示 bucket 中不存在该条目。
	ErrNotFound = errors.New("cache entry not found")
	// ErrCorrupt 表示条目正文与摘要不一致，调用方应视为未命中。
	ErrCorrupt = errors.New("cache entry corrupt")
	// ErrInvalidName 表示 bucket 名或 key 不合法。
	ErrInvalidName = errors.New("invalid cache name")
)

func validateBucketName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || trimmed != name {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidName)
	}
	return nil
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
