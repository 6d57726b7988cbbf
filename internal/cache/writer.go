package cache

import (
	"context"
	"errors"
	"net/http"
)

// ErrStoreUnavailable 表示当前没有可写入的 bucket。
var ErrStoreUnavailable = errors.New("cache bucket unavailable")

// Writer 注入写入策略：默认只缓存 2xx 响应，StoreErrorResponses 打开后不再过滤状态码。
type Writer struct {
	bucket      Bucket
	storeErrors bool
}

// NewWriter 构造策略感知的写入器。
func NewWriter(bucket Bucket, storeErrorResponses bool) Writer {
	return Writer{
		bucket:      bucket,
		storeErrors: storeErrorResponses,
	}
}

// Enabled 返回当前是否具备缓存写入能力。
func (w Writer) Enabled() bool {
	return w.bucket != nil
}

// ShouldStore 判断该响应是否允许写入 bucket。206 只含部分正文，无论配置如何都不缓存。
func (w Writer) ShouldStore(resp *Response) bool {
	if resp == nil || resp.StatusCode == http.StatusPartialContent {
		return false
	}
	return w.storeErrors || resp.OK()
}

// Store 按策略写入副本，返回是否真正写入。
func (w Writer) Store(ctx context.Context, key string, resp *Response) (bool, error) {
	if w.bucket == nil {
		return false, ErrStoreUnavailable
	}
	if !w.ShouldStore(resp) {
		return false, nil
	}
	if err := w.bucket.Put(ctx, key, resp.Clone()); err != nil {
		return false, err
	}
	return true, nil
}
