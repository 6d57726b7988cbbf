package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/la-tribu/tribu-cache/internal/cache"
	"github.com/la-tribu/tribu-cache/internal/logging"
	"github.com/la-tribu/tribu-cache/internal/metrics"
	"github.com/la-tribu/tribu-cache/internal/strategy"
)

// Options 是单个 worker 版本的配置；Version 同时是 bucket 名。
type Options struct {
	Version    string
	Precache   []string
	Classifier Classifier
	// StoreErrorResponses 为 true 时非 2xx 响应也写入 bucket。
	StoreErrorResponses bool
}

// Manager 是 cache manager 的 Handler 实现。
type Manager struct {
	opts     Options
	precache []string
	caps     Capabilities
	logger   *logrus.Logger
	recorder *metrics.Recorder

	// bucket 在 install 时打开后一直复用；被新版本删除后写入失败，而不是重新创建。
	mu     sync.Mutex
	bucket cache.Bucket
}

// NewManager 校验配置并构造 Manager；recorder 可为空。
func NewManager(opts Options, caps Capabilities, logger *logrus.Logger, recorder *metrics.Recorder) (*Manager, error) {
	if strings.TrimSpace(opts.Version) == "" {
		return nil, errors.New("cache version is required")
	}
	if caps.Network == nil {
		return nil, errors.New("network capability is required")
	}
	if caps.Caches == nil {
		return nil, errors.New("cache storage capability is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	precache := make([]string, 0, len(opts.Precache))
	for _, raw := range opts.Precache {
		parsed, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || !parsed.IsAbs() {
			return nil, fmt.Errorf("invalid precache url %q", raw)
		}
		precache = append(precache, strategy.RequestKey(parsed))
	}
	if opts.Classifier.hosts == nil {
		opts.Classifier = NewClassifier(nil, nil)
	}

	return &Manager{
		opts:     opts,
		precache: precache,
		caps:     caps,
		logger:   logger,
		recorder: recorder,
	}, nil
}

// Version 返回当前 worker 对应的 bucket 名。
func (m *Manager) Version() string {
	return m.opts.Version
}

// Precache 返回规范化后的预缓存 URL 列表。
func (m *Manager) Precache() []string {
	return append([]string(nil), m.precache...)
}

// OnInstall 打开当前版本 bucket 并写入全部预缓存资源，任一资源失败即整体失败。
func (m *Manager) OnInstall(ctx context.Context) error {
	started := time.Now()
	err := m.install(ctx)
	m.recorder.IncLifecycle("install", err == nil)

	fields := logging.LifecycleFields(m.opts.Version, "installing")
	fields["assets"] = len(m.precache)
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		m.logger.WithFields(fields).Error("install_failed")
		return err
	}
	m.logger.WithFields(fields).Info("install_complete")
	return nil
}

func (m *Manager) install(ctx context.Context) error {
	bucket, err := m.openBucket(ctx)
	if err != nil {
		return fmt.Errorf("open bucket %s: %w", m.opts.Version, err)
	}

	for _, target := range m.precache {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrPrecacheFailed, target, err)
		}
		resp, err := m.caps.Network.Fetch(ctx, req)
		if err != nil {
			// 超限响应仍持有上游连接，安装失败前释放。
			var unread io.Closer
			if errors.As(err, &unread) {
				_ = unread.Close()
			}
			return fmt.Errorf("%w: %s: %w", ErrPrecacheFailed, target, err)
		}
		if !resp.OK() {
			return fmt.Errorf("%w: %s: status %d", ErrPrecacheFailed, target, resp.StatusCode)
		}
		if err := bucket.Put(ctx, target, resp); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrPrecacheFailed, target, err)
		}
	}
	return nil
}

// OnActivate 删除所有名称不等于当前版本的 bucket，当前 bucket 保持不变。
func (m *Manager) OnActivate(ctx context.Context) error {
	names, err := m.caps.Caches.Keys(ctx)
	if err != nil {
		m.recorder.IncLifecycle("activate", false)
		return fmt.Errorf("list buckets: %w", err)
	}

	for _, name := range names {
		if name == m.opts.Version {
			continue
		}
		deleted, err := m.caps.Caches.Delete(ctx, name)
		if err != nil {
			m.recorder.IncLifecycle("activate", false)
			return fmt.Errorf("delete bucket %s: %w", name, err)
		}
		if deleted {
			m.recorder.IncBucketsDeleted()
			fields := logging.LifecycleFields(m.opts.Version, "activating")
			fields["bucket"] = name
			m.logger.WithFields(fields).Info("bucket_deleted")
		}
	}

	m.recorder.IncLifecycle("activate", true)
	return nil
}

// OnFetch 处理 GET 请求；其它方法与带 Range 的部分请求返回 ErrPassthrough，交由调用方直接回源。
func (m *Manager) OnFetch(ctx context.Context, req *http.Request) (*Outcome, error) {
	if req == nil || req.Method != http.MethodGet {
		return nil, ErrPassthrough
	}
	if req.Header.Get("Range") != "" {
		return nil, ErrPassthrough
	}

	started := time.Now()
	class := m.opts.Classifier.Classify(req.URL)
	key := StrategyFor(class)
	s, ok := strategy.Resolve(key)
	if !ok {
		return nil, fmt.Errorf("strategy %s is not registered", key)
	}

	bucket, err := m.openBucket(ctx)
	if err != nil {
		// bucket 不可用时仍按策略回源，只是不再读写缓存。
		m.reportCacheError("cache_open", m.opts.Version, err)
	}

	env := strategy.Env{
		Network: m.caps.Network,
		Bucket:  bucket,
		Writer:  cache.NewWriter(bucket, m.opts.StoreErrorResponses),
		OnError: m.reportCacheError,
	}
	result, err := s.Serve(ctx, req, env)
	if err != nil {
		outcome := metrics.OutcomeFailed
		if errors.Is(err, strategy.ErrUncacheable) {
			outcome = metrics.OutcomeBypass
		}
		m.recorder.ObserveFetch(key, outcome, time.Since(started))
		return nil, err
	}

	m.recorder.ObserveFetch(key, fetchOutcome(key, result), time.Since(started))
	return &Outcome{
		Response: result.Response,
		Class:    class,
		Strategy: key,
		Source:   result.Source,
		Stored:   result.Stored,
		Version:  m.opts.Version,
	}, nil
}

func (m *Manager) openBucket(ctx context.Context) (cache.Bucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bucket != nil {
		return m.bucket, nil
	}
	bucket, err := m.caps.Caches.Open(ctx, m.opts.Version)
	if err != nil {
		return nil, err
	}
	m.bucket = bucket
	return bucket, nil
}

func (m *Manager) reportCacheError(op, key string, err error) {
	fields := logging.LifecycleFields(m.opts.Version, "activated")
	fields["action"] = op
	fields["key"] = key
	fields["error"] = err.Error()
	m.logger.WithFields(fields).Warn("cache_operation_failed")
}

func fetchOutcome(key string, result strategy.Result) metrics.Outcome {
	switch result.Source {
	case strategy.SourceCache:
		return metrics.OutcomeHit
	case strategy.SourceFallback:
		return metrics.OutcomeFallback
	}
	if key == strategy.KeyCacheFirst {
		return metrics.OutcomeMiss
	}
	return metrics.OutcomeNetwork
}
