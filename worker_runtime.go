package main

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/la-tribu/tribu-cache/internal/cache"
	"github.com/la-tribu/tribu-cache/internal/config"
	"github.com/la-tribu/tribu-cache/internal/logging"
	"github.com/la-tribu/tribu-cache/internal/metrics"
	"github.com/la-tribu/tribu-cache/internal/worker"
)

// workerRuntime 记录最近一次成功注册的配置，配置变化时注册新的 Manager。
type workerRuntime struct {
	mu      sync.Mutex
	current *config.Config

	container *worker.Container
	network   worker.Fetcher
	storage   cache.Storage
	logger    *logrus.Logger
	recorder  *metrics.Recorder
}

// start 完成首次注册；失败时网关以透传模式运行，等待下次配置变更重试。
func (r *workerRuntime) start(ctx context.Context, cfg *config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.register(ctx, cfg); err != nil {
		fields := logging.LifecycleFields(cfg.Global.CacheVersion, string(worker.StateRedundant))
		fields["action"] = "worker_register"
		r.logger.WithFields(fields).WithError(err).Error("worker_register_failed")
		return
	}
	r.current = cfg
}

// reload 是配置热加载回调：只有版本、预缓存或分类规则变化时才重新 install/activate。
func (r *workerRuntime) reload(cfg *config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fields := logging.LifecycleFields(cfg.Global.CacheVersion, string(r.container.Status().State))
	fields["action"] = "config_reload"
	if r.current != nil && !config.WorkerChanged(r.current, cfg) {
		r.logger.WithFields(fields).Info("config_reloaded")
		return
	}
	if err := r.register(context.Background(), cfg); err != nil {
		r.logger.WithFields(fields).WithError(err).Warn("worker_update_failed")
		return
	}
	r.current = cfg
	fields["worker_state"] = string(worker.StateActivated)
	r.logger.WithFields(fields).Info("worker_updated")
}

func (r *workerRuntime) register(ctx context.Context, cfg *config.Config) error {
	g := cfg.Global
	manager, err := worker.NewManager(worker.Options{
		Version:             g.CacheVersion,
		Precache:            g.Precache,
		Classifier:          worker.NewClassifier(g.StaticPathMarkers, g.StaticHosts),
		StoreErrorResponses: g.StoreErrorResponses,
	}, worker.Capabilities{Network: r.network, Caches: r.storage}, r.logger, r.recorder)
	if err != nil {
		return err
	}
	return r.container.Register(ctx, manager.Version(), manager)
}
