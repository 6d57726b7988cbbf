package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/la-tribu/tribu-cache/internal/cache"
	"github.com/la-tribu/tribu-cache/internal/config"
	"github.com/la-tribu/tribu-cache/internal/metrics"
	"github.com/la-tribu/tribu-cache/internal/prefs"
	"github.com/la-tribu/tribu-cache/internal/proxy"
	"github.com/la-tribu/tribu-cache/internal/server"
	"github.com/la-tribu/tribu-cache/internal/server/routes"
	"github.com/la-tribu/tribu-cache/internal/theme"
	"github.com/la-tribu/tribu-cache/internal/worker"
)

// sqliteCacheFile 是 StorageBackend=sqlite 时缓存库的文件名。
const sqliteCacheFile = "cache.db"

// gateway 聚合一次启动所需的全部组件，Close 释放存储句柄。
type gateway struct {
	app       *fiber.App
	storage   cache.Storage
	prefs     *prefs.Store
	container *worker.Container
	runtime   *workerRuntime
	recorder  *metrics.Recorder
}

// newGateway 构建存储、worker 与 Fiber app。初次 install 失败只记录日志，网关以透传模式继续服务。
func newGateway(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*gateway, error) {
	registry, err := server.NewOriginRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("构建 Origin 注册表失败: %w", err)
	}

	storage, err := openStorage(cfg.Global)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存存储失败: %w", err)
	}
	prefStore, err := prefs.Open(filepath.Join(cfg.Global.StoragePath, prefs.FileName))
	if err != nil {
		_ = storage.Close()
		return nil, fmt.Errorf("初始化偏好存储失败: %w", err)
	}

	recorder := metrics.NewRecorder(nil)
	network := proxy.NewNetwork(server.NewUpstreamClient(cfg), registry.List())
	container := worker.NewContainer(logger)
	runtime := &workerRuntime{
		container: container,
		network:   network,
		storage:   storage,
		logger:    logger,
		recorder:  recorder,
	}
	runtime.start(ctx, cfg)

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		Proxy:      proxy.NewHandler(network, container, logger, recorder),
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		_ = prefStore.Close()
		_ = storage.Close()
		return nil, err
	}

	routes.RegisterWorkerRoutes(app, container, storage, registry)
	routes.RegisterMetricsRoutes(app, recorder)
	routes.RegisterThemeRoutes(app, themeOptions(cfg.Global), func(ctx context.Context, clientID string) theme.Storage {
		return prefStore.Scoped(ctx, clientID, logger)
	})

	return &gateway{
		app:       app,
		storage:   storage,
		prefs:     prefStore,
		container: container,
		runtime:   runtime,
		recorder:  recorder,
	}, nil
}

// Close 关闭偏好库与缓存存储。
func (g *gateway) Close() error {
	prefErr := g.prefs.Close()
	if err := g.storage.Close(); err != nil {
		return err
	}
	return prefErr
}

// openStorage 按 StorageBackend 选择文件系统或 SQLite 缓存实现。
func openStorage(g config.GlobalConfig) (cache.Storage, error) {
	if err := os.MkdirAll(g.StoragePath, 0o755); err != nil {
		return nil, err
	}
	switch g.StorageBackend {
	case config.BackendSQLite:
		return cache.NewSQLiteStorage(filepath.Join(g.StoragePath, sqliteCacheFile))
	default:
		return cache.NewFileStorage(g.StoragePath, cache.FileOptions{Compress: g.CompressBodies})
	}
}

func themeOptions(g config.GlobalConfig) theme.Options {
	return theme.Options{
		StorageKey: g.ThemeStorageKey,
		Attribute:  g.ThemeAttribute,
		DarkIcon:   g.ThemeDarkIcon,
		LightIcon:  g.ThemeLightIcon,
	}
}
