package routes

import (
	"context"
	"sort"

	"github.com/gofiber/fiber/v3"

	"github.com/la-tribu/tribu-cache/internal/server"
	"github.com/la-tribu/tribu-cache/internal/strategy"
	"github.com/la-tribu/tribu-cache/internal/worker"
)

// StatusSource 提供 worker 注册状态，通常是 *worker.Container。
type StatusSource interface {
	Status() worker.Status
}

// BucketLister 列出当前存在的 bucket，cache.Storage 满足该接口。
type BucketLister interface {
	Keys(ctx context.Context) ([]string, error)
}

// RegisterWorkerRoutes 暴露 /-/worker 诊断接口：当前版本、生命周期状态、bucket、策略与 Origin 绑定。
func RegisterWorkerRoutes(app *fiber.App, status StatusSource, buckets BucketLister, registry *server.OriginRegistry) {
	if app == nil || status == nil {
		return
	}

	app.Get("/-/worker", func(c fiber.Ctx) error {
		payload := workerPayload{
			Status:     status.Status(),
			Strategies: encodeStrategies(strategy.List()),
			Origins:    encodeOrigins(registry.List()),
		}
		if buckets != nil {
			names, err := buckets.Keys(c.Context())
			if err != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "bucket_list_failed"})
			}
			payload.Buckets = names
		}
		if payload.Buckets == nil {
			payload.Buckets = []string{}
		}
		return c.JSON(payload)
	})
}

type workerPayload struct {
	Status     worker.Status     `json:"status"`
	Buckets    []string          `json:"buckets"`
	Strategies []strategyPayload `json:"strategies"`
	Origins    []originPayload   `json:"origins"`
}

type strategyPayload struct {
	Key         string `json:"key"`
	Description string `json:"description"`
}

type originPayload struct {
	Name     string `json:"name"`
	Domain   string `json:"domain"`
	Upstream string `json:"upstream"`
	Proxied  bool   `json:"proxied"`
	Port     int    `json:"port"`
}

func encodeStrategies(list []strategy.Metadata) []strategyPayload {
	result := make([]strategyPayload, 0, len(list))
	for _, meta := range list {
		result = append(result, strategyPayload{Key: meta.Key, Description: meta.Description})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Key < result[j].Key
	})
	return result
}

func encodeOrigins(routes []server.OriginRoute) []originPayload {
	result := make([]originPayload, 0, len(routes))
	for _, route := range routes {
		upstream := ""
		if route.UpstreamURL != nil {
			upstream = route.UpstreamURL.String()
		}
		result = append(result, originPayload{
			Name:     route.Config.Name,
			Domain:   route.Config.Domain,
			Upstream: upstream,
			Proxied:  route.ProxyURL != nil,
			Port:     route.ListenPort,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}
