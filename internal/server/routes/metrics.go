package routes

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"github.com/la-tribu/tribu-cache/internal/metrics"
)

// RegisterMetricsRoutes 通过 fiber adaptor 挂载 Prometheus 导出端点 /-/metrics。
func RegisterMetricsRoutes(app *fiber.App, recorder *metrics.Recorder) {
	if app == nil || recorder == nil {
		return
	}
	app.Get("/-/metrics", adaptor.HTTPHandler(recorder.Handler()))
}
