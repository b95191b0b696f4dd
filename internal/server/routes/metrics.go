package routes

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"github.com/certgen/certgen/internal/metrics"
)

// RegisterMetricsRoute 在 /-/metrics 暴露 Prometheus 抓取端点。
func RegisterMetricsRoute(app *fiber.App) {
	if app == nil {
		return
	}
	app.Get("/-/metrics", adaptor.HTTPHandler(metrics.Handler()))
}
