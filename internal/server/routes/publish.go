package routes

import (
	"github.com/gofiber/fiber/v3"
)

// RegisterPublishRoute 挂载发布接口。所有方法都交给 handler，由它负责 CORS 预检与 405。
// path 需要与 server.AppOptions.PublishPath 一致，否则请求会先被 Host 映射拦截。
func RegisterPublishRoute(app *fiber.App, path string, handler fiber.Handler) {
	if app == nil || handler == nil || path == "" {
		return
	}
	app.All(path, handler)
}
