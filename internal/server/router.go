package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ProxyHandler 负责把站点流量交给离线拦截器处理，测试中可以注入假实现。
type ProxyHandler interface {
	Handle(fiber.Ctx, *SiteRoute) error
}

// ProxyHandlerFunc adapts a function to the ProxyHandler interface.
type ProxyHandlerFunc func(fiber.Ctx, *SiteRoute) error

// Handle makes ProxyHandlerFunc satisfy ProxyHandler.
func (f ProxyHandlerFunc) Handle(c fiber.Ctx, route *SiteRoute) error {
	return f(c, route)
}

// AppOptions 描述单个监听端口上的 Fiber 应用。
type AppOptions struct {
	Logger     *logrus.Logger
	Registry   *SiteRegistry
	Proxy      ProxyHandler
	ListenPort int
	// PublishPath 不做 Host 映射，由 routes.RegisterPublishRoute 注册的 handler 处理。
	PublishPath string
}

const (
	contextKeyRoute     = "_certgen_route"
	contextKeyRequestID = "_certgen_request_id"

	headerWorkerAllowed = "Service-Worker-Allowed"
)

// NewApp 构建带请求 ID、Host 映射与 panic 恢复的 Fiber 应用。
// 诊断路径（/-/ 前缀）与发布路径交给后续注册的路由，其他请求都进入 ProxyHandler。
func NewApp(opts AppOptions) (*fiber.App, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())
	app.Use(siteLookupMiddleware(opts))

	app.All("/*", func(c fiber.Ctx) error {
		route, ok := getRouteFromContext(c)
		if !ok {
			return c.Next()
		}
		if err := opts.Proxy.Handle(c, route); err != nil {
			return err
		}
		if isWorkerScript(route, c.Path()) {
			// 注册脚本必须每次回源比对，且允许控制整个 Scope。
			c.Set(headerWorkerAllowed, route.Config.Scope)
			c.Set(fiber.HeaderCacheControl, "no-cache")
		}
		return nil
	})

	return app, nil
}

func (opts AppOptions) validate() error {
	switch {
	case opts.Logger == nil:
		return errors.New("logger is required")
	case opts.Registry == nil:
		return errors.New("site registry is required")
	case opts.Proxy == nil:
		return errors.New("proxy handler is required")
	case opts.ListenPort <= 0:
		return fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}
	return nil
}

// requestIDMiddleware 沿用上游传入的合法 X-Request-ID，否则生成新的 UUID。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := strings.TrimSpace(c.Get(fiber.HeaderXRequestID))
		if _, err := uuid.Parse(reqID); err != nil {
			reqID = uuid.NewString()
		}
		c.Locals(contextKeyRequestID, reqID)
		c.Set(fiber.HeaderXRequestID, reqID)
		return c.Next()
	}
}

// siteLookupMiddleware 基于 Host/Host:port 查找 SiteRoute，未命中直接返回 404。
func siteLookupMiddleware(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		if opts.bypass(c.Path()) {
			return c.Next()
		}

		rawHost := strings.TrimSpace(getHostHeader(c))
		route, ok := opts.Registry.Lookup(rawHost)
		if !ok {
			return renderHostUnmapped(c, opts.Logger, rawHost, opts.ListenPort)
		}

		c.Locals(contextKeyRoute, route)
		return c.Next()
	}
}

func renderHostUnmapped(c fiber.Ctx, logger *logrus.Logger, host string, port int) error {
	logger.WithFields(logrus.Fields{
		"action":     "host_lookup",
		"host":       host,
		"port":       port,
		"request_id": RequestID(c),
	}).Warn("host_unmapped")

	if host != "" {
		c.Set("X-Certgen-Host", host)
	}

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "host_unmapped",
	})
}

func getHostHeader(c fiber.Ctx) string {
	if raw := c.Request().Header.Peek(fiber.HeaderHost); len(raw) > 0 {
		return string(raw)
	}
	return c.Hostname()
}

func getRouteFromContext(c fiber.Ctx) (*SiteRoute, bool) {
	route, ok := c.Locals(contextKeyRoute).(*SiteRoute)
	return route, ok && route != nil
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	reqID, _ := c.Locals(contextKeyRequestID).(string)
	return reqID
}

func (opts AppOptions) bypass(path string) bool {
	if opts.PublishPath != "" && path == opts.PublishPath {
		return true
	}
	return strings.HasPrefix(path, "/-/")
}

func isWorkerScript(route *SiteRoute, path string) bool {
	name := route.Config.ScriptName
	return name != "" && path == route.Config.Scope+name
}
