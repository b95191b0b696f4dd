package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/certgen/certgen/internal/logging"
	"github.com/certgen/certgen/internal/offline"
	"github.com/certgen/certgen/internal/router"
	"github.com/certgen/certgen/internal/server"
)

// Recorder 统计未经缓存策略处理（透传）的请求。
type Recorder interface {
	Request(site, strategy, outcome string)
}

// Handler 把站点域名上的入站请求映射到 Origin，并交给站点容器当前的拦截器处理：
// 导航走 network-first，其余 GET 走 cache-first，非 GET 原样透传。
type Handler struct {
	base     http.RoundTripper
	logger   *logrus.Logger
	recorder Recorder
}

// NewHandler 使用共享上游 client 构造 handler。透传请求不跟随重定向，3xx 原样交给浏览器。
func NewHandler(client *http.Client, logger *logrus.Logger, recorder Recorder) *Handler {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = logging.Discard()
	}
	direct := &http.Client{
		Timeout:   client.Timeout,
		Transport: client.Transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &Handler{
		base:     clientTransport{client: direct},
		logger:   logger,
		recorder: recorder,
	}
}

// clientTransport 让透传请求复用 http.Client 的超时设置。
type clientTransport struct {
	client *http.Client
}

func (t clientTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.client.Do(req)
}

// Handle 实现 server.ProxyHandler。
func (h *Handler) Handle(c fiber.Ctx, route *server.SiteRoute) error {
	started := time.Now()
	requestID := server.RequestID(c)
	upstream := resolveUpstreamURL(route.OriginURL, c)

	req, err := buildUpstreamRequest(c, upstream, route)
	if err != nil {
		h.logResult(route, upstream.String(), requestID, router.Decision{Class: router.ClassNonGet}, nil, started, err)
		return h.writeError(c, fiber.StatusBadRequest, "invalid_request")
	}

	var decision router.Decision
	transport := &router.Transport{
		Base: h.base,
		Observer: func(_ *http.Request, d router.Decision, _ *http.Response, _ error) {
			decision = d
		},
	}
	if route.Container != nil {
		transport.Source = route.Container
		if router.Classify(req) == router.ClassNavigation {
			route.Container.CheckForUpdate()
		}
	}

	resp, err := transport.RoundTrip(req)
	if err != nil {
		h.logResult(route, upstream.String(), requestID, decision, nil, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	defer resp.Body.Close()
	if decision.Passthrough() && h.recorder != nil {
		h.recorder.Request(route.Config.Name, decision.Strategy, "passthrough")
	}

	copyResponseHeaders(c, resp.Header)
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.StatusCode)

	if c.Method() == http.MethodHead {
		h.logResult(route, upstream.String(), requestID, decision, resp, started, nil)
		return nil
	}

	_, err = io.Copy(c.Response().BodyWriter(), resp.Body)
	h.logResult(route, upstream.String(), requestID, decision, resp, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

func buildUpstreamRequest(c fiber.Ctx, upstream *url.URL, route *server.SiteRoute) (*http.Request, error) {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var body io.Reader = http.NoBody
	if c.Method() != http.MethodGet && c.Method() != http.MethodHead {
		body = bytesReader(append([]byte(nil), c.Body()...))
	}

	req, err := http.NewRequestWithContext(ctx, c.Method(), upstream.String(), body)
	if err != nil {
		return nil, err
	}

	server.CopyHeaders(req.Header, fiberHeadersAsHTTP(c))
	req.Header.Del("Accept-Encoding")
	req.Header.Del("Host")
	req.Host = upstream.Host
	req.Header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}
	req.Header.Set("X-Forwarded-Proto", c.Scheme())
	req.Header.Set("X-Forwarded-Port", routePort(route))
	return req, nil
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	route *server.SiteRoute,
	upstream string,
	requestID string,
	decision router.Decision,
	resp *http.Response,
	started time.Time,
	err error,
) {
	cacheStatus := ""
	status := 0
	if resp != nil {
		cacheStatus = resp.Header.Get(offline.CacheStatusHeader)
		status = resp.StatusCode
	}
	fields := logging.RequestFields(
		route.Config.Name,
		route.Config.Domain,
		string(decision.Class),
		decision.Strategy,
		cacheStatus == "HIT",
	)
	fields["action"] = "proxy"
	fields["upstream"] = upstream
	fields["upstream_status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if cacheStatus != "" {
		fields["cache_status"] = cacheStatus
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

func normalizeRequestPath(raw string) string {
	if raw == "" {
		raw = "/"
	}
	clean := path.Clean("/" + raw)
	// path.Clean 会去掉结尾的 /，而作用域根与目录页依赖它区分缓存键。
	if strings.HasSuffix(raw, "/") && clean != "/" {
		clean += "/"
	}
	return clean
}

func bytesReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(b)
}

func resolveUpstreamURL(base *url.URL, c fiber.Ctx) *url.URL {
	uri := c.Request().URI()
	clean := normalizeRequestPath(string(uri.Path()))
	relative := &url.URL{Path: clean}
	if query := uri.QueryString(); len(query) > 0 {
		relative.RawQuery = string(query)
	}
	return base.ResolveReference(relative)
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			c.Set(key, value)
		}
	}
}

func routePort(route *server.SiteRoute) string {
	if route == nil || route.ListenPort <= 0 {
		return "0"
	}
	return fmt.Sprintf("%d", route.ListenPort)
}
