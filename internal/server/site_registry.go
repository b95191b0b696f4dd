package server

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/certgen/certgen/internal/config"
	"github.com/certgen/certgen/internal/offline"
)

// SiteRoute 将站点配置与派生属性（解析后的 Origin、离线容器）聚合在一起，
// 供路由/代理层直接复用，避免重复解析配置。
type SiteRoute struct {
	// Config 是 config.toml 中声明的站点字段副本。
	Config config.SiteConfig
	// ListenPort 记录当前 CLI 监听端口，方便日志/转发头输出。
	ListenPort int
	// OriginURL 在构造 Registry 时提前解析完成。
	OriginURL *url.URL
	// Container 接管该站点的请求；为 nil 时请求直接透传到 Origin。
	Container *offline.Container
}

// ContainerFactory 为站点创建离线容器，由启动流程注入。
type ContainerFactory func(site config.SiteConfig) (*offline.Container, error)

// SiteRegistry 提供 Host/Host:port 到 SiteRoute 的查询能力，所有站点共享同一个监听端口。
type SiteRegistry struct {
	routes  map[string]*SiteRoute
	ordered []*SiteRoute
}

// NewSiteRegistry 根据配置构建 Host 映射。factory 为 nil 时站点不启用离线接管。
func NewSiteRegistry(cfg *config.Config, factory ContainerFactory) (*SiteRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	registry := &SiteRegistry{
		routes: make(map[string]*SiteRoute, len(cfg.Sites)),
	}

	for _, site := range cfg.Sites {
		normalizedHost := normalizeDomain(site.Domain)
		if normalizedHost == "" {
			return nil, fmt.Errorf("invalid domain for site %s", site.Name)
		}
		if _, exists := registry.routes[normalizedHost]; exists {
			return nil, fmt.Errorf("duplicate domain mapping detected for %s", normalizedHost)
		}

		originURL, err := url.Parse(site.Origin)
		if err != nil {
			return nil, fmt.Errorf("invalid origin for site %s: %w", site.Name, err)
		}

		route := &SiteRoute{
			Config:     site,
			ListenPort: cfg.Global.ListenPort,
			OriginURL:  originURL,
		}
		if factory != nil {
			container, err := factory(site)
			if err != nil {
				return nil, fmt.Errorf("site %s: %w", site.Name, err)
			}
			route.Container = container
		}

		registry.routes[normalizedHost] = route
		registry.ordered = append(registry.ordered, route)
	}

	return registry, nil
}

// Lookup 根据 Host 或 Host:port 查找 SiteRoute。
func (r *SiteRegistry) Lookup(host string) (*SiteRoute, bool) {
	if r == nil {
		return nil, false
	}

	normalizedHost, _ := normalizeHost(host)
	if normalizedHost == "" {
		return nil, false
	}

	route, ok := r.routes[normalizedHost]
	return route, ok
}

// List 返回按配置顺序排列的站点，用于诊断输出与启动流程。
func (r *SiteRegistry) List() []*SiteRoute {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}
	return append([]*SiteRoute(nil), r.ordered...)
}

// Wait 等待所有站点的后台写入结束，用于优雅退出。
func (r *SiteRegistry) Wait() {
	for _, route := range r.List() {
		if route.Container != nil {
			route.Container.Wait()
		}
	}
}

func normalizeDomain(domain string) string {
	host, _ := normalizeHost(domain)
	return host
}

func normalizeHost(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0

	if strings.Contains(raw, ":") {
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			if parsedPort, err := strconv.Atoi(p); err == nil {
				port = parsedPort
			}
		} else if idx := strings.LastIndex(raw, ":"); idx > -1 && strings.Count(raw[idx+1:], ":") == 0 {
			if parsedPort, err := strconv.Atoi(raw[idx+1:]); err == nil {
				host = raw[:idx]
				port = parsedPort
			}
		}
	}

	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	return host, port
}
