package offline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/certgen/certgen/internal/cache"
	"github.com/certgen/certgen/internal/config"
	"github.com/certgen/certgen/internal/logging"
	"github.com/certgen/certgen/internal/router"
)

// CacheStatusHeader 标记响应来源：HIT（缓存）、MISS（网络）、FALLBACK（离线兜底）。
const CacheStatusHeader = "X-Certgen-Cache"

const (
	StrategyNetworkFirst = "network-first"
	StrategyCacheFirst   = "cache-first"
)

const (
	outcomeHit           = "hit"
	outcomeMiss          = "miss"
	outcomeNetwork       = "network"
	outcomeFallback      = "fallback"
	outcomeFallbackIndex = "fallback_index"
	outcomeError         = "error"
)

// ErrInstallAborted 表示种子资源未能全部获取或写入，本代缓存未被创建。
var ErrInstallAborted = errors.New("install aborted")

// Fetcher 执行真实的网络请求；*http.Client 满足该接口。
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// Recorder 接收策略与生命周期事件，metrics.Recorder 是默认实现。
type Recorder interface {
	Request(site, strategy, outcome string)
	Write(site string, err error)
	Lifecycle(site, event string)
}

type nopRecorder struct{}

func (nopRecorder) Request(string, string, string) {}
func (nopRecorder) Write(string, error)            {}
func (nopRecorder) Lifecycle(string, string)       {}

// Options 描述构造 Manager 所需的依赖。Version 为空时使用 Site.CacheVersion。
type Options struct {
	Site     config.SiteConfig
	Version  string
	Store    cache.Store
	Fetcher  Fetcher
	Logger   *logrus.Logger
	Recorder Recorder
}

// Manager 管理单个缓存代号：安装、激活清理与两种读取策略。
type Manager struct {
	site     string
	version  string
	origin   *url.URL
	seeds    []*url.URL
	indexURL *url.URL

	store    cache.Store
	fetcher  Fetcher
	logger   *logrus.Logger
	recorder Recorder
	writer   *cache.BackgroundWriter

	retired atomic.Bool
}

// NewManager 解析站点配置并构造 Manager。
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	version := opts.Version
	if version == "" {
		version = opts.Site.CacheVersion
	}
	if version == "" {
		return nil, errors.New("cache version is required")
	}
	origin, err := url.Parse(opts.Site.Origin)
	if err != nil || origin.Host == "" {
		return nil, fmt.Errorf("invalid origin %q", opts.Site.Origin)
	}
	origin.Path, origin.RawPath, origin.RawQuery = "", "", ""

	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}

	m := &Manager{
		site:     opts.Site.Name,
		version:  version,
		origin:   origin,
		store:    opts.Store,
		fetcher:  opts.Fetcher,
		logger:   logger,
		recorder: recorder,
	}
	for _, p := range opts.Site.SeedPaths() {
		m.seeds = append(m.seeds, m.resolve(p))
	}
	m.indexURL = m.resolve(opts.Site.IndexPath())
	m.writer = cache.NewBackgroundWriter(opts.Store,
		func(cache.Locator) { m.recorder.Write(m.site, nil) },
		func(loc cache.Locator, err error) {
			m.recorder.Write(m.site, err)
			m.logger.WithFields(logrus.Fields{
				"action":     "cache_write",
				"site":       m.site,
				"generation": loc.Generation,
				"key":        loc.Path,
			}).WithError(err).Debug("cache_write_failed")
		},
	)
	return m, nil
}

func (m *Manager) resolve(p string) *url.URL {
	u := *m.origin
	u.Path = p
	return &u
}

// Version 返回当前 Manager 所属的缓存代号。
func (m *Manager) Version() string { return m.version }

// Site 返回站点名。
func (m *Manager) Site() string { return m.site }

// Origin 返回站点源。
func (m *Manager) Origin() *url.URL {
	u := *m.origin
	return &u
}

// Router 返回已注册两种策略的路由器。
func (m *Manager) Router() *router.Router {
	r := router.New()
	r.MustRegister(router.ClassNavigation, StrategyNetworkFirst, m.NetworkFirst)
	r.MustRegister(router.ClassOtherGet, StrategyCacheFirst, m.CacheFirst)
	return r
}

// Install 并发获取全部种子资源，全部成功（2xx）后才创建本代缓存并写入。
func (m *Manager) Install(ctx context.Context) error {
	snaps := make([]*cache.Snapshot, len(m.seeds))
	g, gctx := errgroup.WithContext(ctx)
	for i, seed := range m.seeds {
		g.Go(func() error {
			snap, err := m.fetchSeed(gctx, seed)
			if err != nil {
				return fmt.Errorf("seed %s: %w", seed.Path, err)
			}
			snaps[i] = snap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: %w", ErrInstallAborted, err)
	}

	for i, seed := range m.seeds {
		if err := m.writer.Write(ctx, m.locator(seed), snaps[i]); err != nil {
			if dropErr := m.store.DropGeneration(context.WithoutCancel(ctx), m.site, m.version); dropErr != nil {
				m.logger.WithFields(logrus.Fields{"action": "install", "site": m.site}).
					WithError(dropErr).Warn("install_cleanup_failed")
			}
			return fmt.Errorf("%w: write %s: %w", ErrInstallAborted, seed.Path, err)
		}
	}
	return nil
}

func (m *Manager) fetchSeed(ctx context.Context, seed *url.URL) (*cache.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, seed.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.fetcher.Do(req)
	if err != nil {
		return nil, err
	}
	if !isOK(resp.StatusCode) {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return cache.Capture(resp)
}

// Activate 删除站点下除本代外的所有缓存代号，多个失败会合并返回。
func (m *Manager) Activate(ctx context.Context) error {
	gens, err := m.store.Generations(ctx, m.site)
	if err != nil {
		return fmt.Errorf("list generations: %w", err)
	}
	var errs []error
	for _, gen := range gens {
		if gen == m.version {
			continue
		}
		if err := m.store.DropGeneration(ctx, m.site, gen); err != nil {
			errs = append(errs, fmt.Errorf("drop %s: %w", gen, err))
			continue
		}
		m.logger.WithFields(logging.LifecycleFields(m.site, gen, "pruned")).Debug("generation_pruned")
	}
	return errors.Join(errs...)
}

// NetworkFirst 优先访问网络；仅在网络层失败时依次回退到同 URL 缓存与入口文档。
func (m *Manager) NetworkFirst(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	resp, err := m.fetcher.Do(outbound(req))
	if err == nil {
		if m.cacheable(req, resp) {
			snap, capErr := cache.Capture(resp)
			if capErr != nil {
				err = capErr
			} else {
				m.submit(ctx, req.URL, snap)
			}
		}
		if err == nil {
			setCacheStatus(resp, "MISS")
			m.recorder.Request(m.site, StrategyNetworkFirst, outcomeNetwork)
			return resp, nil
		}
	}

	if snap := m.lookup(ctx, req.URL); snap != nil {
		m.recorder.Request(m.site, StrategyNetworkFirst, outcomeFallback)
		return m.respond(req, snap, "FALLBACK"), nil
	}
	if snap := m.lookup(ctx, m.indexURL); snap != nil {
		m.recorder.Request(m.site, StrategyNetworkFirst, outcomeFallbackIndex)
		return m.respond(req, snap, "FALLBACK"), nil
	}
	m.recorder.Request(m.site, StrategyNetworkFirst, outcomeError)
	return nil, err
}

// CacheFirst 命中即返回且不访问网络；未命中时访问网络并在后台写入缓存。
// 网络失败时返回第一步的查询结果（此时必然为空），错误原样上抛。
func (m *Manager) CacheFirst(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if snap := m.lookup(ctx, req.URL); snap != nil {
		m.recorder.Request(m.site, StrategyCacheFirst, outcomeHit)
		return m.respond(req, snap, "HIT"), nil
	}

	resp, err := m.fetcher.Do(outbound(req))
	if err != nil {
		m.recorder.Request(m.site, StrategyCacheFirst, outcomeError)
		return nil, err
	}
	if m.cacheable(req, resp) {
		snap, capErr := cache.Capture(resp)
		if capErr != nil {
			m.recorder.Request(m.site, StrategyCacheFirst, outcomeError)
			return nil, capErr
		}
		m.submit(ctx, req.URL, snap)
	}
	setCacheStatus(resp, "MISS")
	m.recorder.Request(m.site, StrategyCacheFirst, outcomeMiss)
	return resp, nil
}

// Wait 等待所有后台缓存写入结束。
func (m *Manager) Wait() {
	m.writer.Wait()
}

// retire 阻止被替换的 worker 继续向旧代号写入，并等待已提交的写入落盘。
// 响应正文仍在读取中的请求会在 submit 时被写入器拒绝。
func (m *Manager) retire() {
	m.retired.Store(true)
	m.writer.Close()
}

func (m *Manager) submit(ctx context.Context, u *url.URL, snap *cache.Snapshot) {
	if !m.writer.Submit(ctx, m.locator(u), snap) {
		m.logger.WithFields(logrus.Fields{
			"action":     "cache_write",
			"site":       m.site,
			"generation": m.version,
			"url":        u.String(),
		}).Debug("cache_write_dropped_retired")
	}
}

func (m *Manager) locator(u *url.URL) cache.Locator {
	return cache.Locator{Site: m.site, Generation: m.version, Path: cache.KeyFor(u)}
}

func (m *Manager) lookup(ctx context.Context, u *url.URL) *cache.Snapshot {
	result, err := m.store.Get(ctx, m.locator(u))
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			m.logger.WithFields(logrus.Fields{
				"action": "cache_get",
				"site":   m.site,
				"url":    u.String(),
			}).WithError(err).Warn("cache_get_failed")
		}
		return nil
	}
	defer result.Reader.Close()
	snap, err := cache.DecodeSnapshot(result.Reader)
	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"action": "cache_get",
			"site":   m.site,
			"url":    u.String(),
		}).WithError(err).Warn("cache_entry_corrupt")
		return nil
	}
	return snap
}

func (m *Manager) respond(req *http.Request, snap *cache.Snapshot, status string) *http.Response {
	resp := snap.Response(req)
	setCacheStatus(resp, status)
	return resp
}

// cacheable 只允许成功且同源（请求与最终响应 URL 均与站点源一致）的响应进入缓存。
func (m *Manager) cacheable(req *http.Request, resp *http.Response) bool {
	if m.retired.Load() || !isOK(resp.StatusCode) {
		return false
	}
	if !m.sameOrigin(req.URL) {
		return false
	}
	if resp.Request != nil && resp.Request.URL != nil && !m.sameOrigin(resp.Request.URL) {
		return false
	}
	return true
}

func (m *Manager) sameOrigin(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, m.origin.Scheme) && strings.EqualFold(u.Host, m.origin.Host)
}

func outbound(req *http.Request) *http.Request {
	out := req.Clone(req.Context())
	out.RequestURI = ""
	return out
}

func setCacheStatus(resp *http.Response, status string) {
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	resp.Header.Set(CacheStatusHeader, status)
}

func isOK(code int) bool {
	return code >= 200 && code < 300
}
