package offline

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"strconv"
	"sync"
	"time"
	"unicode"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/certgen/certgen/internal/cache"
	"github.com/certgen/certgen/internal/config"
	"github.com/certgen/certgen/internal/logging"
	"github.com/certgen/certgen/internal/router"
)

// DefaultUpdateInterval 是两次后台更新检查之间的最小间隔。
const DefaultUpdateInterval = 30 * time.Second

// ContainerOptions 描述一个站点级宿主的依赖。
type ContainerOptions struct {
	Site           config.SiteConfig
	Store          cache.Store
	Fetcher        Fetcher
	Logger         *logrus.Logger
	Recorder       Recorder
	UpdateInterval time.Duration
}

// Container 是站点的宿主运行时：负责注册、安装、激活 worker，并对外提供当前
// 接管请求的路由器（实现 router.Source）。
type Container struct {
	opts ContainerOptions

	mu          sync.RWMutex
	controller  *Worker
	waiting     *Worker
	lastErr     error
	lastAttempt time.Time

	group singleflight.Group
	now   func() time.Time
}

// Status 是诊断接口输出的容器快照。
type Status struct {
	Site              string   `json:"site"`
	Domain            string   `json:"domain"`
	Origin            string   `json:"origin"`
	Scope             string   `json:"scope"`
	ConfiguredVersion string   `json:"configured_version"`
	ControllerVersion string   `json:"controller_version,omitempty"`
	ControllerState   State    `json:"controller_state,omitempty"`
	WaitingVersion    string   `json:"waiting_version,omitempty"`
	Generations       []string `json:"generations"`
	RegistrationURL   string   `json:"registration_url"`
	LastError         string   `json:"last_error,omitempty"`
}

// NewContainer 校验依赖并构造容器，尚未安装任何 worker。
func NewContainer(opts ContainerOptions) (*Container, error) {
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.UpdateInterval <= 0 {
		opts.UpdateInterval = DefaultUpdateInterval
	}
	return &Container{opts: opts, now: time.Now}, nil
}

// RegistrationURL 生成 worker 脚本的注册地址：<scope><script>?v=<version>。
// 脚本版本只用于绕过 HTTP 缓存，与缓存代号无关。
func RegistrationURL(scope, script, scriptVersion string) string {
	u := url.URL{Path: scope + script}
	if scriptVersion != "" {
		u.RawQuery = url.Values{"v": []string{scriptVersion}}.Encode()
	}
	return u.String()
}

// Start 恢复存储中已有的代号作为控制者，然后注册配置中的版本。
// 配置版本已存在时直接沿用并清理其余代号，不会重新安装。
func (c *Container) Start(ctx context.Context) error {
	site := c.opts.Site
	gens, err := c.opts.Store.Generations(ctx, site.Name)
	if err != nil {
		return err
	}

	if slices.Contains(gens, site.CacheVersion) {
		w, err := c.newWorker(site.CacheVersion)
		if err != nil {
			return err
		}
		w.adopt()
		c.setController(w)
		c.logLifecycle(w, "adopted")
		return w.Manager().Activate(ctx)
	}

	if len(gens) > 0 {
		// 旧代号先继续服务，直到新版本安装成功。
		w, err := c.newWorker(latestGeneration(gens))
		if err != nil {
			return err
		}
		w.adopt()
		c.setController(w)
		c.logLifecycle(w, "adopted")
	}
	return c.Register(ctx)
}

// Register 安装配置版本的新 worker；安装失败时保留原控制者，错误原样返回。
// 对同一容器的并发调用会合并为一次安装。
func (c *Container) Register(ctx context.Context) error {
	_, err, _ := c.group.Do("register", func() (interface{}, error) {
		return nil, c.register(ctx)
	})
	return err
}

func (c *Container) register(ctx context.Context) error {
	version := c.opts.Site.CacheVersion
	c.mu.Lock()
	c.lastAttempt = c.now()
	current := c.controller
	c.mu.Unlock()
	if current != nil && current.Version() == version {
		return nil
	}

	w, err := c.newWorker(version)
	if err != nil {
		return err
	}
	c.logLifecycle(w, string(StateInstalling))
	if err := w.Install(ctx, c); err != nil {
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		c.opts.Recorder.Lifecycle(c.opts.Site.Name, "install_failed")
		c.opts.Logger.WithFields(logging.LifecycleFields(c.opts.Site.Name, version, string(w.State()))).
			WithError(err).Warn("worker_install_failed")
		return err
	}
	c.logLifecycle(w, string(StateInstalled))

	c.mu.RLock()
	skip := c.waiting == w
	previous := c.controller
	c.mu.RUnlock()
	if !skip {
		// 未收到 skip-waiting 时保持等待，由下一次 Register 处理。
		return nil
	}

	if previous != nil {
		previous.retire()
		c.logLifecycle(previous, string(StateRedundant))
	}
	err = w.Activate(ctx, c)
	c.logLifecycle(w, string(StateActivated))
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	return err
}

// CheckForUpdate 在控制者版本落后于配置时于后台触发 Register，并按 UpdateInterval 限频。
func (c *Container) CheckForUpdate() {
	c.mu.RLock()
	current := c.controller
	last := c.lastAttempt
	c.mu.RUnlock()
	if current != nil && current.Version() == c.opts.Site.CacheVersion {
		return
	}
	if !last.IsZero() && c.now().Sub(last) < c.opts.UpdateInterval {
		return
	}
	c.group.DoChan("register", func() (interface{}, error) {
		return nil, c.register(context.Background())
	})
}

// SkipWaiting 实现 Host：记录请求立即激活的 worker。
func (c *Container) SkipWaiting(w *Worker) {
	c.mu.Lock()
	c.waiting = w
	c.mu.Unlock()
	c.opts.Recorder.Lifecycle(c.opts.Site.Name, "skip_waiting")
}

// Claim 实现 Host：把 worker 设为控制者。
func (c *Container) Claim(w *Worker) {
	c.mu.Lock()
	if c.waiting == w {
		c.waiting = nil
	}
	c.controller = w
	c.mu.Unlock()
	c.opts.Recorder.Lifecycle(c.opts.Site.Name, "claim")
}

// Current 实现 router.Source。
func (c *Container) Current() *router.Router {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.controller == nil {
		return nil
	}
	return c.controller.Router()
}

// Controller 返回当前控制者，可能为 nil。
func (c *Container) Controller() *Worker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.controller
}

// Site 返回容器对应的站点配置。
func (c *Container) Site() config.SiteConfig {
	return c.opts.Site
}

// Status 汇总诊断信息。
func (c *Container) Status(ctx context.Context) Status {
	site := c.opts.Site
	status := Status{
		Site:              site.Name,
		Domain:            site.Domain,
		Origin:            site.Origin,
		Scope:             site.Scope,
		ConfiguredVersion: site.CacheVersion,
		RegistrationURL:   RegistrationURL(site.Scope, site.ScriptName, site.ScriptVersion),
		Generations:       []string{},
	}
	c.mu.RLock()
	if c.controller != nil {
		status.ControllerVersion = c.controller.Version()
		status.ControllerState = c.controller.State()
	}
	if c.waiting != nil {
		status.WaitingVersion = c.waiting.Version()
	}
	if c.lastErr != nil {
		status.LastError = c.lastErr.Error()
	}
	c.mu.RUnlock()

	if gens, err := c.opts.Store.Generations(ctx, site.Name); err == nil && gens != nil {
		status.Generations = gens
	}
	return status
}

// Wait 等待控制者的后台写入结束，用于关停流程。
func (c *Container) Wait() {
	if w := c.Controller(); w != nil {
		w.Manager().Wait()
	}
}

func (c *Container) newWorker(version string) (*Worker, error) {
	m, err := NewManager(Options{
		Site:     c.opts.Site,
		Version:  version,
		Store:    c.opts.Store,
		Fetcher:  c.opts.Fetcher,
		Logger:   c.opts.Logger,
		Recorder: c.opts.Recorder,
	})
	if err != nil {
		return nil, err
	}
	return NewWorker(m), nil
}

func (c *Container) setController(w *Worker) {
	c.mu.Lock()
	c.controller = w
	c.mu.Unlock()
}

func (c *Container) logLifecycle(w *Worker, event string) {
	c.opts.Recorder.Lifecycle(c.opts.Site.Name, event)
	c.opts.Logger.WithFields(logging.LifecycleFields(c.opts.Site.Name, w.Version(), string(w.State()))).
		Info("worker_" + event)
}

// latestGeneration 按自然序选出最新代号：数字段按数值比较，v10 排在 v9 之后。
func latestGeneration(gens []string) string {
	return slices.MaxFunc(gens, compareGeneration)
}

func compareGeneration(a, b string) int {
	for a != "" && b != "" {
		ca, restA := leadingChunk(a)
		cb, restB := leadingChunk(b)
		na, errA := strconv.ParseUint(ca, 10, 64)
		nb, errB := strconv.ParseUint(cb, 10, 64)
		switch {
		case errA == nil && errB == nil && na != nb:
			if na < nb {
				return -1
			}
			return 1
		case ca != cb:
			if ca < cb {
				return -1
			}
			return 1
		}
		a, b = restA, restB
	}
	return len(a) - len(b)
}

// leadingChunk 切出开头连续的数字或非数字段。
func leadingChunk(s string) (string, string) {
	digit := unicode.IsDigit(rune(s[0]))
	i := 1
	for i < len(s) && unicode.IsDigit(rune(s[i])) == digit {
		i++
	}
	return s[:i], s[i:]
}
