package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/certgen/certgen/internal/cache"
	"github.com/certgen/certgen/internal/config"
	"github.com/certgen/certgen/internal/export"
	"github.com/certgen/certgen/internal/logging"
	"github.com/certgen/certgen/internal/metrics"
	"github.com/certgen/certgen/internal/offline"
	"github.com/certgen/certgen/internal/proxy"
	"github.com/certgen/certgen/internal/publish"
	"github.com/certgen/certgen/internal/server"
	"github.com/certgen/certgen/internal/server/routes"
	"github.com/certgen/certgen/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath    string
	checkOnly     bool
	showVersion   bool
	publishFile   string
	certificateID string
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["sites"] = len(cfg.Sites)
		fields["site_versions"] = config.SiteVersions(cfg.Sites)
		fields["publish_enabled"] = cfg.Publish.Enabled
		fields["cache_provider"] = cfg.Global.CacheProvider
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	if opts.publishFile != "" {
		return runPublish(cfg, logger, opts)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// CLI 启动遵循“配置 → 缓存 → 站点容器 → SiteRegistry → Fiber server”顺序，
	// 保证所有请求共享统一的缓存实例与上游连接池。
	store, err := cache.NewProviderStore(cfg.Global.CacheProvider, cfg.Global.StoragePath)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存失败: %v\n", err)
		return 1
	}

	httpClient := server.NewUpstreamClient(cfg)
	recorder := metrics.Recorder{}
	registry, err := server.NewSiteRegistry(cfg, func(site config.SiteConfig) (*offline.Container, error) {
		return offline.NewContainer(offline.ContainerOptions{
			Site:     site,
			Store:    store,
			Fetcher:  httpClient,
			Logger:   logger,
			Recorder: recorder,
		})
	})
	if err != nil {
		fmt.Fprintf(stdErr, "构建站点注册表失败: %v\n", err)
		return 1
	}
	startContainers(ctx, registry, logger)

	var publishHandler fiber.Handler
	if cfg.Publish.Enabled {
		handler, err := publish.NewHandler(publish.HandlerOptions{
			Committer: publish.NewGitHubClient(cfg.Publish, httpClient),
			APIKey:    cfg.Publish.APIKey,
			TargetDir: cfg.Publish.TargetDir,
			Logger:    logger,
			Recorder:  recorder,
		})
		if err != nil {
			fmt.Fprintf(stdErr, "初始化发布接口失败: %v\n", err)
			return 1
		}
		publishHandler = handler.Handle
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["sites"] = len(cfg.Sites)
	fields["site_versions"] = config.SiteVersions(cfg.Sites)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["publish_enabled"] = cfg.Publish.Enabled
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	proxyHandler := proxy.NewForwarder(proxy.NewHandler(httpClient, logger, recorder), logger)
	if err := startHTTPServer(ctx, cfg, registry, proxyHandler, publishHandler, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// startContainers 逐个启动站点容器。安装失败不阻止服务启动：
// 容器保留旧代号（若有）或以透传模式运行，导航请求会在后台重试注册。
func startContainers(ctx context.Context, registry *server.SiteRegistry, logger *logrus.Logger) {
	for _, route := range registry.List() {
		if route.Container == nil {
			continue
		}
		site := route.Config
		if err := route.Container.Start(ctx); err != nil {
			logger.WithFields(logging.LifecycleFields(site.Name, site.CacheVersion, "start_failed")).
				WithError(err).Warn("站点离线缓存启动失败")
			continue
		}
		logger.WithFields(logging.LifecycleFields(site.Name, site.CacheVersion, "started")).Info("站点离线缓存就绪")
	}
}

// runPublish 把本地 PDF 通过发布接口提交，未指定 -id 时生成新的证书编号。
func runPublish(cfg *config.Config, logger *logrus.Logger, opts cliOptions) int {
	if cfg.Export.PublishEndpoint == "" {
		fmt.Fprintln(stdErr, "发布失败: 未配置 Export.PublishEndpoint（CERTGEN_PUBLISH_ENDPOINT）")
		return 1
	}
	pdf, err := os.ReadFile(opts.publishFile)
	if err != nil {
		fmt.Fprintf(stdErr, "读取 PDF 失败: %v\n", err)
		return 1
	}
	id := opts.certificateID
	if id == "" {
		id = export.NewCertificateID(time.Now())
	}

	uploader, err := publish.NewUploader(cfg.Export.PublishEndpoint, cfg.Export.PublishSecret, server.NewUpstreamClient(cfg))
	if err != nil {
		fmt.Fprintf(stdErr, "发布失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("publish", opts.configPath)
	fields["certificate_id"] = id
	fields["bytes"] = len(pdf)
	if err := uploader.Upload(context.Background(), id, id+".pdf", pdf); err != nil {
		logger.WithFields(fields).WithError(err).Error("publish_failed")
		fmt.Fprintf(stdErr, "发布失败: %v\n", err)
		return 1
	}
	logger.WithFields(fields).Info("publish_complete")

	site := cfg.Sites[0]
	fmt.Fprintln(stdOut, id)
	fmt.Fprintln(stdOut, export.PDFPublicURL(site.Origin, site.Scope, id))
	return 0
}

// printVersion 输出注入的版本 + 提交信息。
func printVersion() {
	fmt.Fprintln(stdOut, version.Full())
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("certgen", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag  string
		checkOnly   bool
		showVer     bool
		publishFile string
		certID      string
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 CERTGEN_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")
	fs.StringVar(&publishFile, "publish", "", "通过发布接口提交指定 PDF 后退出")
	fs.StringVar(&certID, "id", "", "发布时使用的证书编号（默认自动生成）")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}
	if certID != "" && publishFile == "" {
		return cliOptions{}, errors.New("-id 只能与 -publish 一起使用")
	}

	path := os.Getenv("CERTGEN_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:    path,
		checkOnly:     checkOnly,
		showVersion:   showVer,
		publishFile:   publishFile,
		certificateID: certID,
	}, nil
}

func startHTTPServer(
	ctx context.Context,
	cfg *config.Config,
	registry *server.SiteRegistry,
	proxyHandler server.ProxyHandler,
	publishHandler fiber.Handler,
	logger *logrus.Logger,
) error {
	port := cfg.Global.ListenPort
	publishPath := ""
	if publishHandler != nil {
		publishPath = cfg.Publish.Path
	}
	app, err := server.NewApp(server.AppOptions{
		Logger:      logger,
		Registry:    registry,
		Proxy:       proxyHandler,
		ListenPort:  port,
		PublishPath: publishPath,
	})
	if err != nil {
		return err
	}
	routes.RegisterOfflineRoutes(app, registry)
	routes.RegisterMetricsRoute(app)
	routes.RegisterPublishRoute(app, publishPath, publishHandler)

	logger.WithFields(logrus.Fields{
		"action":       "listen",
		"port":         port,
		"publish_path": publishPath,
	}).Info("Fiber 服务启动")

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.WithFields(logrus.Fields{"action": "shutdown"}).Info("收到退出信号，等待后台缓存写入")
		shutdownErr := app.Shutdown()
		registry.Wait()
		return shutdownErr
	}
}
