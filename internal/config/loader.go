package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// DefaultSeedAssets 是相对 Scope 的种子资源：作用域根、入口文档与 manifest。
var DefaultSeedAssets = []string{"", "index.html", "manifest.json"}

// envBindings 把部署环境中已有的变量名映射到配置键。
var envBindings = map[string]string{
	"Publish.Token":          "GITHUB_TOKEN",
	"Publish.Owner":          "GITHUB_OWNER",
	"Publish.Repo":           "GITHUB_REPO",
	"Publish.Branch":         "TARGET_BRANCH",
	"Publish.APIKey":         "API_KEY",
	"Export.VerifyBaseURL":   "CERTGEN_VERIFY_BASE_URL",
	"Export.PublishEndpoint": "CERTGEN_PUBLISH_ENDPOINT",
	"Export.PublishSecret":   "CERTGEN_PUBLISH_SECRET",
	"Export.AutoPublish":     "CERTGEN_AUTO_PUBLISH",
}

// Load 读取并解析 TOML 配置文件，同时注入默认值、环境变量覆盖与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("绑定环境变量 %s 失败: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyPublishDefaults(&cfg.Publish)
	for i := range cfg.Sites {
		applySiteDefaults(&cfg.Sites[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFormat", "json")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("CacheProvider", "disk")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("Publish.Path", "/api/upload-cert")
	v.SetDefault("Publish.Branch", "main")
	v.SetDefault("Publish.APIBaseURL", "https://api.github.com")
	v.SetDefault("Publish.TargetDir", "public/certs")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	g.LogFormat = strings.ToLower(strings.TrimSpace(g.LogFormat))
	if g.LogFormat == "" {
		g.LogFormat = "json"
	}
	g.CacheProvider = strings.ToLower(strings.TrimSpace(g.CacheProvider))
	if g.CacheProvider == "" {
		g.CacheProvider = "disk"
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
}

func applyPublishDefaults(p *PublishConfig) {
	if strings.TrimSpace(p.Branch) == "" {
		p.Branch = "main"
	}
	if p.Path == "" {
		p.Path = "/api/upload-cert"
	}
	p.APIBaseURL = strings.TrimRight(p.APIBaseURL, "/")
	if p.APIBaseURL == "" {
		p.APIBaseURL = "https://api.github.com"
	}
	p.TargetDir = strings.Trim(p.TargetDir, "/")
	if p.TargetDir == "" {
		p.TargetDir = "public/certs"
	}
}

func applySiteDefaults(s *SiteConfig) {
	s.Origin = strings.TrimRight(strings.TrimSpace(s.Origin), "/")
	scope := strings.TrimSpace(s.Scope)
	if !strings.HasPrefix(scope, "/") {
		scope = "/" + scope
	}
	if !strings.HasSuffix(scope, "/") {
		scope += "/"
	}
	s.Scope = scope
	if s.ScriptName == "" {
		s.ScriptName = "service-worker.js"
	}
	if s.SeedAssets == nil {
		s.SeedAssets = append([]string(nil), DefaultSeedAssets...)
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
