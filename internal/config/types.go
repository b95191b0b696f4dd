package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// GlobalConfig 描述全局运行时行为，所有站点共享同一份参数。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFormat       string   `mapstructure:"LogFormat"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	CacheProvider   string   `mapstructure:"CacheProvider"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
}

// ExportConfig 是证书导出管线在客户端侧读取的参数。
type ExportConfig struct {
	VerifyBaseURL   string `mapstructure:"VerifyBaseURL"`
	PublishEndpoint string `mapstructure:"PublishEndpoint"`
	PublishSecret   string `mapstructure:"PublishSecret"`
	AutoPublish     bool   `mapstructure:"AutoPublish"`
}

// PublishConfig 控制发布代理（把 PDF 提交到 GitHub 仓库）。
type PublishConfig struct {
	Enabled    bool   `mapstructure:"Enabled"`
	Path       string `mapstructure:"Path"`
	Owner      string `mapstructure:"Owner"`
	Repo       string `mapstructure:"Repo"`
	Branch     string `mapstructure:"Branch"`
	Token      string `mapstructure:"Token"`
	APIKey     string `mapstructure:"APIKey"`
	APIBaseURL string `mapstructure:"APIBaseURL"`
	TargetDir  string `mapstructure:"TargetDir"`
}

// SiteConfig 描述一个被离线缓存接管的静态站点。
type SiteConfig struct {
	Name          string   `mapstructure:"Name"`
	Domain        string   `mapstructure:"Domain"`
	Origin        string   `mapstructure:"Origin"`
	Scope         string   `mapstructure:"Scope"`
	CacheVersion  string   `mapstructure:"CacheVersion"`
	ScriptName    string   `mapstructure:"ScriptName"`
	ScriptVersion string   `mapstructure:"ScriptVersion"`
	SeedAssets    []string `mapstructure:"SeedAssets"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global  GlobalConfig  `mapstructure:",squash"`
	Export  ExportConfig  `mapstructure:"Export"`
	Publish PublishConfig `mapstructure:"Publish"`
	Sites   []SiteConfig  `mapstructure:"Site"`
}

// SeedPaths 返回种子资源的绝对路径（已拼接 Scope）。
func (s SiteConfig) SeedPaths() []string {
	paths := make([]string, 0, len(s.SeedAssets))
	for _, asset := range s.SeedAssets {
		paths = append(paths, s.Scope+strings.TrimPrefix(asset, "/"))
	}
	return paths
}

// IndexPath 是导航请求离线时的兜底文档。
func (s SiteConfig) IndexPath() string {
	return s.Scope + "index.html"
}

// SiteVersions 返回所有站点的缓存代号摘要，例如 certgen:certgen-cache-v3。
func SiteVersions(sites []SiteConfig) []string {
	if len(sites) == 0 {
		return nil
	}
	result := make([]string, len(sites))
	for i, site := range sites {
		result[i] = fmt.Sprintf("%s:%s", site.Name, site.CacheVersion)
	}
	return result
}
