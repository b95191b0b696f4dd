package config

import (
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(testConfigPath(t, "valid.toml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.CacheProvider != "disk" {
		t.Fatalf("CacheProvider 默认应为 disk，实际 %s", cfg.Global.CacheProvider)
	}
	if cfg.Global.UpstreamTimeout.DurationValue() != 15*time.Second {
		t.Fatalf("UpstreamTimeout 解析错误: %v", cfg.Global.UpstreamTimeout.DurationValue())
	}
	if cfg.Publish.Branch != "main" || cfg.Publish.Path != "/api/upload-cert" || cfg.Publish.TargetDir != "public/certs" {
		t.Fatalf("Publish 默认值未生效: %+v", cfg.Publish)
	}
	site := cfg.Sites[0]
	if site.ScriptName != "service-worker.js" {
		t.Fatalf("ScriptName 默认值错误: %s", site.ScriptName)
	}
	seeds := site.SeedPaths()
	want := []string{"/Certificate-Generator/", "/Certificate-Generator/index.html", "/Certificate-Generator/manifest.json"}
	if len(seeds) != len(want) {
		t.Fatalf("种子数量错误: %v", seeds)
	}
	for i := range want {
		if seeds[i] != want[i] {
			t.Fatalf("种子路径 %d 期望 %s，实际 %s", i, want[i], seeds[i])
		}
	}
	if site.IndexPath() != "/Certificate-Generator/index.html" {
		t.Fatalf("IndexPath 错误: %s", site.IndexPath())
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "from-env")
	t.Setenv("TARGET_BRANCH", "gh-pages")
	t.Setenv("CERTGEN_PUBLISH_ENDPOINT", "https://edge.example.com/api/upload-cert")
	t.Setenv("CERTGEN_AUTO_PUBLISH", "true")

	cfg, err := Load(testConfigPath(t, "valid.toml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Publish.Token != "from-env" {
		t.Fatalf("GITHUB_TOKEN 应覆盖配置文件，实际 %s", cfg.Publish.Token)
	}
	if cfg.Publish.Branch != "gh-pages" {
		t.Fatalf("TARGET_BRANCH 未生效: %s", cfg.Publish.Branch)
	}
	if !cfg.Export.AutoPublish || cfg.Export.PublishEndpoint == "" {
		t.Fatalf("导出相关环境变量未生效: %+v", cfg.Export)
	}
}

func TestValidateRejectsBadSite(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("不合法的配置应返回错误")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestValidateSiteFields(t *testing.T) {
	testCases := []struct {
		name      string
		mutate    func(*SiteConfig)
		shouldErr bool
	}{
		{"ok", func(*SiteConfig) {}, false},
		{"missing version", func(s *SiteConfig) { s.CacheVersion = "" }, true},
		{"version with slash", func(s *SiteConfig) { s.CacheVersion = "../v1" }, true},
		{"origin without scheme", func(s *SiteConfig) { s.Origin = "certgen.github.io" }, true},
		{"domain with scheme", func(s *SiteConfig) { s.Domain = "https://certs.local" }, true},
		{"empty seeds", func(s *SiteConfig) { s.SeedAssets = []string{} }, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg.Sites[0])
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateRejectsDuplicateDomains(t *testing.T) {
	cfg := validConfig()
	dup := cfg.Sites[0]
	dup.Name = "mirror"
	dup.Domain = "CERTS.local"
	cfg.Sites = append(cfg.Sites, dup)
	if err := cfg.Validate(); err == nil {
		t.Fatalf("重复域名应当报错")
	}
}

func TestValidatePublishRequiresRepository(t *testing.T) {
	cfg := validConfig()
	cfg.Publish = PublishConfig{Enabled: true, Path: "/api/upload-cert", APIBaseURL: "https://api.github.com", Token: "t"}
	err := cfg.Validate()
	fieldErr, ok := err.(FieldError)
	if !ok || fieldErr.Field != "Publish.Owner" {
		t.Fatalf("缺少 Owner 时应返回 FieldError，实际 %v", err)
	}
}

func TestValidateAutoPublishNeedsEndpoint(t *testing.T) {
	cfg := validConfig()
	cfg.Export.AutoPublish = true
	if err := cfg.Validate(); err == nil {
		t.Fatalf("AutoPublish 缺少 PublishEndpoint 应报错")
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:      5000,
			StoragePath:     "./data",
			CacheProvider:   "memory",
			UpstreamTimeout: Duration(time.Second),
		},
		Sites: []SiteConfig{
			{
				Name:         "certgen",
				Domain:       "certs.local",
				Origin:       "https://certgen.github.io",
				Scope:        "/Certificate-Generator/",
				CacheVersion: "certgen-cache-v3",
				SeedAssets:   DefaultSeedAssets,
			},
		},
	}
}
