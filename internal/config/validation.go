package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var supportedCacheProviders = map[string]struct{}{
	"disk":   {},
	"memory": {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.LogFormat != "" && g.LogFormat != "json" && g.LogFormat != "text" {
		return newFieldError("Global.LogFormat", "仅支持 json|text")
	}
	if _, ok := supportedCacheProviders[g.CacheProvider]; !ok {
		return newFieldError("Global.CacheProvider", "仅支持 disk|memory")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}

	if err := c.Publish.validate(); err != nil {
		return err
	}
	if c.Export.PublishEndpoint != "" {
		if err := validateUpstream(c.Export.PublishEndpoint); err != nil {
			return fmt.Errorf("Export.PublishEndpoint: %w", err)
		}
	}
	if c.Export.AutoPublish && c.Export.PublishEndpoint == "" {
		return newFieldError("Export.AutoPublish", "需要同时配置 PublishEndpoint")
	}

	if len(c.Sites) == 0 {
		return errors.New("至少需要配置一个 Site")
	}

	seenNames := map[string]struct{}{}
	seenDomains := map[string]struct{}{}
	for i := range c.Sites {
		site := &c.Sites[i]
		if site.Name == "" {
			return newFieldError("Site[].Name", "不能为空")
		}
		if strings.ContainsAny(site.Name, `/\ `) || strings.Contains(site.Name, "..") {
			return newFieldError(siteField(site.Name, "Name"), "不允许包含路径分隔符或空格")
		}
		if _, exists := seenNames[site.Name]; exists {
			return newFieldError(siteField(site.Name, "Name"), "重复")
		}
		seenNames[site.Name] = struct{}{}

		if err := validateDomain(site.Domain); err != nil {
			return fmt.Errorf("%s: %w", siteField(site.Name, "Domain"), err)
		}
		domain := strings.ToLower(site.Domain)
		if _, exists := seenDomains[domain]; exists {
			return newFieldError(siteField(site.Name, "Domain"), "与其他站点重复")
		}
		seenDomains[domain] = struct{}{}

		if err := validateUpstream(site.Origin); err != nil {
			return fmt.Errorf("%s: %w", siteField(site.Name, "Origin"), err)
		}
		if strings.TrimSpace(site.CacheVersion) == "" {
			return newFieldError(siteField(site.Name, "CacheVersion"), "不能为空")
		}
		if strings.ContainsAny(site.CacheVersion, `/\`) || strings.Contains(site.CacheVersion, "..") {
			return newFieldError(siteField(site.Name, "CacheVersion"), "不允许包含路径分隔符")
		}
		if len(site.SeedAssets) == 0 {
			return newFieldError(siteField(site.Name, "SeedAssets"), "至少需要一个种子资源")
		}
	}

	return nil
}

func (p PublishConfig) validate() error {
	if !p.Enabled {
		return nil
	}
	if !strings.HasPrefix(p.Path, "/") || strings.HasPrefix(p.Path, "/-/") {
		return newFieldError("Publish.Path", "必须以 / 开头且不能占用 /-/ 诊断前缀")
	}
	if p.Owner == "" {
		return newFieldError("Publish.Owner", "启用发布时不能为空（GITHUB_OWNER）")
	}
	if p.Repo == "" {
		return newFieldError("Publish.Repo", "启用发布时不能为空（GITHUB_REPO）")
	}
	if p.Token == "" {
		return newFieldError("Publish.Token", "启用发布时不能为空（GITHUB_TOKEN）")
	}
	if err := validateUpstream(p.APIBaseURL); err != nil {
		return fmt.Errorf("Publish.APIBaseURL: %w", err)
	}
	return nil
}

func validateDomain(domain string) error {
	if domain == "" {
		return errors.New("Domain 不能为空")
	}
	if strings.Contains(domain, "/") {
		return errors.New("Domain 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Domain 不允许包含空格")
	}
	if strings.HasPrefix(domain, "http") {
		return errors.New("Domain 不应包含协议头")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
