package config

import (
	"os"
	"path/filepath"
	"testing"
)

// siteBlock 是多数加载用例共用的最小站点定义。
const siteBlock = `
[[Site]]
Name = "certgen"
Domain = "certs.local"
Origin = "https://certgen.github.io"
CacheVersion = "certgen-cache-v3"
`

func testConfigPath(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join("testdata", name)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("缺少测试夹具 %s: %v", name, err)
	}
	return path
}

// writeTempConfig 把 TOML 内容写入临时目录，StoragePath 也落在同一临时目录下。
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}
