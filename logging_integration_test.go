package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestLoggingFallbackToStdout(t *testing.T) {
	dir := t.TempDir()
	// 以普通文件作为日志目录的父级，root 权限下同样无法创建子目录。
	blocked := filepath.Join(dir, "blocked")
	if err := os.WriteFile(blocked, []byte("x"), 0o600); err != nil {
		t.Fatalf("创建占位文件失败: %v", err)
	}

	logPath := filepath.Join(blocked, "sub", "certgen.log")
	configPath := writeConfigFile(t, fmt.Sprintf(`
LogLevel = "info"
LogFilePath = "%s"
StoragePath = "%s"
ListenPort = 5000

[[Site]]
Name = "certgen"
Domain = "certs.local"
Origin = "https://certgen.github.io"
Scope = "/Certificate-Generator/"
CacheVersion = "certgen-cache-v3"
`, logPath, filepath.Join(dir, "storage")))

	out, _ := useBufferWriters(t)
	code := run(cliOptions{configPath: configPath, checkOnly: true})
	if code != 0 {
		t.Fatalf("日志 fallback 不应导致失败，得到 %d", code)
	}
	t.Log(out.String())
}
