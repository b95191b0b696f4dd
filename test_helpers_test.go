package main

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

var repoRoot string

func init() {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return
	}
	dir := filepath.Dir(file)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			repoRoot = dir
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

func configFixture(t *testing.T, name string) string {
	t.Helper()
	if repoRoot == "" {
		t.Fatal("无法定位项目根目录")
	}
	return filepath.Join(repoRoot, "internal", "config", "testdata", name)
}

// useBufferWriters 在测试期间把 stdOut/stdErr 换成内存 buffer。
func useBufferWriters(t *testing.T) (out, errOut *bytes.Buffer) {
	t.Helper()

	out = &bytes.Buffer{}
	errOut = &bytes.Buffer{}

	prevOut := stdOut
	prevErr := stdErr
	stdOut = out
	stdErr = errOut

	t.Cleanup(func() {
		stdOut = prevOut
		stdErr = prevErr
	})
	return out, errOut
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(file, []byte(strings.TrimSpace(content)), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return file
}
