package version

import (
	"fmt"
	"runtime/debug"
)

// Version/Commit 可在构建时通过 -ldflags 注入；Commit 未注入时尝试读取 VCS 构建信息。
var (
	Version = "0.1.0"
	Commit  = "dev"
)

// Full 返回便于 CLI 打印的完整版本信息。
func Full() string {
	return fmt.Sprintf("certgen %s (%s)", Version, revision())
}

// UserAgent 是回源与 GitHub 请求默认携带的 User-Agent。
func UserAgent() string {
	return "certgen/" + Version
}

func revision() string {
	if Commit != "dev" {
		return Commit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Commit
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && len(setting.Value) >= 7 {
			return setting.Value[:7]
		}
	}
	return Commit
}
