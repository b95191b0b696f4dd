package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"strings"
)

// KeyFor 把 GET 请求的绝对 URL 转成存储键：/<host>/<path>，带查询串时追加
// /__qs/<sha1>。Fragment 不参与匹配。
func KeyFor(u *url.URL) string {
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	key := "/" + strings.ToLower(u.Host) + p
	if u.RawQuery != "" {
		sum := sha1.Sum([]byte(u.RawQuery))
		key += "/__qs/" + hex.EncodeToString(sum[:])
	}
	return key
}
