package router

import (
	"context"
	"net/http"
	"strings"
)

// Class 是请求的派生分类，只在请求存活期间使用，不会被持久化。
type Class string

const (
	ClassNonGet            Class = "non-get"
	ClassUnsupportedScheme Class = "unsupported-scheme"
	ClassNavigation        Class = "navigation-html"
	ClassOtherGet          Class = "other-get"
)

// Intercepted 表示该分类是否会交给缓存策略处理。
func (c Class) Intercepted() bool {
	return c == ClassNavigation || c == ClassOtherGet
}

type navigateKey struct{}

// WithNavigate 显式把请求标记为导航请求（等价于浏览器 request.mode == "navigate"）。
func WithNavigate(ctx context.Context) context.Context {
	return context.WithValue(ctx, navigateKey{}, true)
}

func isNavigate(req *http.Request) bool {
	if v, ok := req.Context().Value(navigateKey{}).(bool); ok && v {
		return true
	}
	return strings.EqualFold(req.Header.Get("Sec-Fetch-Mode"), "navigate")
}

// Classify 按以下顺序判定：非 GET → 非 http(s) → 导航/HTML → 其它 GET。
func Classify(req *http.Request) Class {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet {
		return ClassNonGet
	}
	scheme := ""
	if req.URL != nil {
		scheme = strings.ToLower(req.URL.Scheme)
	}
	if scheme != "http" && scheme != "https" {
		return ClassUnsupportedScheme
	}
	if isNavigate(req) || strings.Contains(strings.ToLower(req.Header.Get("Accept")), "text/html") {
		return ClassNavigation
	}
	return ClassOtherGet
}
