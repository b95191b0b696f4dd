package offline

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/certgen/certgen/internal/cache"
	"github.com/certgen/certgen/internal/config"
)

var errOffline = errors.New("dial tcp: network is unreachable")

// fakeOrigin 模拟站点源，按路径返回固定内容并统计调用次数。
type fakeOrigin struct {
	mu     sync.Mutex
	calls  map[string]int
	bodies map[string]string
	status map[string]int
	down   atomic.Bool
}

func newFakeOrigin() *fakeOrigin {
	return &fakeOrigin{
		calls: map[string]int{},
		bodies: map[string]string{
			"/Certificate-Generator/":              "<!doctype html><title>root</title>",
			"/Certificate-Generator/index.html":    "<!doctype html><title>index</title>",
			"/Certificate-Generator/manifest.json": `{"name":"certgen"}`,
			"/Certificate-Generator/app.js":        "console.log('app')",
			"/Certificate-Generator/verify":        "<!doctype html><title>verify</title>",
			"/font.woff2":                          "font-bytes",
		},
		status: map[string]int{},
	}
}

func (f *fakeOrigin) Do(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	f.calls[req.URL.Host+req.URL.Path]++
	body, ok := f.bodies[req.URL.Path]
	code, hasCode := f.status[req.URL.Path]
	f.mu.Unlock()

	if f.down.Load() {
		return nil, errOffline
	}
	if !hasCode {
		code = http.StatusOK
		if !ok {
			code = http.StatusNotFound
		}
	}
	contentType := "text/html; charset=utf-8"
	if strings.HasSuffix(req.URL.Path, ".js") {
		contentType = "application/javascript"
	}
	return &http.Response{
		StatusCode: code,
		Header:     http.Header{"Content-Type": []string{contentType}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}, nil
}

func (f *fakeOrigin) callCount(hostPath string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[hostPath]
}

func (f *fakeOrigin) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

// countingStore 记录对底层存储的访问，用于断言某些请求完全不触碰缓存。
type countingStore struct {
	cache.Store
	gets atomic.Int64
	puts atomic.Int64
}

func (s *countingStore) Get(ctx context.Context, l cache.Locator) (*cache.ReadResult, error) {
	s.gets.Add(1)
	return s.Store.Get(ctx, l)
}

func (s *countingStore) Put(ctx context.Context, l cache.Locator, body io.Reader, opts cache.PutOptions) (*cache.Entry, error) {
	s.puts.Add(1)
	return s.Store.Put(ctx, l, body, opts)
}

func testSite(version string) config.SiteConfig {
	return config.SiteConfig{
		Name:          "certgen",
		Domain:        "certs.local",
		Origin:        "https://certgen.github.io",
		Scope:         "/Certificate-Generator/",
		CacheVersion:  version,
		ScriptName:    "service-worker.js",
		ScriptVersion: "4",
		SeedAssets:    config.DefaultSeedAssets,
	}
}

func newTestManager(t *testing.T, store cache.Store, origin *fakeOrigin, version string) *Manager {
	t.Helper()
	m, err := NewManager(Options{Site: testSite(version), Store: store, Fetcher: origin})
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	t.Cleanup(m.Wait)
	return m
}

func getRequest(t *testing.T, rawURL, accept string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	return req
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(data)
}
