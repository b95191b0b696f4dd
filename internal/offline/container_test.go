package offline

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certgen/certgen/internal/cache"
	"github.com/certgen/certgen/internal/router"
)

func newTestContainer(t *testing.T, store cache.Store, origin *fakeOrigin, version string) *Container {
	t.Helper()
	c, err := NewContainer(ContainerOptions{Site: testSite(version), Store: store, Fetcher: origin})
	require.NoError(t, err)
	t.Cleanup(c.Wait)
	return c
}

func TestContainerVersionUpgradePrunesPrevious(t *testing.T) {
	store := cache.NewMemoryStore()
	origin := newFakeOrigin()
	ctx := context.Background()

	v1 := newTestContainer(t, store, origin, "certgen-cache-v1")
	require.NoError(t, v1.Start(ctx))
	assert.Equal(t, "certgen-cache-v1", v1.Controller().Version())
	assert.Equal(t, StateActivated, v1.Controller().State())

	// 新部署：同一存储、配置版本变为 v2。
	v2 := newTestContainer(t, store, origin, "certgen-cache-v2")
	require.NoError(t, v2.Start(ctx))
	assert.Equal(t, "certgen-cache-v2", v2.Controller().Version())

	gens, err := store.Generations(ctx, "certgen")
	require.NoError(t, err)
	assert.Equal(t, []string{"certgen-cache-v2"}, gens, "no V1 entries remain after V2 activates")
}

func TestContainerKeepsPreviousControllerWhenInstallFails(t *testing.T) {
	store := cache.NewMemoryStore()
	origin := newFakeOrigin()
	ctx := context.Background()

	v1 := newTestContainer(t, store, origin, "certgen-cache-v1")
	require.NoError(t, v1.Start(ctx))

	origin.status["/Certificate-Generator/manifest.json"] = http.StatusNotFound
	v2 := newTestContainer(t, store, origin, "certgen-cache-v2")
	err := v2.Start(ctx)
	require.ErrorIs(t, err, ErrInstallAborted)

	controller := v2.Controller()
	require.NotNil(t, controller, "previous generation keeps serving")
	assert.Equal(t, "certgen-cache-v1", controller.Version())
	gens, _ := store.Generations(ctx, "certgen")
	assert.Equal(t, []string{"certgen-cache-v1"}, gens)

	status := v2.Status(ctx)
	assert.Equal(t, "certgen-cache-v2", status.ConfiguredVersion)
	assert.Equal(t, "certgen-cache-v1", status.ControllerVersion)
	assert.Contains(t, status.LastError, "install aborted")
}

func TestContainerStartReusesExistingGeneration(t *testing.T) {
	store := &countingStore{Store: cache.NewMemoryStore()}
	origin := newFakeOrigin()
	ctx := context.Background()

	first := newTestContainer(t, store, origin, "certgen-cache-v3")
	require.NoError(t, first.Start(ctx))
	calls := origin.totalCalls()

	restarted := newTestContainer(t, store, origin, "certgen-cache-v3")
	require.NoError(t, restarted.Start(ctx))
	assert.Equal(t, calls, origin.totalCalls(), "an existing generation is not reinstalled")
	assert.Equal(t, StateActivated, restarted.Controller().State())
}

func TestContainerWithoutControllerPassesThrough(t *testing.T) {
	origin := newFakeOrigin()
	c := newTestContainer(t, cache.NewMemoryStore(), origin, "certgen-cache-v3")
	assert.Nil(t, c.Current())
}

func TestTransportNeverTouchesStoreForNonGet(t *testing.T) {
	store := &countingStore{Store: cache.NewMemoryStore()}
	origin := newFakeOrigin()
	c := newTestContainer(t, store, origin, "certgen-cache-v3")
	require.NoError(t, c.Start(context.Background()))
	gets, puts := store.gets.Load(), store.puts.Load()

	baseCalls := 0
	transport := &router.Transport{
		Base: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			baseCalls++
			return &http.Response{StatusCode: http.StatusCreated, Header: http.Header{}, Body: io.NopCloser(strings.NewReader("")), Request: req}, nil
		}),
		Source: c,
	}
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodHead} {
		req, err := http.NewRequest(method, rootURL, strings.NewReader("payload"))
		require.NoError(t, err)
		resp, err := transport.RoundTrip(req)
		require.NoError(t, err)
		resp.Body.Close()
	}
	c.Wait()

	assert.Equal(t, 4, baseCalls)
	assert.Equal(t, gets, store.gets.Load(), "store must not be read for non-GET")
	assert.Equal(t, puts, store.puts.Load(), "store must not be written for non-GET")
}

func TestTransportServesFromControllingWorker(t *testing.T) {
	store := cache.NewMemoryStore()
	origin := newFakeOrigin()
	c := newTestContainer(t, store, origin, "certgen-cache-v3")
	require.NoError(t, c.Start(context.Background()))
	origin.down.Store(true)

	client := &http.Client{Transport: &router.Transport{Base: roundTripFunc(func(*http.Request) (*http.Response, error) {
		t.Fatalf("intercepted GET must not reach the base transport")
		return nil, nil
	}), Source: c}}

	req := getRequest(t, "https://certgen.github.io/Certificate-Generator/manifest.json", "")
	resp, err := client.Do(req)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"certgen"}`, readBody(t, resp))
}

func TestCheckForUpdateInstallsInBackground(t *testing.T) {
	store := cache.NewMemoryStore()
	origin := newFakeOrigin()
	origin.down.Store(true)
	c := newTestContainer(t, store, origin, "certgen-cache-v3")
	require.Error(t, c.Start(context.Background()))
	assert.Nil(t, c.Controller())

	origin.down.Store(false)
	c.mu.Lock()
	c.lastAttempt = c.lastAttempt.Add(-2 * DefaultUpdateInterval)
	c.mu.Unlock()

	c.CheckForUpdate()
	// Register 会与后台安装合并，返回时安装已完成。
	require.NoError(t, c.Register(context.Background()))
	require.NotNil(t, c.Controller())
	assert.Equal(t, "certgen-cache-v3", c.Controller().Version())
}

func TestCheckForUpdateRespectsInterval(t *testing.T) {
	origin := newFakeOrigin()
	origin.down.Store(true)
	c := newTestContainer(t, cache.NewMemoryStore(), origin, "certgen-cache-v3")
	require.Error(t, c.Start(context.Background()))
	calls := origin.totalCalls()

	c.CheckForUpdate()
	assert.Equal(t, calls, origin.totalCalls(), "update checks are rate limited")
}

func TestWorkerLifecycleTransitions(t *testing.T) {
	origin := newFakeOrigin()
	m := newTestManager(t, cache.NewMemoryStore(), origin, "certgen-cache-v3")
	w := NewWorker(m)
	assert.Equal(t, StateParsed, w.State())

	host := &recordingHost{}
	require.Error(t, w.Activate(context.Background(), host), "cannot activate before install")
	require.NoError(t, w.Install(context.Background(), host))
	assert.Equal(t, StateInstalled, w.State())
	assert.Same(t, w, host.skipped)

	require.NoError(t, w.Activate(context.Background(), host))
	assert.Equal(t, StateActivated, w.State())
	assert.Same(t, w, host.claimed)

	failing := NewWorker(newTestManager(t, cache.NewMemoryStore(), func() *fakeOrigin {
		o := newFakeOrigin()
		o.down.Store(true)
		return o
	}(), "certgen-cache-v4"))
	require.Error(t, failing.Install(context.Background(), host))
	assert.Equal(t, StateRedundant, failing.State())
}

func TestRegistrationURL(t *testing.T) {
	assert.Equal(t, "/Certificate-Generator/service-worker.js?v=4", RegistrationURL("/Certificate-Generator/", "service-worker.js", "4"))
	assert.Equal(t, "/service-worker.js", RegistrationURL("/", "service-worker.js", ""))
}

type recordingHost struct {
	skipped *Worker
	claimed *Worker
}

func (h *recordingHost) SkipWaiting(w *Worker) { h.skipped = w }
func (h *recordingHost) Claim(w *Worker)       { h.claimed = w }

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

// stallingFetcher 让指定路径的响应正文阻塞，直到 release 被关闭。
type stallingFetcher struct {
	*fakeOrigin
	path    string
	started chan struct{}
	release chan struct{}
}

type gatedReader struct {
	release <-chan struct{}
	body    io.Reader
}

func (r *gatedReader) Read(p []byte) (int, error) {
	<-r.release
	return r.body.Read(p)
}

func (f *stallingFetcher) Do(req *http.Request) (*http.Response, error) {
	if req.URL.Path != f.path {
		return f.fakeOrigin.Do(req)
	}
	close(f.started)
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/javascript"}},
		Body:       io.NopCloser(&gatedReader{release: f.release, body: strings.NewReader("slow()")}),
		Request:    req,
	}, nil
}

func TestContainerRetiredWorkerDropsInFlightWrite(t *testing.T) {
	store := cache.NewMemoryStore()
	fetcher := &stallingFetcher{
		fakeOrigin: newFakeOrigin(),
		path:       "/Certificate-Generator/slow.js",
		started:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	ctx := context.Background()

	c, err := NewContainer(ContainerOptions{Site: testSite("certgen-cache-v1"), Store: store, Fetcher: fetcher})
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))
	old := c.Controller().Manager()

	req := getRequest(t, "https://certgen.github.io/Certificate-Generator/slow.js", "")
	served := make(chan error, 1)
	go func() {
		resp, err := old.CacheFirst(req)
		if err == nil {
			resp.Body.Close()
		}
		served <- err
	}()
	<-fetcher.started

	// 新部署在旧响应仍在读取时完成安装与激活。
	c.opts.Site.CacheVersion = "certgen-cache-v2"
	require.NoError(t, c.Register(ctx))
	gens, err := store.Generations(ctx, "certgen")
	require.NoError(t, err)
	require.Equal(t, []string{"certgen-cache-v2"}, gens)

	close(fetcher.release)
	require.NoError(t, <-served)
	old.Wait()
	c.Wait()

	gens, err = store.Generations(ctx, "certgen")
	require.NoError(t, err)
	assert.Equal(t, []string{"certgen-cache-v2"}, gens, "retired generation must stay pruned")
}

func TestContainerStartAdoptsNewestLeftoverGeneration(t *testing.T) {
	store := cache.NewMemoryStore()
	origin := newFakeOrigin()
	ctx := context.Background()

	for _, version := range []string{"certgen-cache-v9", "certgen-cache-v10"} {
		m := newTestManager(t, store, origin, version)
		require.NoError(t, m.Install(ctx))
	}

	// 新版本安装失败，旧代号继续服务。
	origin.status["/Certificate-Generator/manifest.json"] = http.StatusNotFound
	c := newTestContainer(t, store, origin, "certgen-cache-v11")
	require.ErrorIs(t, c.Start(ctx), ErrInstallAborted)
	require.NotNil(t, c.Controller())
	assert.Equal(t, "certgen-cache-v10", c.Controller().Version())
}

func TestLatestGenerationUsesNaturalOrder(t *testing.T) {
	cases := []struct {
		gens []string
		want string
	}{
		{[]string{"certgen-cache-v10", "certgen-cache-v9"}, "certgen-cache-v10"},
		{[]string{"certgen-cache-v2", "certgen-cache-v3"}, "certgen-cache-v3"},
		{[]string{"a", "b"}, "b"},
		{[]string{"v1", "v1-hotfix"}, "v1-hotfix"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, latestGeneration(tc.gens), "%v", tc.gens)
	}
}
