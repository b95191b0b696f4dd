package router

import "net/http"

// Source 返回当前控制请求的路由器；返回 nil 时请求全部透传（尚未被接管）。
type Source interface {
	Current() *Router
}

// Static 把固定的 Router 包装成 Source。
func Static(r *Router) Source {
	return staticSource{r: r}
}

type staticSource struct{ r *Router }

func (s staticSource) Current() *Router { return s.r }

// Observer 在每次请求结束后被调用，用于日志与指标。
type Observer func(req *http.Request, decision Decision, resp *http.Response, err error)

// Transport 是拦截式 RoundTripper：GET 请求交给当前策略，其余请求原样交给 Base。
type Transport struct {
	Base     http.RoundTripper
	Source   Source
	Observer Observer
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	var (
		resp     *http.Response
		decision Decision
		err      error
	)
	var current *Router
	if t.Source != nil {
		current = t.Source.Current()
	}
	if current == nil {
		decision = Decision{Class: Classify(req), Strategy: "uncontrolled"}
		resp, err = base.RoundTrip(req)
	} else {
		resp, decision, err = current.Serve(req, base)
	}

	if t.Observer != nil {
		t.Observer(req, decision, resp, err)
	}
	return resp, err
}
