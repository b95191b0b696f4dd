package router

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// Strategy 处理一个被拦截的 GET 请求；阻塞操作使用 req.Context()。
type Strategy func(req *http.Request) (*http.Response, error)

// Decision 是一次路由判定的结果；Handle 为 nil 表示透传。
type Decision struct {
	Class    Class
	Strategy string
	Handle   Strategy
}

// Passthrough 表示请求不经过缓存策略。
func (d Decision) Passthrough() bool {
	return d.Handle == nil
}

type route struct {
	name string
	fn   Strategy
}

// Router 保存分类到策略的映射，可被多个 goroutine 并发读取。
type Router struct {
	mu     sync.RWMutex
	routes map[Class]route
}

// ErrNotInterceptable 表示尝试为非 GET 或非 http(s) 分类注册策略。
var ErrNotInterceptable = errors.New("class cannot be intercepted")

// New 构造一个空路由器，未注册策略的分类一律透传。
func New() *Router {
	return &Router{routes: make(map[Class]route)}
}

// Register 为分类注册命名策略，重复注册会覆盖旧值。
func (r *Router) Register(class Class, name string, fn Strategy) error {
	if !class.Intercepted() {
		return fmt.Errorf("%w: %s", ErrNotInterceptable, class)
	}
	if fn == nil {
		return errors.New("strategy is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[class] = route{name: name, fn: fn}
	return nil
}

// MustRegister 与 Register 相同，但在出错时 panic，便于初始化阶段使用。
func (r *Router) MustRegister(class Class, name string, fn Strategy) {
	if err := r.Register(class, name, fn); err != nil {
		panic(err)
	}
}

// Route 对请求分类并查找策略。
func (r *Router) Route(req *http.Request) Decision {
	class := Classify(req)
	decision := Decision{Class: class, Strategy: "passthrough"}
	if !class.Intercepted() {
		return decision
	}
	r.mu.RLock()
	rt, ok := r.routes[class]
	r.mu.RUnlock()
	if ok {
		decision.Strategy = rt.name
		decision.Handle = rt.fn
	}
	return decision
}

// Serve 路由并执行请求；透传请求交给 passthrough。
func (r *Router) Serve(req *http.Request, passthrough http.RoundTripper) (*http.Response, Decision, error) {
	decision := r.Route(req)
	if decision.Passthrough() {
		if passthrough == nil {
			passthrough = http.DefaultTransport
		}
		resp, err := passthrough.RoundTrip(req)
		return resp, decision, err
	}
	resp, err := decision.Handle(req)
	return resp, decision, err
}
