// Package metrics 定义 certgen 的 Prometheus 指标，统一使用 certgen_ 前缀。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/certgen/certgen/internal/version"
)

var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "certgen_app_info",
			Help: "Application information",
		},
		[]string{"version"},
	)

	// CacheRequestsTotal 按站点、策略与结果（hit/miss/network/fallback/error/passthrough）计数。
	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certgen_cache_requests_total",
			Help: "Intercepted requests by strategy and outcome",
		},
		[]string{"site", "strategy", "outcome"},
	)

	CacheWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certgen_cache_writes_total",
			Help: "Cache population attempts by result",
		},
		[]string{"site", "result"},
	)

	LifecycleEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certgen_lifecycle_events_total",
			Help: "Worker lifecycle transitions",
		},
		[]string{"site", "event"},
	)

	PublishRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certgen_publish_requests_total",
			Help: "Publish proxy requests by response status",
		},
		[]string{"status"},
	)
)

func init() {
	AppInfo.WithLabelValues(version.Full()).Set(1)
}

// Handler 返回默认注册表的抓取端点。
func Handler() http.Handler {
	return promhttp.Handler()
}

// Recorder 把离线层事件转成指标；零值可直接使用。
type Recorder struct{}

func (Recorder) Request(site, strategy, outcome string) {
	CacheRequestsTotal.WithLabelValues(site, strategy, outcome).Inc()
}

func (Recorder) Write(site string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	CacheWritesTotal.WithLabelValues(site, result).Inc()
}

func (Recorder) Lifecycle(site, event string) {
	LifecycleEventsTotal.WithLabelValues(site, event).Inc()
}

func (Recorder) Publish(status int) {
	PublishRequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}
