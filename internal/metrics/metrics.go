package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookfinder_http_requests_total",
		Help: "Total number of HTTP requests served",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bookfinder_http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"path"})

	ResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookfinder_resolutions_total",
		Help: "Resolution outcomes by error kind (ok on success)",
	}, []string{"outcome"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bookfinder_stage_duration_seconds",
		Help:    "Duration of each resolution stage in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
	}, []string{"stage"})

	UpstreamFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookfinder_upstream_fetches_total",
		Help: "Upstream mirror fetches by stage and status class",
	}, []string{"stage", "status"})
)

// ObserveUpstream 记录一次上游抓取；err 非 nil 且没有拿到响应时 status 记为 "error"。
func ObserveUpstream(stage string, status int, err error) {
	UpstreamFetchesTotal.WithLabelValues(stage, StatusClass(status, err)).Inc()
}

// StatusClass 把状态码压缩为低基数标签：403 单独保留（拦截信号），其余按 Nxx 归类。
func StatusClass(status int, err error) string {
	if status == 0 {
		if err != nil {
			return "error"
		}
		return "unknown"
	}
	if status == 403 {
		return "403"
	}
	return strconv.Itoa(status/100) + "xx"
}
