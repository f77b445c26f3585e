// Package metrics 图片接口的 Prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// label 中不放请求 ID 和文件名
var (
	// HTTPRequestsTotal 按路由模板和状态码统计已完成的请求
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imageapp_http_requests_total",
		Help: "Total number of HTTP requests, by route and status code.",
	}, []string{"route", "code"})

	// HTTPRequestDuration 按路由模板统计请求耗时
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "imageapp_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds, by route.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"route"})

	// JobsTotal 按类型(remove/generate)和结果统计任务
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imageapp_jobs_total",
		Help: "Total number of worker pool jobs, by kind and result (ok/timeout/error).",
	}, []string{"kind", "result"})

	// JobsInflight 正在执行或排队的任务数
	JobsInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "imageapp_jobs_inflight",
		Help: "Current number of jobs queued or running in the worker pool.",
	})
)

const (
	JobRemove   = "remove"
	JobGenerate = "generate"

	ResultOK      = "ok"
	ResultTimeout = "timeout"
	ResultError   = "error"
)

// RecordJob 任务计数加一
func RecordJob(kind, result string) {
	JobsTotal.WithLabelValues(kind, result).Inc()
}
