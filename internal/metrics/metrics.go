// Package metrics provides Prometheus collectors for the hotserve handlers.
// Each Metrics owns its registry so several apps can live in one process.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 汇总各处理器的计数器；nil 接收者上的所有方法都是空操作。
type Metrics struct {
	registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	contentLookups  *prometheus.CounterVec
	upstreamStatus  *prometheus.CounterVec
	globFiles       prometheus.Counter
	globBytes       prometheus.Counter
	staticResponses *prometheus.CounterVec
	notifyStreams   prometheus.Gauge
	notifyEvents    *prometheus.CounterVec
}

// New 创建独立 registry 并注册全部指标以及 Go 运行时采集器。
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hotserve_request_duration_seconds",
				Help:    "Request handling duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "status"},
		),
		contentLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hotserve_content_cache_lookups_total",
				Help: "Proxy cache lookups by result",
			},
			[]string{"result"},
		),
		upstreamStatus: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hotserve_content_upstream_responses_total",
				Help: "Upstream responses by status class",
			},
			[]string{"class"},
		),
		globFiles: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hotserve_glob_files_streamed_total",
				Help: "Files opened and streamed by /@hot-glob",
			},
		),
		globBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hotserve_glob_bytes_streamed_total",
				Help: "Bytes written by /@hot-glob responses",
			},
		),
		staticResponses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hotserve_static_responses_total",
				Help: "Static responses by outcome",
			},
			[]string{"outcome"},
		),
		notifyStreams: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "hotserve_notify_streams_active",
				Help: "Currently open /@hot-notify streams",
			},
		),
		notifyEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hotserve_notify_events_total",
				Help: "Change events pushed to notify streams",
			},
			[]string{"type"},
		),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.requestDuration,
		m.contentLookups,
		m.upstreamStatus,
		m.globFiles,
		m.globBytes,
		m.staticResponses,
		m.notifyStreams,
		m.notifyEvents,
	)
	return m
}

// Handler 返回 Prometheus 文本格式的 http.Handler。
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 暴露底层 registry，供测试读取指标。
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveRequest(route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

func (m *Metrics) RecordContentLookup(result string) {
	if m == nil {
		return
	}
	m.contentLookups.WithLabelValues(result).Inc()
}

// RecordUpstreamStatus 按 2xx/4xx/5xx 归类；status 为 0 表示网络错误。
func (m *Metrics) RecordUpstreamStatus(status int) {
	if m == nil {
		return
	}
	class := "error"
	if status > 0 {
		class = strconv.Itoa(status/100) + "xx"
	}
	m.upstreamStatus.WithLabelValues(class).Inc()
}

func (m *Metrics) RecordGlobFile(size int64) {
	if m == nil {
		return
	}
	m.globFiles.Inc()
	m.globBytes.Add(float64(size))
}

func (m *Metrics) RecordStatic(outcome string) {
	if m == nil {
		return
	}
	m.staticResponses.WithLabelValues(outcome).Inc()
}

func (m *Metrics) NotifyStreamOpened() {
	if m == nil {
		return
	}
	m.notifyStreams.Inc()
}

func (m *Metrics) NotifyStreamClosed() {
	if m == nil {
		return
	}
	m.notifyStreams.Dec()
}

func (m *Metrics) RecordNotifyEvent(eventType string) {
	if m == nil {
		return
	}
	m.notifyEvents.WithLabelValues(eventType).Inc()
}
