package routes

import (
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"github.com/hotserve/hotserve/internal/metrics"
	"github.com/hotserve/hotserve/internal/server"
	"github.com/hotserve/hotserve/internal/version"
)

// Counter 由缓存与订阅注册表实现，仅用于诊断输出。
type Counter interface {
	Len() int
}

// SubscriberCounter 报告当前打开的变更通知订阅数。
type SubscriberCounter interface {
	Subscribers() int
}

// DiagnosticsOptions 描述 /-/ 诊断接口需要读取的运行时状态。
type DiagnosticsOptions struct {
	Root    string
	Cache   Counter
	Watch   SubscriberCounter
	Metrics *metrics.Metrics
	Started time.Time
}

type statusPayload struct {
	Version           string `json:"version"`
	Root              string `json:"root"`
	CacheEntries      int    `json:"cache_entries"`
	NotifySubscribers int    `json:"notify_subscribers"`
	UptimeSeconds     int64  `json:"uptime_seconds"`
}

// RegisterDiagnostics 暴露 /-/status 与 /-/metrics；需在 server.NewApp 之后调用。
func RegisterDiagnostics(app *fiber.App, opts DiagnosticsOptions) {
	if app == nil {
		return
	}
	if opts.Started.IsZero() {
		opts.Started = time.Now()
	}

	app.Get(server.PathStatus, func(c fiber.Ctx) error {
		return c.JSON(buildStatus(opts, time.Now()))
	})

	app.Get(server.PathMetrics, adaptor.HTTPHandler(opts.Metrics.Handler()))
}

func buildStatus(opts DiagnosticsOptions, now time.Time) statusPayload {
	payload := statusPayload{
		Version:       version.Full(),
		Root:          opts.Root,
		UptimeSeconds: int64(now.Sub(opts.Started).Seconds()),
	}
	if opts.Cache != nil {
		payload.CacheEntries = opts.Cache.Len()
	}
	if opts.Watch != nil {
		payload.NotifySubscribers = opts.Watch.Subscribers()
	}
	return payload
}
