// Package static resolves request paths to files under the served root and
// streams them back. Paths without a direct match walk a fallback chain so
// pretty URLs, per-directory index pages, a custom 404 page and a SPA entry
// point all work without per-route configuration.
package static

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/hotserve/hotserve/internal/files"
	"github.com/hotserve/hotserve/internal/logging"
	"github.com/hotserve/hotserve/internal/metrics"
	"github.com/hotserve/hotserve/internal/server"
)

// 结果分类，同时用作指标标签。
const (
	OutcomeFile     = "file"
	OutcomeFallback = "fallback"
	OutcomeWorker   = "sw"
	OutcomeProbe    = "probe"
	OutcomeNotFound = "not_found"
)

// workerPath 由服务端合成，不读取磁盘。
const workerPath = "/sw.js"

// probePaths 是浏览器与爬虫的常见探测路径，未命中时直接 404，不走回退链。
var probePaths = map[string]struct{}{
	"/apple-touch-icon-precomposed.png": {},
	"/apple-touch-icon.png":             {},
	"/robots.txt":                       {},
	"/favicon.ico":                      {},
}

// Options 汇总 Handler 的依赖。
type Options struct {
	FS           files.FS
	Fallback     string
	HotModuleURL string
	Logger       *logrus.Logger
	Metrics      *metrics.Metrics
	Now          func() time.Time
}

// Handler 处理未被保留路径占用的 GET/HEAD 请求。
type Handler struct {
	fs           files.FS
	fallback     string
	hotModuleURL string
	logger       *logrus.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

// NewHandler constructs the static handler; Fallback 为空时使用 index.html。
func NewHandler(opts Options) *Handler {
	h := &Handler{
		fs:           opts.FS,
		fallback:     strings.TrimPrefix(opts.Fallback, "/"),
		hotModuleURL: opts.HotModuleURL,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		now:          opts.Now,
	}
	if h.fallback == "" {
		h.fallback = "index.html"
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// Resolution 描述一次路径解析的结果。
type Resolution struct {
	File    *files.File
	Outcome string
}

// Resolve 按顺序尝试：直接打开（路径含 "."）、<p>.html、<p>/index.html、/404.html、/<fallback>。
// /sw.js 与探测路径在回退链之前处理，此时 File 为 nil。
func (h *Handler) Resolve(ctx context.Context, requestPath string) (Resolution, error) {
	if strings.Contains(requestPath, ".") {
		file, err := h.open(ctx, requestPath)
		if err != nil {
			return Resolution{}, err
		}
		if file != nil {
			return Resolution{File: file, Outcome: OutcomeFile}, nil
		}
	}

	if requestPath == workerPath {
		return Resolution{Outcome: OutcomeWorker}, nil
	}
	if _, ok := probePaths[requestPath]; ok {
		return Resolution{Outcome: OutcomeProbe}, nil
	}

	candidates := []string{
		requestPath + ".html",
		requestPath + "/index.html",
		"/404.html",
		"/" + h.fallback,
	}
	for i, candidate := range candidates {
		file, err := h.open(ctx, candidate)
		if err != nil {
			return Resolution{}, err
		}
		if file == nil {
			continue
		}
		outcome := OutcomeFallback
		if i < 2 {
			outcome = OutcomeFile
		}
		return Resolution{File: file, Outcome: outcome}, nil
	}
	return Resolution{Outcome: OutcomeNotFound}, nil
}

// open 把“不存在”折叠为 (nil, nil)，其余错误原样返回。
func (h *Handler) open(ctx context.Context, name string) (*files.File, error) {
	file, err := h.fs.Open(ctx, name)
	if errors.Is(err, files.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return file, nil
}

// Handle 实现 server.Handler。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestPath := server.RequestPath(c)
	fields := logging.RequestFields("static", c.Method(), requestPath, server.RequestID(c))

	res, err := h.Resolve(context.Background(), requestPath)
	if err != nil {
		h.log(fields, started, fiber.StatusInternalServerError, "", err)
		return c.Status(fiber.StatusInternalServerError).SendString(err.Error())
	}
	h.metrics.RecordStatic(res.Outcome)

	switch res.Outcome {
	case OutcomeWorker:
		h.log(fields, started, fiber.StatusOK, res.Outcome, nil)
		return h.sendWorker(c)
	case OutcomeProbe:
		h.log(fields, started, fiber.StatusNotFound, res.Outcome, nil)
		return c.Status(fiber.StatusNotFound).SendString("Not found")
	case OutcomeNotFound:
		h.log(fields, started, fiber.StatusNotFound, res.Outcome, nil)
		return c.Status(fiber.StatusNotFound).SendString("Not Found")
	}

	file := res.File
	fields["file"] = file.Name
	c.Set(fiber.HeaderContentType, file.ContentType)
	if !file.LastModified.IsZero() {
		c.Set(fiber.HeaderLastModified, file.LastModified.UTC().Format(http.TimeFormat))
	}
	c.Status(fiber.StatusOK)

	if c.Method() == fiber.MethodHead {
		file.Close()
		c.Response().Header.SetContentLength(int(file.Size))
		h.log(fields, started, fiber.StatusOK, res.Outcome, nil)
		return nil
	}

	h.log(fields, started, fiber.StatusOK, res.Outcome, nil)
	return c.SendStream(file, int(file.Size))
}

// sendWorker 返回引导客户端热更新监听的 Service Worker 模块。
func (h *Handler) sendWorker(c fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "application/javascript; charset=utf-8")
	c.Set(fiber.HeaderLastModified, h.now().UTC().Format(http.TimeFormat))
	return c.Status(fiber.StatusOK).SendString(WorkerSource(h.hotModuleURL))
}

// WorkerSource 返回 /sw.js 的模块源码。
func WorkerSource(hotModuleURL string) string {
	return "import hot from " + strconv.Quote(hotModuleURL) + ";hot.listen();"
}

func (h *Handler) log(fields logrus.Fields, started time.Time, status int, outcome string, err error) {
	if h.logger == nil {
		return
	}
	fields["status"] = status
	fields["outcome"] = outcome
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("static_failed")
		return
	}
	if status >= fiber.StatusBadRequest {
		h.logger.WithFields(fields).Debug("static_not_found")
		return
	}
	h.logger.WithFields(fields).Debug("static_complete")
}
