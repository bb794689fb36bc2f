package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/hotserve/hotserve/internal/logging"
	"github.com/hotserve/hotserve/internal/metrics"
)

// 保留路径。
const (
	PathContent = "/@hot-content"
	PathGlob    = "/@hot-glob"
	PathNotify  = "/@hot-notify"
	PathIndex   = "/@hot-index"

	PathStatus  = "/-/status"
	PathMetrics = "/-/metrics"
)

// Handler 处理 Dispatcher 分派来的一类请求，便于测试注入假实现。
type Handler interface {
	Handle(fiber.Ctx) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(fiber.Ctx) error

// Handle makes HandlerFunc satisfy Handler.
func (f HandlerFunc) Handle(c fiber.Ctx) error {
	return f(c)
}

// Routes 列出 Dispatcher 的全部目标。
type Routes struct {
	Content Handler // POST /@hot-content
	Glob    Handler // POST /@hot-glob
	Notify  Handler // GET/HEAD /@hot-notify
	Index   Handler // GET/HEAD /@hot-index
	Static  Handler // 其余 GET/HEAD
}

func (r Routes) validate() error {
	switch {
	case r.Content == nil:
		return errors.New("content handler is required")
	case r.Glob == nil:
		return errors.New("glob handler is required")
	case r.Notify == nil:
		return errors.New("notify handler is required")
	case r.Index == nil:
		return errors.New("index handler is required")
	case r.Static == nil:
		return errors.New("static handler is required")
	}
	return nil
}

// Dispatcher 按方法与路径把请求交给唯一的处理器，并拦截处理器 panic。
type Dispatcher struct {
	routes  Routes
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

// NewDispatcher 校验 Routes 并返回 Dispatcher；metrics 可以为空。
func NewDispatcher(routes Routes, logger *logrus.Logger, m *metrics.Metrics) (*Dispatcher, error) {
	if err := routes.validate(); err != nil {
		return nil, err
	}
	return &Dispatcher{routes: routes, logger: logger, metrics: m}, nil
}

// Serve 是挂在 "/*" 上的 Fiber handler。
func (d *Dispatcher) Serve(c fiber.Ctx) error {
	path := RequestPath(c)
	method := c.Method()
	if isDiagnosticsPath(method, path) {
		return c.Next()
	}

	if method == fiber.MethodPost {
		switch path {
		case PathContent:
			return d.invoke(c, "content", d.routes.Content)
		case PathGlob:
			return d.invoke(c, "glob", d.routes.Glob)
		}
	}

	if method != fiber.MethodGet && method != fiber.MethodHead {
		return c.Status(fiber.StatusMethodNotAllowed).SendString("Method not allowed")
	}

	switch path {
	case PathNotify:
		return d.invoke(c, "notify", d.routes.Notify)
	case PathIndex:
		return d.invoke(c, "index", d.routes.Index)
	default:
		return d.invoke(c, "static", d.routes.Static)
	}
}

func (d *Dispatcher) invoke(c fiber.Ctx, route string, handler Handler) (err error) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = d.respondHandlerPanic(c, route, r)
		}
		d.metrics.ObserveRequest(route, c.Response().StatusCode(), time.Since(started))
	}()
	return handler.Handle(c)
}

func (d *Dispatcher) respondHandlerPanic(c fiber.Ctx, route string, recovered interface{}) error {
	if d.logger != nil {
		fields := logging.RequestFields(route, c.Method(), RequestPath(c), RequestID(c))
		fields["error"] = "handler_panic"
		d.logger.WithFields(fields).Error(fmt.Sprintf("panic: %v", recovered))
	}
	return c.Status(fiber.StatusInternalServerError).SendString("Internal Server Error")
}
