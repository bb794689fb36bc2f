package server

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hotserve/hotserve/internal/metrics"
)

// AppOptions 描述构建 Fiber 应用所需的依赖。
type AppOptions struct {
	Logger  *logrus.Logger
	Routes  Routes
	Metrics *metrics.Metrics
}

const contextKeyRequestID = "_hotserve_request_id"

// NewApp 构建挂载请求 ID 中间件与 Dispatcher 的 Fiber 应用；诊断路由由调用方在其后注册。
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	dispatcher, err := NewDispatcher(opts.Routes, opts.Logger, opts.Metrics)
	if err != nil {
		return nil, err
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())
	app.All("/*", dispatcher.Serve)

	return app, nil
}

// requestContextMiddleware 为每个请求生成请求 ID，并写入响应头 X-Request-ID。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

// RequestPath 返回已解码、规范化后的请求路径。
func RequestPath(c fiber.Ctx) string {
	return string(c.Request().URI().Path())
}

// isDiagnosticsPath 只放行诊断路由本身；其余 /-/ 路径仍按普通文件处理。
func isDiagnosticsPath(method, path string) bool {
	if method != fiber.MethodGet && method != fiber.MethodHead {
		return false
	}
	return path == PathStatus || path == PathMetrics
}
