package main

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/hotserve/hotserve/internal/cache"
	"github.com/hotserve/hotserve/internal/config"
	"github.com/hotserve/hotserve/internal/files"
	"github.com/hotserve/hotserve/internal/glob"
	"github.com/hotserve/hotserve/internal/metrics"
	"github.com/hotserve/hotserve/internal/notify"
	"github.com/hotserve/hotserve/internal/proxy"
	"github.com/hotserve/hotserve/internal/server"
	"github.com/hotserve/hotserve/internal/server/routes"
	"github.com/hotserve/hotserve/internal/static"
	"github.com/hotserve/hotserve/internal/watch"
)

// hotServer 持有一个根目录对应的全部运行时组件：目录监听、进程级缓存与 Fiber 应用。
type hotServer struct {
	app     *fiber.App
	hub     *watch.Hub
	watcher *watch.Watcher
	notify  *notify.Handler
	logger  *logrus.Logger
}

// buildServer 按配置组装处理器并挂载到 Dispatcher。
func buildServer(cfg *config.Config, logger *logrus.Logger) (*hotServer, error) {
	m := metrics.New()
	hub := watch.NewHub(logger)
	watcher, err := watch.Start(cfg.Root, hub, logger)
	if err != nil {
		hub.Close()
		return nil, err
	}

	dir := files.NewDir(cfg.Root)
	store := cache.NewMemoryStore(nil)
	notifyHandler := notify.NewHandler(notify.Options{
		Hub:       hub,
		Root:      watcher.Root(),
		Heartbeat: cfg.NotifyHeartbeat.DurationValue(),
		Logger:    logger,
		Metrics:   m,
	})

	app, err := server.NewApp(server.AppOptions{
		Logger:  logger,
		Metrics: m,
		Routes: server.Routes{
			Content: proxy.NewContentHandler(proxy.ContentOptions{
				Client:   server.NewUpstreamClient(cfg),
				Logger:   logger,
				Store:    store,
				Env:      cfg.Env,
				Metrics:  m,
				Coalesce: cfg.CoalesceContent,
			}),
			Glob:   glob.NewHandler(glob.Options{FS: dir, Logger: logger, Metrics: m}),
			Notify: notifyHandler,
			Index:  static.NewIndexHandler(dir, logger),
			Static: static.NewHandler(static.Options{
				FS:           dir,
				Fallback:     cfg.Fallback,
				HotModuleURL: cfg.HotModuleURL,
				Logger:       logger,
				Metrics:      m,
			}),
		},
	})
	if err != nil {
		notifyHandler.Close()
		watcher.Close()
		hub.Close()
		return nil, err
	}
	routes.RegisterDiagnostics(app, routes.DiagnosticsOptions{
		Root:    cfg.Root,
		Cache:   store,
		Watch:   hub,
		Metrics: m,
	})

	return &hotServer{
		app:     app,
		hub:     hub,
		watcher: watcher,
		notify:  notifyHandler,
		logger:  logger,
	}, nil
}

// Serve 监听 addr，直到 ctx 结束后在 timeout 内优雅关闭。
func (s *hotServer) Serve(ctx context.Context, addr string, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.WithFields(logrus.Fields{
			"action": "listen",
			"addr":   addr,
		}).Info("Fiber 服务启动")
		errCh <- s.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.WithField("action", "shutdown").Info("收到退出信号，开始关闭")
	// 先结束 SSE 长连接，否则 Shutdown 会一直等待。
	s.notify.Close()
	if err := s.app.ShutdownWithTimeout(timeout); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return <-errCh
}

// Close 释放目录监听与广播资源，可重复调用。
func (s *hotServer) Close() {
	s.notify.Close()
	if err := s.watcher.Close(); err != nil {
		s.logger.WithField("action", "shutdown").Warn("watcher_close_failed: " + err.Error())
	}
	s.hub.Close()
}
