// Package notify bridges the shared filesystem watch into text/event-stream
// responses. Every open stream owns exactly one watch subscription and
// releases it when the client goes away.
package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/hotserve/hotserve/internal/logging"
	"github.com/hotserve/hotserve/internal/metrics"
	"github.com/hotserve/hotserve/internal/server"
	"github.com/hotserve/hotserve/internal/watch"
)

const (
	// EventName 是每条变更事件的 SSE event 名。
	EventName = "fs-notify"

	openingComment   = ": hot notify stream\n\n"
	heartbeatComment = ": heartbeat\n\n"
	eventBuffer      = 64
	defaultHeartbeat = 10 * time.Second
)

// Options 汇总 Handler 的依赖。
type Options struct {
	Hub       *watch.Hub
	Root      string
	Heartbeat time.Duration
	Logger    *logrus.Logger
	Metrics   *metrics.Metrics
}

// Handler 处理 GET/HEAD /@hot-notify。
type Handler struct {
	hub       *watch.Hub
	root      string
	heartbeat time.Duration
	logger    *logrus.Logger
	metrics   *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHandler constructs the handler. Close 会结束所有仍在进行的流。
func NewHandler(opts Options) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	heartbeat := opts.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &Handler{
		hub:       opts.Hub,
		root:      opts.Root,
		heartbeat: heartbeat,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Close 取消所有打开的流，使其注销订阅并结束响应。
func (h *Handler) Close() {
	h.cancel()
}

// Handle 实现 server.Handler。
func (h *Handler) Handle(c fiber.Ctx) error {
	fields := logging.RequestFields("notify", c.Method(), server.RequestPath(c), server.RequestID(c))

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	if c.Method() == fiber.MethodHead {
		return c.SendStatus(fiber.StatusOK)
	}

	events := make(chan watch.Event, eventBuffer)
	ctx, cancel := context.WithCancel(h.ctx)
	dispose, err := h.hub.Subscribe(ctx, h.root, func(event watch.Event) {
		select {
		case events <- event:
		default:
			h.logDropped(fields, event)
		}
	})
	if err != nil {
		cancel()
		if h.logger != nil {
			h.logger.WithFields(fields).WithField("error", err.Error()).Error("notify_subscribe_failed")
		}
		return c.Status(fiber.StatusInternalServerError).SendString(err.Error())
	}

	h.metrics.NotifyStreamOpened()
	if h.logger != nil {
		h.logger.WithFields(fields).Info("notify_stream_opened")
	}

	c.Status(fiber.StatusOK)
	return c.SendStreamWriter(func(w *bufio.Writer) {
		started := time.Now()
		delivered := 0
		defer func() {
			dispose()
			cancel()
			h.metrics.NotifyStreamClosed()
			if h.logger != nil {
				h.logger.WithFields(fields).WithFields(logrus.Fields{
					"events":     delivered,
					"elapsed_ms": time.Since(started).Milliseconds(),
				}).Info("notify_stream_closed")
			}
		}()

		if !writeFlush(w, openingComment) {
			return
		}

		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-events:
				frame, err := encodeEvent(event)
				if err != nil {
					continue
				}
				if !writeFlush(w, frame) {
					return
				}
				delivered++
				h.metrics.RecordNotifyEvent(string(event.Type))
			case <-ticker.C:
				if !writeFlush(w, heartbeatComment) {
					return
				}
			}
		}
	})
}

// encodeEvent 生成一条 `event: fs-notify` 帧。
func encodeEvent(event watch.Event) (string, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return "", err
	}
	return "event: " + EventName + "\ndata: " + string(payload) + "\n\n", nil
}

// writeFlush 写出并立即刷新；返回 false 表示客户端已断开。
func writeFlush(w *bufio.Writer, frame string) bool {
	if _, err := w.WriteString(frame); err != nil {
		return false
	}
	return w.Flush() == nil
}

func (h *Handler) logDropped(fields logrus.Fields, event watch.Event) {
	if h.logger == nil {
		return
	}
	h.logger.WithFields(fields).WithFields(logrus.Fields{
		"type": event.Type,
		"name": event.Name,
	}).Warn("notify_event_dropped")
}
