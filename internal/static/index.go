package static

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/hotserve/hotserve/internal/files"
	"github.com/hotserve/hotserve/internal/logging"
	"github.com/hotserve/hotserve/internal/server"
)

// IndexHandler 处理 GET/HEAD /@hot-index，返回根目录条目名称的 JSON 数组。
type IndexHandler struct {
	fs     files.FS
	logger *logrus.Logger
}

func NewIndexHandler(fsys files.FS, logger *logrus.Logger) *IndexHandler {
	return &IndexHandler{fs: fsys, logger: logger}
}

func (h *IndexHandler) Handle(c fiber.Ctx) error {
	started := time.Now()
	fields := logging.RequestFields("index", c.Method(), server.RequestPath(c), server.RequestID(c))

	names, err := h.fs.List(context.Background())
	if err != nil {
		if h.logger != nil {
			fields["error"] = err.Error()
			h.logger.WithFields(fields).Error("index_failed")
		}
		return c.Status(fiber.StatusInternalServerError).SendString(err.Error())
	}
	if names == nil {
		names = []string{}
	}
	if h.logger != nil {
		fields["entries"] = len(names)
		fields["elapsed_ms"] = time.Since(started).Milliseconds()
		h.logger.WithFields(fields).Debug("index_complete")
	}
	return c.JSON(names)
}
