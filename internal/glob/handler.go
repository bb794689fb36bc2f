package glob

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/hotserve/hotserve/internal/files"
	"github.com/hotserve/hotserve/internal/logging"
	"github.com/hotserve/hotserve/internal/metrics"
	"github.com/hotserve/hotserve/internal/server"
)

// 协议头。
const (
	ContentType       = "hot/glob"
	HeaderIndex       = "Content-Index"
	emptyBody         = "[]"
	maxConcurrentStat = 16
)

// Options 汇总 Handler 的依赖。
type Options struct {
	FS      files.FS
	Logger  *logrus.Logger
	Metrics *metrics.Metrics
}

// Handler 处理 POST /@hot-glob。
type Handler struct {
	fs      files.FS
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

// NewHandler constructs a glob handler.
func NewHandler(opts Options) *Handler {
	return &Handler{fs: opts.FS, logger: opts.Logger, metrics: opts.Metrics}
}

// Match 返回 names 中被 pattern 包含或与之 glob 匹配的条目，保持原顺序。
func Match(pattern string, names []string) []string {
	var matched []string
	for _, name := range names {
		if name == "" {
			continue
		}
		if strings.Contains(pattern, name) {
			matched = append(matched, name)
			continue
		}
		if ok, err := doublestar.Match(pattern, name); err == nil && ok {
			matched = append(matched, name)
		}
	}
	return matched
}

// Handle 实现 server.Handler。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	fields := logging.RequestFields("glob", c.Method(), server.RequestPath(c), server.RequestID(c))

	raw := c.Body()
	if !gjson.ValidBytes(raw) {
		return h.fail(c, fields, started, errors.New("request body is not valid JSON"))
	}
	pattern := gjson.GetBytes(raw, "pattern")
	fields["pattern"] = pattern.String()
	if pattern.Type != gjson.String || pattern.Str == "" {
		return h.sendEmpty(c, fields, started)
	}

	ctx := context.Background()
	names, err := h.fs.List(ctx)
	if err != nil {
		return h.fail(c, fields, started, err)
	}
	matched := Match(pattern.Str, names)
	if len(matched) == 0 {
		return h.sendEmpty(c, fields, started)
	}

	matched, sizes, err := h.statAll(ctx, matched)
	if err != nil {
		return h.fail(c, fields, started, err)
	}
	if len(matched) == 0 {
		return h.sendEmpty(c, fields, started)
	}

	head, err := json.Marshal(matched)
	if err != nil {
		return h.fail(c, fields, started, err)
	}
	head = append(head, '\n')

	index := make([]string, 0, len(sizes)+1)
	index = append(index, strconv.Itoa(len(head)))
	for _, size := range sizes {
		index = append(index, strconv.FormatInt(size, 10))
	}

	body := newStream(ctx, h.fs, head, matched)
	body.onOpen = func(file *files.File) {
		h.metrics.RecordGlobFile(file.Size)
	}
	body.onDone = func(written int64, complete bool, streamErr error) {
		h.logStreamDone(fields, started, written, complete, streamErr)
	}

	fields["files"] = len(matched)
	c.Set(fiber.HeaderContentType, ContentType)
	c.Set(HeaderIndex, strings.Join(index, ","))
	c.Status(fiber.StatusOK)
	return c.SendStream(body)
}

// statAll 并发获取文件大小，顺序与 names 一致；目录等不可读条目被剔除。
func (h *Handler) statAll(ctx context.Context, names []string) ([]string, []int64, error) {
	sizes := make([]int64, len(names))
	found := make([]bool, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentStat)
	for i, name := range names {
		g.Go(func() error {
			size, err := h.fs.Stat(gctx, name)
			if errors.Is(err, files.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			sizes[i] = size
			found[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	keptNames := make([]string, 0, len(names))
	keptSizes := make([]int64, 0, len(names))
	for i, name := range names {
		if found[i] {
			keptNames = append(keptNames, name)
			keptSizes = append(keptSizes, sizes[i])
		}
	}
	return keptNames, keptSizes, nil
}

func (h *Handler) sendEmpty(c fiber.Ctx, fields logrus.Fields, started time.Time) error {
	c.Set(fiber.HeaderContentType, ContentType)
	c.Set(HeaderIndex, strconv.Itoa(len(emptyBody)))
	if h.logger != nil {
		fields["files"] = 0
		fields["status"] = fiber.StatusOK
		fields["elapsed_ms"] = time.Since(started).Milliseconds()
		h.logger.WithFields(fields).Info("glob_empty")
	}
	return c.Status(fiber.StatusOK).SendString(emptyBody)
}

func (h *Handler) fail(c fiber.Ctx, fields logrus.Fields, started time.Time, err error) error {
	if h.logger != nil {
		fields["status"] = fiber.StatusInternalServerError
		fields["elapsed_ms"] = time.Since(started).Milliseconds()
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("glob_failed")
	}
	return c.Status(fiber.StatusInternalServerError).SendString(err.Error())
}

// logStreamDone 在响应体写完或被取消后调用，此时请求上下文已不可用。
func (h *Handler) logStreamDone(fields logrus.Fields, started time.Time, written int64, complete bool, err error) {
	if h.logger == nil {
		return
	}
	entry := h.logger.WithFields(fields).WithFields(logrus.Fields{
		"status":     fiber.StatusOK,
		"bytes":      written,
		"elapsed_ms": time.Since(started).Milliseconds(),
	})
	switch {
	case err != nil:
		entry.WithField("error", err.Error()).Error("glob_stream_failed")
	case !complete:
		entry.Warn("glob_stream_canceled")
	default:
		entry.Info("glob_complete")
	}
}
