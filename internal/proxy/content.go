package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"

	"github.com/hotserve/hotserve/internal/cache"
	"github.com/hotserve/hotserve/internal/logging"
	"github.com/hotserve/hotserve/internal/metrics"
	"github.com/hotserve/hotserve/internal/server"
)

// ContentOptions 汇总 ContentHandler 的依赖。
type ContentOptions struct {
	Client  *http.Client
	Logger  *logrus.Logger
	Store   cache.Store
	Env     map[string]string
	Metrics *metrics.Metrics
	// Coalesce 为 true 时，同名且签名一致的并发请求共享一次回源。
	Coalesce bool
}

// ContentHandler 负责 /@hot-content：模板解析 → 缓存查找 → 回源 → 键过滤 → 写缓存。
type ContentHandler struct {
	client   *http.Client
	logger   *logrus.Logger
	store    cache.Store
	resolver Resolver
	metrics  *metrics.Metrics
	flight   *singleflight.Group
}

// NewContentHandler constructs the handler; Store 为空时使用进程内 MemoryStore。
func NewContentHandler(opts ContentOptions) *ContentHandler {
	h := &ContentHandler{
		client:   opts.Client,
		logger:   opts.Logger,
		store:    opts.Store,
		resolver: NewResolver(opts.Env),
		metrics:  opts.Metrics,
	}
	if h.client == nil {
		h.client = http.DefaultClient
	}
	if h.store == nil {
		h.store = cache.NewMemoryStore(nil)
	}
	if opts.Coalesce {
		h.flight = &singleflight.Group{}
	}
	return h
}

// errInvalidRequest 表示 name/url 缺失或类型错误，响应 400。
var errInvalidRequest = errors.New("invalid request")

// contentRequest 是解析并完成模板替换后的请求。
type contentRequest struct {
	name          string
	url           string
	method        string
	body          []byte
	hasBody       bool
	headers       [][2]string
	pick          []string
	omit          []string
	ttl           time.Duration
	cacheable     bool
	signature     string
	rawPickKeys   json.RawMessage
	rawOmitKeys   json.RawMessage
	rawBodyForSig json.RawMessage
}

// upstreamResult 是一次回源的结果；ok 为 false 时 status/header/body 原样透传。
type upstreamResult struct {
	ok     bool
	status int
	header http.Header
	body   []byte
}

// Handle 实现 server.Handler。
func (h *ContentHandler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)

	req, err := h.parse(c.Body())
	if err != nil {
		if errors.Is(err, errInvalidRequest) {
			h.logResult(c, "", "", requestID, fiber.StatusBadRequest, "", started, err)
			return c.Status(fiber.StatusBadRequest).SendString("Invalid request")
		}
		h.logResult(c, "", "", requestID, fiber.StatusInternalServerError, "", started, err)
		return c.Status(fiber.StatusInternalServerError).SendString(err.Error())
	}

	value, result := h.store.Lookup(req.name, req.signature)
	h.metrics.RecordContentLookup(string(result))
	if result == cache.ResultHit {
		h.logResult(c, req.name, req.url, requestID, fiber.StatusOK, result, started, nil)
		return sendJSON(c, value)
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := h.fetch(ctx, req)
	if err != nil {
		h.logResult(c, req.name, req.url, requestID, fiber.StatusInternalServerError, result, started, err)
		return c.Status(fiber.StatusInternalServerError).SendString(err.Error())
	}
	if !res.ok {
		h.logResult(c, req.name, req.url, requestID, res.status, result, started, nil)
		server.CopyResponseHeaders(c, res.header)
		return c.Status(res.status).Send(res.body)
	}

	h.logResult(c, req.name, req.url, requestID, fiber.StatusOK, result, started, nil)
	return sendJSON(c, res.body)
}

// fetch 回源并完成键过滤与写缓存；开启合并时同一 name+签名 只执行一次。
func (h *ContentHandler) fetch(ctx context.Context, req *contentRequest) (upstreamResult, error) {
	if h.flight == nil {
		return h.fetchAndStore(ctx, req)
	}
	value, err, _ := h.flight.Do(req.name+"\x00"+req.signature, func() (interface{}, error) {
		return h.fetchAndStore(ctx, req)
	})
	if err != nil {
		return upstreamResult{}, err
	}
	return value.(upstreamResult), nil
}

func (h *ContentHandler) fetchAndStore(ctx context.Context, req *contentRequest) (upstreamResult, error) {
	res, err := h.doUpstream(ctx, req)
	if err != nil || !res.ok {
		return res, err
	}

	if !gjson.ValidBytes(res.body) {
		return upstreamResult{}, fmt.Errorf("upstream returned invalid JSON from %s", req.url)
	}
	shaped, err := Shape(res.body, req.pick, req.omit)
	if err != nil {
		return upstreamResult{}, fmt.Errorf("shape response: %w", err)
	}
	res.body = shaped

	if req.cacheable {
		if err := h.store.Put(req.name, req.signature, shaped, req.ttl); err != nil {
			return upstreamResult{}, fmt.Errorf("cache put: %w", err)
		}
	}
	return res, nil
}

func (h *ContentHandler) doUpstream(ctx context.Context, req *contentRequest) (upstreamResult, error) {
	var body io.Reader = http.NoBody
	if req.hasBody {
		body = bytes.NewReader(req.body)
	}
	upstream, err := http.NewRequestWithContext(ctx, req.method, req.url, body)
	if err != nil {
		return upstreamResult{}, err
	}
	for _, header := range req.headers {
		upstream.Header.Set(header[0], header[1])
	}

	resp, err := h.client.Do(upstream)
	if err != nil {
		h.metrics.RecordUpstreamStatus(0)
		return upstreamResult{}, err
	}
	defer resp.Body.Close()
	h.metrics.RecordUpstreamStatus(resp.StatusCode)

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return upstreamResult{}, fmt.Errorf("read upstream body: %w", err)
	}
	return upstreamResult{
		ok:     resp.StatusCode >= 200 && resp.StatusCode < 300,
		status: resp.StatusCode,
		header: resp.Header.Clone(),
		body:   payload,
	}, nil
}

// parse 校验请求体并完成模板替换与签名计算。
func (h *ContentHandler) parse(raw []byte) (*contentRequest, error) {
	if !gjson.ValidBytes(raw) {
		return nil, errors.New("request body is not valid JSON")
	}
	doc := gjson.ParseBytes(raw)
	if doc.Type == gjson.Null {
		return nil, errors.New("request body must be a JSON object")
	}

	nameField := doc.Get("name")
	urlField := doc.Get("url")
	if !isNonEmptyString(nameField) || !isNonEmptyString(urlField) {
		return nil, errInvalidRequest
	}

	req := &contentRequest{
		name:   nameField.Str,
		method: fiber.MethodGet,
	}
	req.url = h.resolver.Resolve(urlField.Str, req.name)
	if method := doc.Get("method"); isNonEmptyString(method) {
		req.method = strings.ToUpper(method.Str)
	}

	if bodyField := doc.Get("body"); bodyField.Exists() && bodyField.Type != gjson.Null {
		req.hasBody = true
		if bodyField.Type == gjson.String {
			req.body = []byte(bodyField.Str)
		} else {
			req.body = []byte(bodyField.Raw)
		}
		req.rawBodyForSig = json.RawMessage(bodyField.Raw)
	}

	req.headers = h.resolveHeaders(doc, req.name)

	req.pick, req.rawPickKeys = stringList(doc.Get("pickKeys"))
	req.omit, req.rawOmitKeys = stringList(doc.Get("omitKeys"))
	req.ttl, req.cacheable = cacheTTL(doc.Get("cacheTtl"))

	signature, err := Signature(req.url, req.method, req.rawBodyForSig, req.rawPickKeys, req.rawOmitKeys, req.headers)
	if err != nil {
		return nil, err
	}
	req.signature = signature
	return req, nil
}

// resolveHeaders 合并 headers（对象或 [k, v] 数组）与 authorization，键转为小写并排序。
func (h *ContentHandler) resolveHeaders(doc gjson.Result, name string) [][2]string {
	merged := make(map[string]string)
	add := func(key, value string) {
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			return
		}
		merged[key] = h.resolver.Resolve(value, name)
	}

	headers := doc.Get("headers")
	switch {
	case headers.IsObject():
		headers.ForEach(func(key, value gjson.Result) bool {
			add(key.String(), value.String())
			return true
		})
	case headers.IsArray():
		headers.ForEach(func(_, pair gjson.Result) bool {
			if items := pair.Array(); len(items) == 2 {
				add(items[0].String(), items[1].String())
			}
			return true
		})
	}

	if auth := doc.Get("authorization"); isNonEmptyString(auth) {
		add("authorization", auth.Str)
	}

	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	pairs := make([][2]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, [2]string{key, merged[key]})
	}
	return pairs
}

// stringList 返回数组中的字符串元素以及原始 JSON；非数组视为未设置。
func stringList(field gjson.Result) ([]string, json.RawMessage) {
	if !field.Exists() {
		return nil, nil
	}
	raw := json.RawMessage(field.Raw)
	if !field.IsArray() {
		return nil, raw
	}
	var out []string
	for _, item := range field.Array() {
		if item.Type == gjson.String {
			out = append(out, item.Str)
		}
	}
	return out, raw
}

// cacheTTL 仅接受非负整数秒。
func cacheTTL(field gjson.Result) (time.Duration, bool) {
	if field.Type != gjson.Number {
		return 0, false
	}
	seconds := field.Num
	if seconds < 0 || seconds != math.Trunc(seconds) || seconds > math.MaxInt64/float64(time.Second) {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}

func isNonEmptyString(field gjson.Result) bool {
	return field.Type == gjson.String && field.Str != ""
}

func sendJSON(c fiber.Ctx, value []byte) error {
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(fiber.StatusOK).Send(value)
}

func (h *ContentHandler) logResult(
	c fiber.Ctx,
	name string,
	upstream string,
	requestID string,
	status int,
	lookup cache.Result,
	started time.Time,
	err error,
) {
	if h.logger == nil {
		return
	}
	fields := logging.RequestFields("content", c.Method(), server.RequestPath(c), requestID)
	fields["name"] = name
	fields["upstream"] = upstream
	fields["status"] = status
	fields["cache"] = string(lookup)
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("content_failed")
		return
	}
	h.logger.WithFields(fields).Info("content_complete")
}
