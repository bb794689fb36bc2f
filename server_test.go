package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/hotserve/hotserve/internal/config"
)

func newTestServer(t *testing.T, files map[string]string) (*hotServer, string) {
	t.Helper()
	root := t.TempDir()
	for name, body := range files {
		full := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	cfg, err := config.Load("", config.Overrides{Root: root})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.NotifyHeartbeat = config.Duration(50 * time.Millisecond)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	srv, err := buildServer(cfg, logger)
	if err != nil {
		t.Fatalf("build server: %v", err)
	}
	t.Cleanup(srv.Close)
	return srv, cfg.Root
}

func send(t *testing.T, app *fiber.App, method, target, body string) (*http.Response, string) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, fiber.TestConfig{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	payload, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(payload)
}

func TestServerRoutesStaticAndSpecialPaths(t *testing.T) {
	srv, _ := newTestServer(t, map[string]string{
		"index.html": "<h1>home</h1>",
		"app.js":     "export default 1",
	})

	resp, body := send(t, srv.app, http.MethodGet, "/", "")
	if resp.StatusCode != fiber.StatusOK || body != "<h1>home</h1>" {
		t.Fatalf("unexpected index response %d %q", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("responses should carry a request id")
	}

	_, body = send(t, srv.app, http.MethodGet, "/sw.js", "")
	if !strings.Contains(body, "hot.listen()") {
		t.Fatalf("unexpected sw.js body %q", body)
	}

	resp, body = send(t, srv.app, http.MethodGet, "/@hot-index", "")
	var names []string
	if err := json.Unmarshal([]byte(body), &names); err != nil || len(names) != 2 {
		t.Fatalf("unexpected index %d %q", resp.StatusCode, body)
	}

	resp, body = send(t, srv.app, http.MethodPost, "/@hot-glob", `{"pattern":"*.js"}`)
	if resp.Header.Get("Content-Index") != "11,16" {
		t.Fatalf("unexpected content-index %q", resp.Header.Get("Content-Index"))
	}
	if body != "[\"app.js\"]\nexport default 1" {
		t.Fatalf("unexpected glob body %q", body)
	}
}

func TestServerRejectsOtherMethods(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	for _, tc := range []struct{ method, target string }{
		{http.MethodPut, "/index.html"},
		{http.MethodDelete, "/@hot-content"},
		{http.MethodPost, "/upload"},
	} {
		resp, body := send(t, srv.app, tc.method, tc.target, "")
		if resp.StatusCode != fiber.StatusMethodNotAllowed || body != "Method not allowed" {
			t.Fatalf("%s %s: expected 405, got %d %q", tc.method, tc.target, resp.StatusCode, body)
		}
	}
}

func TestServerContentCacheAndStatus(t *testing.T) {
	var calls int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"stars":42,"secret":"x"}`)
	}))
	defer upstream.Close()

	srv, root := newTestServer(t, nil)
	payload := `{"name":"repo","url":"` + upstream.URL + `/repos/${name}","cacheTtl":60,"omitKeys":["secret"]}`
	for i := 0; i < 2; i++ {
		resp, body := send(t, srv.app, http.MethodPost, "/@hot-content", payload)
		if resp.StatusCode != fiber.StatusOK || body != `{"stars":42}` {
			t.Fatalf("call %d: unexpected response %d %q", i, resp.StatusCode, body)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("second call should hit the cache, upstream calls = %d", got)
	}

	resp, body := send(t, srv.app, http.MethodGet, "/-/status", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status endpoint failed: %d", resp.StatusCode)
	}
	var status struct {
		Root         string `json:"root"`
		CacheEntries int    `json:"cache_entries"`
	}
	if err := json.Unmarshal([]byte(body), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Root != root || status.CacheEntries != 1 {
		t.Fatalf("unexpected status %+v", status)
	}

	_, body = send(t, srv.app, http.MethodGet, "/-/metrics", "")
	if !strings.Contains(body, `hotserve_content_cache_lookups_total{result="hit"} 1`) {
		t.Fatalf("metrics should count the cache hit:\n%s", body)
	}
}

func TestServerPushesFileChanges(t *testing.T) {
	srv, root := newTestServer(t, map[string]string{"index.html": "home"})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		_ = srv.app.Listener(listener, fiber.ListenConfig{DisableStartupMessage: true})
	}()
	t.Cleanup(func() {
		srv.notify.Close()
		_ = srv.app.ShutdownWithTimeout(time.Second)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+listener.Addr().String()+"/@hot-notify", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	if line, err := reader.ReadString('\n'); err != nil || line != ": hot notify stream\n" {
		t.Fatalf("unexpected opening line %q (%v)", line, err)
	}

	if err := os.WriteFile(filepath.Join(root, "fresh.css"), []byte("a{}"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("stream ended before the change arrived: %v", err)
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event struct {
			Type string `json:"type"`
			Name string `json:"name"`
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &event); err != nil {
			t.Fatalf("decode event %q: %v", line, err)
		}
		if event.Name == "fresh.css" && (event.Type == "create" || event.Type == "modify") {
			return
		}
	}
}
