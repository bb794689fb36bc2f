package notify

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/hotserve/hotserve/internal/watch"
)

const testRoot = "/site"

type notifyServer struct {
	app     *fiber.App
	hub     *watch.Hub
	handler *Handler
	baseURL string
}

func startNotifyServer(t *testing.T, heartbeat time.Duration) *notifyServer {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	hub := watch.NewHub(logger)
	handler := NewHandler(Options{Hub: hub, Root: testRoot, Heartbeat: heartbeat, Logger: logger})
	app := fiber.New()
	app.Get("/@hot-notify", handler.Handle)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		_ = app.Listener(listener, fiber.ListenConfig{DisableStartupMessage: true})
	}()

	t.Cleanup(func() {
		handler.Close()
		_ = app.ShutdownWithTimeout(time.Second)
		hub.Close()
	})
	return &notifyServer{
		app:     app,
		hub:     hub,
		handler: handler,
		baseURL: "http://" + listener.Addr().String(),
	}
}

// openStream 建立 SSE 连接并读取开场注释；返回后订阅已经生效。
func (s *notifyServer) openStream(t *testing.T) (*http.Response, *bufio.Reader) {
	t.Helper()
	var (
		resp *http.Response
		err  error
	)
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err = http.Get(s.baseURL + "/@hot-notify")
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		resp.Body.Close()
		t.Fatalf("unexpected content-type %q", ct)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-cache" {
		resp.Body.Close()
		t.Fatalf("unexpected cache-control %q", cc)
	}
	reader := bufio.NewReader(resp.Body)
	if line := readLine(t, reader); line != ": hot notify stream" {
		resp.Body.Close()
		t.Fatalf("unexpected opening line %q", line)
	}
	if line := readLine(t, reader); line != "" {
		resp.Body.Close()
		t.Fatalf("opening comment should end with a blank line, got %q", line)
	}
	return resp, reader
}

func readLine(t *testing.T, reader *bufio.Reader) string {
	t.Helper()
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := reader.ReadString('\n')
		ch <- result{strings.TrimRight(line, "\n"), err}
	}()
	select {
	case res := <-ch:
		if res.err != nil {
			t.Fatalf("read stream: %v", res.err)
		}
		return res.line
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out reading stream")
		return ""
	}
}

// readEvent 跳过心跳注释，返回下一条事件的 event 与 data 行。
func readEvent(t *testing.T, reader *bufio.Reader) (string, string) {
	t.Helper()
	for {
		line := readLine(t, reader)
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data := readLine(t, reader)
		if blank := readLine(t, reader); blank != "" {
			t.Fatalf("event must end with a blank line, got %q", blank)
		}
		return line, data
	}
}

func waitSubscribers(t *testing.T, hub *watch.Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for hub.Subscribers() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, got %d", want, hub.Subscribers())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNotifyStreamDeliversEventToEveryStream(t *testing.T) {
	srv := startNotifyServer(t, time.Minute)

	firstResp, first := srv.openStream(t)
	defer firstResp.Body.Close()
	secondResp, second := srv.openStream(t)
	defer secondResp.Body.Close()
	waitSubscribers(t, srv.hub, 2)

	if err := srv.hub.Publish(testRoot, watch.Event{Type: watch.EventModify, Name: "x.txt"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for i, reader := range []*bufio.Reader{first, second} {
		event, data := readEvent(t, reader)
		if event != "event: fs-notify" {
			t.Fatalf("stream %d: unexpected event line %q", i, event)
		}
		if data != `data: {"type":"modify","name":"x.txt"}` {
			t.Fatalf("stream %d: unexpected data line %q", i, data)
		}
	}
}

func TestNotifyStreamUnsubscribesOnDisconnect(t *testing.T) {
	srv := startNotifyServer(t, 20*time.Millisecond)

	resp, reader := srv.openStream(t)
	waitSubscribers(t, srv.hub, 1)
	readLine(t, reader)
	resp.Body.Close()

	waitSubscribers(t, srv.hub, 0)

	laterResp, later := srv.openStream(t)
	defer laterResp.Body.Close()
	waitSubscribers(t, srv.hub, 1)

	if err := srv.hub.Publish(testRoot, watch.Event{Type: watch.EventCreate, Name: "new.js"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	event, data := readEvent(t, later)
	if event != "event: fs-notify" || data != `data: {"type":"create","name":"new.js"}` {
		t.Fatalf("unexpected frame %q / %q", event, data)
	}
}

func TestNotifyCloseEndsOpenStreams(t *testing.T) {
	srv := startNotifyServer(t, time.Minute)

	resp, _ := srv.openStream(t)
	defer resp.Body.Close()
	waitSubscribers(t, srv.hub, 1)

	srv.handler.Close()
	waitSubscribers(t, srv.hub, 0)
}

func TestEncodeEventFraming(t *testing.T) {
	frame, err := encodeEvent(watch.Event{Type: watch.EventRemove, Name: "a/b.css"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := "event: fs-notify\ndata: {\"type\":\"remove\",\"name\":\"a/b.css\"}\n\n"
	if frame != want {
		t.Fatalf("unexpected frame %q", frame)
	}
}

func TestNotifyDefaultHeartbeatBoundsStaleStreams(t *testing.T) {
	h := NewHandler(Options{})
	defer h.Close()
	if h.heartbeat != 10*time.Second {
		t.Fatalf("default heartbeat should be 10s, got %s", h.heartbeat)
	}
}
