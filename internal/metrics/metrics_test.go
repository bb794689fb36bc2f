package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordContentLookup("hit")
	m.RecordUpstreamStatus(200)
	m.RecordGlobFile(10)
	m.RecordStatic("file")
	m.NotifyStreamOpened()
	m.NotifyStreamClosed()
	m.RecordNotifyEvent("modify")
	m.ObserveRequest("static", 200, time.Millisecond)
	if m.Registry() != nil {
		t.Fatalf("nil metrics should not expose a registry")
	}
}

func TestCountersAndClasses(t *testing.T) {
	m := New()
	m.RecordContentLookup("hit")
	m.RecordContentLookup("hit")
	m.RecordContentLookup("miss")
	m.RecordUpstreamStatus(204)
	m.RecordUpstreamStatus(404)
	m.RecordUpstreamStatus(0)
	m.RecordGlobFile(10)
	m.RecordGlobFile(20)
	m.NotifyStreamOpened()
	m.NotifyStreamOpened()
	m.NotifyStreamClosed()

	if got := testutil.ToFloat64(m.contentLookups.WithLabelValues("hit")); got != 2 {
		t.Fatalf("expected 2 hits, got %v", got)
	}
	if got := testutil.ToFloat64(m.upstreamStatus.WithLabelValues("4xx")); got != 1 {
		t.Fatalf("expected one 4xx, got %v", got)
	}
	if got := testutil.ToFloat64(m.upstreamStatus.WithLabelValues("error")); got != 1 {
		t.Fatalf("expected one network error, got %v", got)
	}
	if got := testutil.ToFloat64(m.globBytes); got != 30 {
		t.Fatalf("expected 30 glob bytes, got %v", got)
	}
	if got := testutil.ToFloat64(m.notifyStreams); got != 1 {
		t.Fatalf("expected 1 open stream, got %v", got)
	}
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.RecordStatic("not_found")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/-/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `hotserve_static_responses_total{outcome="not_found"} 1`) {
		t.Fatalf("metrics output missing static counter:\n%s", body)
	}
}
