package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRequestIncrementsByStatusClass(t *testing.T) {
	m := New()

	m.ObserveRequest("GET", 200, 5*time.Millisecond)
	m.ObserveRequest("GET", 404, time.Millisecond)
	m.ObserveRequest("GET", 500, time.Millisecond)

	if got := testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "2xx")); got != 1 {
		t.Errorf("2xx count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "4xx")); got != 1 {
		t.Errorf("4xx count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "5xx")); got != 1 {
		t.Errorf("5xx count = %v, want 1", got)
	}
}

func TestConnectionGauge(t *testing.T) {
	m := New()

	m.ConnectionOpened()
	m.ConnectionOpened()
	if got := testutil.ToFloat64(m.connectionsOpen); got != 2 {
		t.Errorf("connectionsOpen = %v, want 2", got)
	}

	m.ConnectionClosed()
	if got := testutil.ToFloat64(m.connectionsOpen); got != 1 {
		t.Errorf("connectionsOpen = %v, want 1", got)
	}
}

func TestCacheCounters(t *testing.T) {
	m := New()

	m.CacheHit()
	m.CacheHit()
	m.CacheMiss()

	if got := testutil.ToFloat64(m.cacheHits); got != 2 {
		t.Errorf("cacheHits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.cacheMisses); got != 1 {
		t.Errorf("cacheMisses = %v, want 1", got)
	}
}

func TestStatusClass(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{100, "1xx"},
		{200, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{503, "5xx"},
	}
	for _, tt := range tests {
		if got := statusClass(tt.status); got != tt.want {
			t.Errorf("statusClass(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestHandlerServesExpositionFormat(t *testing.T) {
	m := New()
	m.ConnectionOpened()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := rec.Body.String(); !contains(body, "ampere_conn_open") {
		t.Errorf("body does not contain the connection gauge metric:\n%s", body)
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
