package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rr.Body)
	return string(body)
}

func expectLine(t *testing.T, body, line string) {
	t.Helper()
	if !strings.Contains(body, line) {
		t.Fatalf("missing %q in:\n%s", line, body)
	}
}

func TestMiddleware_LabelsByPattern(t *testing.T) {
	m := New("test")

	mux := http.NewServeMux()
	mux.HandleFunc("GET /agent/context/{user_id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := m.Middleware(nil, mux)

	for _, path := range []string{"/agent/context/a", "/agent/context/b", "/nope"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	body := scrape(t, m)
	expectLine(t, body, `test_requests_total{route="GET /agent/context/{user_id}",status="418"} 2`)
	expectLine(t, body, `test_requests_total{route="unmatched",status="404"} 1`)
}

func TestRecorders(t *testing.T) {
	m := New("")
	m.RecordRateLimitDenied()
	m.RecordRateLimitDenied()
	m.RecordSweep(3, 7)
	m.RecordBridgeCall("log_interaction", "ok")

	body := scrape(t, m)
	expectLine(t, body, "friday_rate_limit_denied_total 2")
	expectLine(t, body, "friday_rate_limit_buckets 7")
	expectLine(t, body, `friday_bridge_calls_total{op="log_interaction",outcome="ok"} 1`)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordRequest("x", 200, 0)
	m.RecordRateLimitDenied()
	m.RecordSweep(1, 1)
	m.RecordBridgeCall("op", "ok")

	called := false
	h := m.Middleware(nil, http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Fatal("next not called")
	}
}

func TestMiddleware_ResolvesRouteWhenInnerHandlerRejects(t *testing.T) {
	m := New("test")
	mux := http.NewServeMux()
	mux.HandleFunc("POST /agent/event", func(w http.ResponseWriter, r *http.Request) {})

	reject := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	h := m.Middleware(mux, reject)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/agent/event", nil))

	expectLine(t, scrape(t, m), `test_requests_total{route="POST /agent/event",status="403"} 1`)
}
