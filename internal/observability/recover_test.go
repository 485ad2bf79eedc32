package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecoverMiddlewareReturns500AndCounts(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	h := RecoverMiddleware("test", m, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusInternalServerError)
	}
	if got := testutil.ToFloat64(m.deliveries.WithLabelValues("panic")); got != 1 {
		t.Fatalf("panic deliveries = %v, want 1", got)
	}
}

func TestRecoverMiddlewareNilMetrics(t *testing.T) {
	h := RecoverMiddleware("test", nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestCompactStackTruncates(t *testing.T) {
	stack := strings.Repeat("line\n", 40)
	if got := strings.Count(compactStack(stack, 16), "\n"); got != 15 {
		t.Fatalf("newlines = %d, want 15", got)
	}
}
