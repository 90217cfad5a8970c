package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareLabelsByPattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /workflow_manager/workflows/{path...}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	h := Middleware(mux)

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "GET /workflow_manager/workflows/{path...}", "404"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/workflow_manager/workflows/A/x.json", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/workflow_manager/workflows/B/y.json", nil))
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "GET /workflow_manager/workflows/{path...}", "404"))

	if after-before != 2 {
		t.Errorf("expected 2 requests under one route label, got %v", after-before)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	RecordCachePurge()
	RecordCacheLookup(true)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, name := range []string{"workflowd_cache_purges_total", "workflowd_cache_lookups_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("expected %s in metrics output", name)
		}
	}
}
