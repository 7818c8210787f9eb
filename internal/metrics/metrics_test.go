package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestHTTPMetricsMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(HTTPMetricsMiddleware)
	r.Get("/api/modules/{moduleID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/modules/{moduleID}", "202"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/modules/tds_odoo", nil))
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/modules/{moduleID}", "202"))

	assert.Equal(t, before+1, after)
}

func TestObserveWorkflowRun(t *testing.T) {
	before := testutil.ToFloat64(workflowRuns.WithLabelValues("gstr1_odoo", "success"))
	ObserveWorkflowRun("gstr1_odoo", "success")
	assert.Equal(t, before+1, testutil.ToFloat64(workflowRuns.WithLabelValues("gstr1_odoo", "success")))
}
