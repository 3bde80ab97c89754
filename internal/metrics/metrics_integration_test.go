package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammed-shakir/wmsd/internal/core/observability"
)

func assertHasMetricLine(t *testing.T, body, metric string, wantLabels ...string) {
	t.Helper()
	for ln := range strings.SplitSeq(body, "\n") {
		if !strings.HasPrefix(ln, metric+"{") {
			continue
		}
		ok := true
		for _, s := range wantLabels {
			if !strings.Contains(ln, s) {
				ok = false
				break
			}
		}
		if ok && (len(ln) > 0 && ln[len(ln)-1] >= '0' && ln[len(ln)-1] <= '9') {
			return
		}
	}
	t.Fatalf("expected a %s line with labels %v; got:\n%s", metric, wantLabels, body)
}

func Test_ServiceMetrics_OnDedicatedRegistry(t *testing.T) {
	p := Init(Config{Build: BuildInfo{Version: "test"}, IncludeService: true})

	observability.ObserveWMSRequest("GetCapabilities", "ok")
	observability.IncException("InvalidCRS")
	observability.ObserveRender("legend", "linear", nil, 0.003)
	observability.ObserveRender("layer", "edge_layer", errors.New("boom"), 0.010)
	observability.ObserveCacheOp("lrange", nil, 0.002)
	observability.IncLookupHit("legend")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()
	mustContain := []string{
		`render_duration_seconds_bucket`,
		`redis_operation_duration_seconds_count`,
		`wms_exceptions_total{code="InvalidCRS"} `,
	}
	for _, s := range mustContain {
		if !strings.Contains(body, s) {
			t.Fatalf("expected metrics to contain %q;\n---\n%s", s, body)
		}
	}

	assertHasMetricLine(t, body, "wms_requests_total",
		`request="GetCapabilities"`, `outcome="ok"`)
	assertHasMetricLine(t, body, "render_duration_seconds_count",
		`kind="layer"`, `name="edge_layer"`, `outcome="error"`)
	assertHasMetricLine(t, body, "lookup_cache_results_total",
		`cache="legend"`, `outcome="hit"`)
	assertHasMetricLine(t, body, "app_build_info",
		`version="test"`)
}
