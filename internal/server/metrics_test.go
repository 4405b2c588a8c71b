package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// newTestMetrics registers a serverMetrics against a fresh isolated registry
// so tests do not pollute prometheus.DefaultRegisterer. The queue-depth
// gauge reads a fixed depth of 3.
func newTestMetrics(t *testing.T) (*serverMetrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := newServerMetrics(reg, func() int { return 3 })
	return m, reg
}

// gatherValue returns the value of the first sample of the named metric
// whose labels include the given name/value pair. An empty label name
// matches the first sample unconditionally.
func gatherValue(t *testing.T, reg *prometheus.Registry, metric, labelName, labelValue string) (float64, bool) {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != metric {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelName == "" {
				if c := m.GetCounter(); c != nil {
					return c.GetValue(), true
				}
				return m.GetGauge().GetValue(), true
			}
			for _, lp := range m.GetLabel() {
				if lp.GetName() == labelName && lp.GetValue() == labelValue {
					return m.GetCounter().GetValue(), true
				}
			}
		}
	}
	return 0, false
}

func Test_Metrics_EndpointReturns200(t *testing.T) {
	t.Parallel()
	_, reg := newTestMetrics(t)

	srv := httptest.NewServer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	t.Cleanup(srv.Close)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/metrics", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("want 200, got %d", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("want text/plain content-type, got %q", ct)
	}
}

func Test_Metrics_JobCounterByOutcome(t *testing.T) {
	t.Parallel()
	m, reg := newTestMetrics(t)

	m.observeJob(nil)
	m.observeJob(nil)
	m.observeJob(errors.New("embedding backend down"))

	if v, ok := gatherValue(t, reg, "corpusd_ingest_jobs_total", "outcome", outcomeOK); !ok || v != 2 {
		t.Errorf("ingest_jobs_total{outcome=ok} = %v (found=%v), want 2", v, ok)
	}
	if v, ok := gatherValue(t, reg, "corpusd_ingest_jobs_total", "outcome", outcomeError); !ok || v != 1 {
		t.Errorf("ingest_jobs_total{outcome=error} = %v (found=%v), want 1", v, ok)
	}
}

func Test_Metrics_QueueDepthGauge(t *testing.T) {
	t.Parallel()
	_, reg := newTestMetrics(t)

	// The gauge samples the pool's queue depth on every gather.
	if v, ok := gatherValue(t, reg, "corpusd_ingest_queue_depth", "", ""); !ok || v != 3 {
		t.Errorf("ingest_queue_depth = %v (found=%v), want 3", v, ok)
	}
}

func Test_Metrics_QueryObservations(t *testing.T) {
	t.Parallel()
	m, reg := newTestMetrics(t)

	m.observeQuery(nil, 0.021)
	m.observeQuery(nil, 0.034)
	m.observeQuery(errors.New("wrong vector width"), 0.001)

	if v, ok := gatherValue(t, reg, "corpusd_query_requests_total", "outcome", outcomeOK); !ok || v != 2 {
		t.Errorf("query_requests_total{outcome=ok} = %v (found=%v), want 2", v, ok)
	}
	if v, ok := gatherValue(t, reg, "corpusd_query_requests_total", "outcome", outcomeError); !ok || v != 1 {
		t.Errorf("query_requests_total{outcome=error} = %v (found=%v), want 1", v, ok)
	}

	// Successful queries also land in the latency histogram.
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == "corpusd_query_duration_seconds" {
			if c := mf.GetMetric()[0].GetHistogram().GetSampleCount(); c != 2 {
				t.Errorf("query_duration_seconds sample count = %d, want 2", c)
			}
			return
		}
	}
	t.Error("corpusd_query_duration_seconds not found in gathered metrics")
}

func Test_Metrics_NilQueueFuncIsSafe(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	newServerMetrics(reg, nil)

	if v, ok := gatherValue(t, reg, "corpusd_ingest_queue_depth", "", ""); !ok || v != 0 {
		t.Errorf("ingest_queue_depth with nil sampler = %v (found=%v), want 0", v, ok)
	}
}

// Test_Metrics_HTTPLabelsUseRoutePattern verifies that the instrument
// middleware labels requests with the registered route pattern, not the raw
// URL, keeping metric cardinality bounded.
func Test_Metrics_HTTPLabelsUseRoutePattern(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	_, _, secret := ts.seed(t, "acme", "docs")

	w := ts.do(t, http.MethodGet, "/ingest/acme/docs/documents", secret, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list documents: status = %d", w.Code)
	}

	reg, ok := ts.cfg.MetricsGatherer.(*prometheus.Registry)
	if !ok {
		t.Fatal("test server gatherer is not a *prometheus.Registry")
	}
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var patterns []string
	for _, mf := range mfs {
		if mf.GetName() != "corpusd_http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == labelHandler {
					patterns = append(patterns, lp.GetValue())
				}
			}
		}
	}
	want := "GET /ingest/{team}/{project}/documents"
	found := false
	for _, p := range patterns {
		if p == want {
			found = true
		}
		if strings.Contains(p, "acme") {
			t.Errorf("handler label %q leaked a raw path segment", p)
		}
	}
	if !found {
		t.Errorf("handler labels %v missing pattern %q", patterns, want)
	}
}
