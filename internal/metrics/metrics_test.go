package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestCounters(t *testing.T) {
	m := New(false)

	m.QuerySubmitted("F")
	m.QuerySubmitted("F")
	m.SlavesAttached(3)
	m.SlavesAttached(0)
	m.TrackerFinished("SUCCESS")
	m.CacheLookup("hit")
	m.ProviderFetch("dataset", "success", 0.2)
	m.SetProviderSaturation("dataset", 0.5)
	m.SetLiveTrackers(2)

	if got := testutil.ToFloat64(m.queriesSubmitted.WithLabelValues("F")); got != 2 {
		t.Errorf("queries submitted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.slavesAttached); got != 3 {
		t.Errorf("slaves attached = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.providerSaturation.WithLabelValues("dataset")); got != 0.5 {
		t.Errorf("saturation = %v, want 0.5", got)
	}
	if got := testutil.ToFloat64(m.liveTrackers); got != 2 {
		t.Errorf("live = %v, want 2", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.QuerySubmitted("F")
	m.SlavesAttached(1)
	m.Resubmitted()
	m.TrackerFinished("FAILED")
	m.CacheLookup("miss")
	m.ProviderFetch("p", "failed", 1)
	m.SetProviderSaturation("p", 1)
	m.SetLiveTrackers(1)
	if m.Registry() != nil {
		t.Error("nil metrics should have no registry")
	}
}

func TestHandler(t *testing.T) {
	m := New(false)
	m.Resubmitted()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "modelreg_queries_resubmissions_total 1") {
		t.Errorf("exposition missing resubmission counter:\n%s", rec.Body.String())
	}
}

func TestFetchDuration(t *testing.T) {
	m := New(false)
	m.ProviderFetch("dataset", "success", 0.02)
	m.ProviderFetch("dataset", "failed", 2)

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var fam *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "modelreg_provider_fetch_duration_seconds" {
			fam = f
		}
	}
	if fam == nil {
		t.Fatal("fetch duration histogram not gathered")
	}
	if fam.GetType() != dto.MetricType_HISTOGRAM {
		t.Errorf("type = %v, want histogram", fam.GetType())
	}
	if len(fam.GetMetric()) != 1 {
		t.Fatalf("expected one series, got %d", len(fam.GetMetric()))
	}
	h := fam.GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample count = %d, want 2", h.GetSampleCount())
	}
	if got := h.GetSampleSum(); got < 2.01 || got > 2.03 {
		t.Errorf("sample sum = %v, want 2.02", got)
	}
}
