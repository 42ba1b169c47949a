package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func gaugeValue(t *testing.T, m *Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}

func TestCountersExported(t *testing.T) {
	m := New()
	m.Matches.Add(3)
	m.UploadErrors.Add(1)
	m.ObserveRatio(0.875)

	if got := gaugeValue(t, m, "plate_matches_total"); got != 3 {
		t.Fatalf("plate_matches_total = %v, want 3", got)
	}
	if got := gaugeValue(t, m, "plate_upload_errors_total"); got != 1 {
		t.Fatalf("plate_upload_errors_total = %v, want 1", got)
	}
	if got := gaugeValue(t, m, "plate_last_match_ratio"); got != 0.875 {
		t.Fatalf("plate_last_match_ratio = %v, want 0.875", got)
	}
}

func TestHandlerServesText(t *testing.T) {
	m := New()
	m.FramesRead.Add(7)

	srv := httptest.NewServer(m.NewServer("").Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "plate_frames_read_total 7") {
		t.Fatalf("metrics body missing frames counter:\n%s", body)
	}
	if !strings.Contains(string(body), "plate_stream_reads_total 0") {
		t.Fatalf("metrics body missing stream reads counter:\n%s", body)
	}
}
