package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("/history", 200)
	m.ObserveConversion(3, 1, time.Millisecond)
	m.HistoryError("append")
	m.RateLimited()
}

func TestRecordsObservations(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	m.ObserveRequest("/convert-measurements", 200)
	m.ObserveRequest("/convert-measurements", 201)
	m.ObserveRequest("/convert-measurements", 415)
	m.ObserveConversion(12, 3, time.Microsecond)
	m.RateLimited()

	if got := testutil.ToFloat64(m.requests.WithLabelValues("/convert-measurements", "2xx")); got != 2 {
		t.Fatalf("2xx requests: want 2 got %v", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("/convert-measurements", "4xx")); got != 1 {
		t.Fatalf("4xx requests: want 1 got %v", got)
	}
	if got := testutil.ToFloat64(m.conversions); got != 1 {
		t.Fatalf("conversions: want 1 got %v", got)
	}
	if got := testutil.ToFloat64(m.rateLimited); got != 1 {
		t.Fatalf("rate limited: want 1 got %v", got)
	}

	if _, err := New(reg); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestStatusLabel(t *testing.T) {
	for code, want := range map[int]string{101: "1xx", 204: "2xx", 304: "3xx", 429: "4xx", 503: "5xx"} {
		if got := statusLabel(code); got != want {
			t.Errorf("statusLabel(%d): want %s got %s", code, want, got)
		}
	}
}
