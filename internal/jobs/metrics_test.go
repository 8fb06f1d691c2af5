package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	_ = m.Track("security:registry-sweep").End(nil)
	err := m.Track("security:registry-sweep").End(errors.New("redis down"))
	if err == nil {
		t.Fatalf("expected error to be returned untouched")
	}
	m.AddSessionsRemoved("security:registry-sweep", 3)

	if got := testutil.ToFloat64(m.runs.WithLabelValues("security:registry-sweep", "success")); got != 1 {
		t.Fatalf("expected 1 successful run, got %v", got)
	}
	if got := testutil.ToFloat64(m.failures.WithLabelValues("security:registry-sweep")); got != 1 {
		t.Fatalf("expected 1 failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.sessionsRemoved.WithLabelValues("security:registry-sweep")); got != 3 {
		t.Fatalf("expected 3 removed sessions, got %v", got)
	}
}

func TestNilTrackerIsSafe(t *testing.T) {
	var m *Metrics
	m.AddSessionsRemoved("x", 1)
	if err := m.Track("x").End(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
