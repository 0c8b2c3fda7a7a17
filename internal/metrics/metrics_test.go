package metrics

import (
	"testing"
)

func TestNew(t *testing.T) {
	m := New()
	if m == nil {
		t.Fatal("New() returned nil")
	}

	if m.Registry() == nil {
		t.Error("Registry() returned nil")
	}

	if m.RequestsTotal == nil {
		t.Error("RequestsTotal is nil")
	}
	if m.RequestDurationSeconds == nil {
		t.Error("RequestDurationSeconds is nil")
	}
	if m.RequestsInFlight == nil {
		t.Error("RequestsInFlight is nil")
	}
	if m.AuthFailuresTotal == nil {
		t.Error("AuthFailuresTotal is nil")
	}
	if m.RateLimitExceededTotal == nil {
		t.Error("RateLimitExceededTotal is nil")
	}
	if m.PermissionDeniedTotal == nil {
		t.Error("PermissionDeniedTotal is nil")
	}
}

func TestCountersUsable(t *testing.T) {
	m := New()

	m.RequestsTotal.WithLabelValues("GET", "clients", "200").Inc()
	m.AuthFailuresTotal.WithLabelValues("invalid_key").Inc()
	m.RateLimitExceededTotal.WithLabelValues("minute").Inc()
	m.RequestsInFlight.Inc()
	m.RequestsInFlight.Dec()

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected gathered metric families")
	}
}
