package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestMustRegister_NoDuplicateCollectorPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New()
	m.MustRegister(reg) // must not panic on a fresh registry
}

func TestRecordError_IncrementsLabeledCounter(t *testing.T) {
	m := New()
	m.RecordError(ErrorClassTransientNUT)
	m.RecordError(ErrorClassTransientNUT)
	m.RecordError(ErrorClassClient)

	metric := &dto.Metric{}
	if err := m.ErrorsTotal.WithLabelValues(string(ErrorClassTransientNUT)).Write(metric); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if metric.Counter.GetValue() != 2 {
		t.Errorf("transient_nut count = %v, want 2", metric.Counter.GetValue())
	}
}

func TestSSESubscribersGauge_SetAndRead(t *testing.T) {
	m := New()
	m.SSESubscribers.Set(42)

	metric := &dto.Metric{}
	if err := m.SSESubscribers.Write(metric); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if metric.Gauge.GetValue() != 42 {
		t.Errorf("gauge value = %v, want 42", metric.Gauge.GetValue())
	}
}
