package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()
}

func TestTimeFuncRecordsObservation(t *testing.T) {
	testHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_duration_seconds",
		Help:    "Test duration",
		Buckets: prometheus.DefBuckets,
	})

	executed := false
	duration := TimeFunc(testHistogram, func() {
		time.Sleep(10 * time.Millisecond)
		executed = true
	})

	if !executed {
		t.Error("TimeFunc did not execute provided function")
	}
	if duration < 10*time.Millisecond {
		t.Errorf("TimeFunc duration = %v, want >= 10ms", duration)
	}

	metric := &dto.Metric{}
	if err := testHistogram.Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Histogram == nil || metric.Histogram.GetSampleCount() == 0 {
		t.Error("TimeFunc did not record observation in histogram")
	}
}

func TestTimeFuncNilObserver(t *testing.T) {
	ran := false
	TimeFunc(nil, func() { ran = true })
	if !ran {
		t.Fatal("fn not executed")
	}
}

func TestSetEnabledGauge(t *testing.T) {
	SetEnabled(true)
	m := &dto.Metric{}
	if err := MonitorEnabled.Write(m); err != nil {
		t.Fatalf("write: %v", err)
	}
	if m.GetGauge().GetValue() != 1 {
		t.Errorf("gauge = %v, want 1", m.GetGauge().GetValue())
	}
	SetEnabled(false)
	if err := MonitorEnabled.Write(m); err != nil {
		t.Fatalf("write: %v", err)
	}
	if m.GetGauge().GetValue() != 0 {
		t.Errorf("gauge = %v, want 0", m.GetGauge().GetValue())
	}
}

func TestRuleMatchesByAction(t *testing.T) {
	c := RuleMatches.WithLabelValues("sound")
	before := &dto.Metric{}
	_ = c.Write(before)
	c.Inc()
	after := &dto.Metric{}
	_ = c.Write(after)
	if after.GetCounter().GetValue()-before.GetCounter().GetValue() != 1 {
		t.Fatalf("counter did not increment")
	}
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	if GetCorrelation(ctx) != "" {
		t.Fatal("expected empty correlation")
	}
	ctx = WithCorrelation(ctx, "abc")
	if GetCorrelation(ctx) != "abc" {
		t.Fatalf("GetCorrelation = %q", GetCorrelation(ctx))
	}
	if LoggerWithCorr(ctx) == nil {
		t.Fatal("nil logger")
	}
}
