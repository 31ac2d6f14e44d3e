package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("Failed to get counter: %v", err)
	}

	var metric dto.Metric
	if err := counter.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}

	return metric.Counter.GetValue()
}

func TestNew(t *testing.T) {
	m := New()
	if m == nil {
		t.Fatal("New() returned nil")
	}

	if m.Registry() == nil {
		t.Error("Registry() returned nil")
	}

	if m.ContactsSentTotal == nil {
		t.Error("ContactsSentTotal is nil")
	}
	if m.ContactsFailedTotal == nil {
		t.Error("ContactsFailedTotal is nil")
	}
	if m.ContactsSkippedTotal == nil {
		t.Error("ContactsSkippedTotal is nil")
	}
	if m.FallbacksTotal == nil {
		t.Error("FallbacksTotal is nil")
	}
	if m.CampaignsRunning == nil {
		t.Error("CampaignsRunning is nil")
	}
	if m.QueueRemaining == nil {
		t.Error("QueueRemaining is nil")
	}
	if m.APIRequestsTotal == nil {
		t.Error("APIRequestsTotal is nil")
	}
	if m.APIRequestDurationSeconds == nil {
		t.Error("APIRequestDurationSeconds is nil")
	}
}

func TestGlobalMetrics(t *testing.T) {
	if Global() != nil {
		t.Error("Global() should be nil before SetGlobal")
	}

	m := New()
	SetGlobal(m)

	if Global() != m {
		t.Error("Global() did not return the set metrics")
	}

	SetGlobal(nil)
}

func TestIncContactsSent(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	IncContactsSent("whatsapp")
	IncContactsSent("whatsapp")
	IncContactsSent("telegram")

	if v := counterValue(t, m.ContactsSentTotal, "whatsapp"); v != 2 {
		t.Errorf("Expected counter value 2, got %f", v)
	}
	if v := counterValue(t, m.ContactsSentTotal, "telegram"); v != 1 {
		t.Errorf("Expected counter value 1, got %f", v)
	}
}

func TestAddContactsSkipped(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	AddContactsSkipped("no_channel", 3)
	IncContactsSkipped("no_channel")

	if v := counterValue(t, m.ContactsSkippedTotal, "no_channel"); v != 4 {
		t.Errorf("Expected counter value 4, got %f", v)
	}
}

func TestQueueRemainingLifecycle(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	SetQueueRemaining("camp-1", 42)

	gauge, err := m.QueueRemaining.GetMetricWithLabelValues("camp-1")
	if err != nil {
		t.Fatalf("Failed to get gauge: %v", err)
	}
	var metric dto.Metric
	if err := gauge.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Gauge.GetValue() != 42 {
		t.Errorf("Expected gauge value 42, got %f", metric.Gauge.GetValue())
	}

	DeleteQueueRemaining("camp-1")

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() == "herald_queue_remaining" && len(fam.GetMetric()) != 0 {
			t.Errorf("Expected gauge to be deleted, found %d series", len(fam.GetMetric()))
		}
	}
}

func TestHelpersWithNilGlobal(t *testing.T) {
	SetGlobal(nil)

	// Must not panic without a global instance
	IncContactsSent("whatsapp")
	IncContactsFailed("telegram")
	IncFallbacks("whatsapp")
	AddCampaignsRunning(1)
	IncCampaignsTotal("completed")
	IncCampaignPauses("manual")
	SetQueueRemaining("camp-1", 5)
	DeleteQueueRemaining("camp-1")
	IncThrottleWaits("p1")
	IncAPIErrors("not_found")
}
