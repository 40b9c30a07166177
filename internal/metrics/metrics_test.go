package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if httpRequestsTotal == nil || httpRequestDurationSeconds == nil ||
		probeSlotsInFlight == nil || probeSlotWaitSeconds == nil ||
		rateLimitDelaySeconds == nil || streamEventsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestLimiterHooks(t *testing.T) {
	Init()
	hooks := LimiterHooks()

	hooks.OnAcquire(10*time.Millisecond, 3)
	if val := testutil.ToFloat64(probeSlotsInFlight); val != 3 {
		t.Errorf("Expected probeSlotsInFlight to be 3, got %f", val)
	}
	hooks.OnRelease(2)
	if val := testutil.ToFloat64(probeSlotsInFlight); val != 2 {
		t.Errorf("Expected probeSlotsInFlight to be 2, got %f", val)
	}
	if val := testutil.CollectAndCount(probeSlotWaitSeconds); val != 1 {
		t.Errorf("Expected one slot wait histogram, got %d", val)
	}
}

func TestObserveRateLimitDelayAndStreamEvents(t *testing.T) {
	Init()

	ObserveRateLimitDelay("example.com", 250*time.Millisecond)
	if val := testutil.CollectAndCount(rateLimitDelaySeconds); val < 1 {
		t.Errorf("Expected rate limit delay to be observed, got %d", val)
	}

	before := testutil.ToFloat64(streamEventsTotal.WithLabelValues("ndjson"))
	ObserveStreamEvent("ndjson")
	ObserveStreamEvent("ndjson")
	if val := testutil.ToFloat64(streamEventsTotal.WithLabelValues("ndjson")); val != before+2 {
		t.Errorf("Expected stream events to grow by 2, got %f -> %f", before, val)
	}
}
