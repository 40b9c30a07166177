package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/urlhealth/internal/progress"
)

// PrometheusSink exports batch and probe progress via Prometheus.
type PrometheusSink struct {
	batchesStarted   prometheus.Counter
	batchesCompleted *prometheus.CounterVec
	batchesRunning   prometheus.Gauge
	batchRuntime     *prometheus.HistogramVec

	probes        *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec

	tracker *batchTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		batchesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "urlhealth_batches_started_total",
			Help: "Total batches that have started.",
		}),
		batchesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "urlhealth_batches_completed_total",
			Help: "Total batches finished partitioned by result.",
		}, []string{"result"}),
		batchesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "urlhealth_batches_running",
			Help: "Current number of running batches.",
		}),
		batchRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "urlhealth_batch_runtime_seconds",
			Help:    "Wall time per finished batch.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"result"}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "urlhealth_probes_total",
			Help: "Probe completions partitioned by status class and outcome kind.",
		}, []string{"status_class", "kind"}),
		probeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "urlhealth_probe_duration_seconds",
			Help:    "Probe latency partitioned by status class.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"status_class"}),
		tracker: newBatchTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.batchesStarted,
		s.batchesCompleted,
		s.batchesRunning,
		s.batchRuntime,
		s.probes,
		s.probeDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageBatchStart:
			s.batchesStarted.Inc()
			if s.tracker.start(evt.BatchID) {
				s.batchesRunning.Inc()
			}
		case progress.StageBatchDone:
			s.batchesCompleted.WithLabelValues(evt.Result).Inc()
			if evt.Dur > 0 {
				s.batchRuntime.WithLabelValues(evt.Result).Observe(evt.Dur.Seconds())
			}
			if s.tracker.complete(evt.BatchID) {
				s.batchesRunning.Dec()
			}
		case progress.StageProbeDone:
			s.observeProbe(evt)
		}
	}
	return nil
}

func (s *PrometheusSink) observeProbe(evt progress.Event) {
	class := string(evt.StatusClass)
	kind := evt.Kind
	if kind == "" {
		kind = "unknown"
	}
	s.probes.WithLabelValues(class, kind).Inc()
	if evt.Dur > 0 {
		s.probeDuration.WithLabelValues(class).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type batchTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newBatchTracker() *batchTracker {
	return &batchTracker{running: make(map[string]struct{})}
}

func (t *batchTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *batchTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
