// Package dispatcher fans a batch of records out to concurrent probe units and
// streams one event per completed unit.
package dispatcher

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/urlhealth/internal/aggregate"
	"github.com/JakeFAU/urlhealth/internal/clock/system"
	"github.com/JakeFAU/urlhealth/internal/policy/simple"
	"github.com/JakeFAU/urlhealth/internal/probe"
	"github.com/JakeFAU/urlhealth/internal/progress"
)

const tracerName = "github.com/JakeFAU/urlhealth/internal/dispatcher"

// Batch is one submitted list of records.
type Batch struct {
	ID      string
	Records []probe.Record
}

// Limiter bounds how many probes are in flight. The release func it returns
// must tolerate repeated calls. *limiter.Limiter satisfies it.
type Limiter interface {
	Acquire(ctx context.Context) (func(), error)
}

// Dispatcher runs batches against a Prober.
type Dispatcher struct {
	prober  probe.Prober
	polite  probe.Politeness
	emitter progress.Emitter
	clock   probe.Clock
	tracer  trace.Tracer
	logger  *zap.Logger
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithPoliteness sets the policy consulted after a slot is acquired and before the probe.
func WithPoliteness(p probe.Politeness) Option {
	return func(d *Dispatcher) {
		if p != nil {
			d.polite = p
		}
	}
}

// WithEmitter sets where lifecycle events are published.
func WithEmitter(e progress.Emitter) Option {
	return func(d *Dispatcher) {
		if e != nil {
			d.emitter = e
		}
	}
}

// WithClock overrides the clock used for progress timestamps.
func WithClock(c probe.Clock) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.clock = c
		}
	}
}

// WithTracer overrides the tracer. The global provider is used otherwise.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) {
		if t != nil {
			d.tracer = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates a Dispatcher around prober.
func New(prober probe.Prober, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		prober:  prober,
		polite:  simple.New(),
		emitter: progress.Discard,
		clock:   system.New(),
		tracer:  otel.Tracer(tracerName),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("dispatcher")
	return d
}

// Run starts one unit per record and returns the stream of their events in
// completion order. The channel is closed once every unit has finished.
//
// state must be fresh for this batch; Run sets its total before any unit
// starts. Recording an outcome and sending its event happen as one step, so
// RecordsProcessed strictly increases along the stream and the last event
// carries the final totals. The caller must drain the channel. When ctx ends,
// units still waiting for a slot record a canceled outcome and pending sends
// are dropped, but every outcome is still recorded in state.
func (d *Dispatcher) Run(ctx context.Context, batch Batch, lim Limiter, state *aggregate.State) <-chan probe.Event {
	state.SetTotal(len(batch.Records))

	ctx, span := d.tracer.Start(ctx, "dispatcher.batch", trace.WithAttributes(
		attribute.String("urlhealth.batch_id", batch.ID),
		attribute.Int("urlhealth.records", len(batch.Records)),
	))
	r := &run{
		Dispatcher: d,
		batchID:    batch.ID,
		lim:        lim,
		state:      state,
		out:        make(chan probe.Event),
	}
	started := d.clock.Now()
	d.emitter.Emit(progress.Event{
		BatchID: batch.ID,
		TS:      started,
		Stage:   progress.StageBatchStart,
		Total:   len(batch.Records),
	})

	var wg sync.WaitGroup
	for _, rec := range batch.Records {
		wg.Add(1)
		go func(rec probe.Record) {
			defer wg.Done()
			r.unit(ctx, rec)
		}(rec)
	}

	go func() {
		wg.Wait()
		result := progress.ResultComplete
		if ctx.Err() != nil {
			result = progress.ResultCanceled
			span.SetStatus(codes.Error, "batch canceled")
		}
		snap := state.Snapshot()
		span.SetAttributes(
			attribute.Int("urlhealth.success_count", snap.SuccessCount),
			attribute.Int("urlhealth.failure_count", snap.FailureCount),
		)
		now := d.clock.Now()
		d.emitter.Emit(progress.Event{
			BatchID: batch.ID,
			TS:      now,
			Stage:   progress.StageBatchDone,
			Dur:     nonNegative(now.Sub(started)),
			Result:  result,
		})
		span.End()
		close(r.out)
	}()
	return r.out
}

// run holds what every unit of one batch shares.
type run struct {
	*Dispatcher
	batchID string
	lim     Limiter
	state   *aggregate.State
	out     chan probe.Event
	// seq serializes record-then-send.
	seq sync.Mutex
}

// unit processes one record. A panic anywhere in the unit is converted into
// an internal outcome; the slot is always released.
func (r *run) unit(ctx context.Context, rec probe.Record) {
	ctx, span := r.tracer.Start(ctx, "dispatcher.probe", trace.WithAttributes(
		attribute.String("urlhealth.record_id", rec.ID),
	))
	defer span.End()

	release := func() {}
	published := false
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		release()
		r.logger.Error("probe unit panicked",
			zap.String("batch_id", r.batchID),
			zap.String("id", rec.ID),
			zap.Any("panic", p),
			zap.Stack("stack"),
		)
		span.SetStatus(codes.Error, fmt.Sprint(p))
		if published {
			return
		}
		outcome := probe.InternalOutcome(rec)
		r.publish(ctx, outcome, probe.InternalErrorMarker)
		r.emitProbeDone(rec, outcome, fmt.Sprint(p))
	}()

	var outcome probe.Outcome
	rel, err := r.lim.Acquire(ctx)
	if err != nil {
		outcome = probe.CanceledOutcome(rec)
	} else {
		release = rel
		outcome = r.probe(ctx, rec)
		release()
	}

	r.publish(ctx, outcome, "")
	published = true

	span.SetAttributes(
		attribute.String("urlhealth.kind", string(outcome.Kind)),
		semconv.HTTPResponseStatusCode(outcome.StatusCode),
	)
	r.emitProbeDone(rec, outcome, "")
}

// publish records o and sends its event while holding seq.
func (r *run) publish(ctx context.Context, o probe.Outcome, errMarker string) {
	r.seq.Lock()
	defer r.seq.Unlock()
	snap := r.state.RecordOutcome(o)
	evt := probe.Event{
		BatchID:  r.batchID,
		Snapshot: snap,
		Result:   o,
		Error:    errMarker,
	}
	select {
	case r.out <- evt:
	case <-ctx.Done():
		r.logger.Debug("event dropped after cancellation",
			zap.String("batch_id", r.batchID),
			zap.String("id", o.ID),
		)
	}
}

func (r *run) emitProbeDone(rec probe.Record, o probe.Outcome, note string) {
	r.emitter.Emit(progress.Event{
		BatchID:     r.batchID,
		TS:          r.clock.Now(),
		Stage:       progress.StageProbeDone,
		Site:        siteOf(rec, o),
		URL:         rec.URL,
		StatusCode:  o.StatusCode,
		StatusClass: progress.ClassifyStatus(o.StatusCode),
		Kind:        string(o.Kind),
		Dur:         time.Duration(o.LatencyMillis) * time.Millisecond,
		Note:        note,
	})
}

// probe runs while the unit holds a slot.
func (d *Dispatcher) probe(ctx context.Context, rec probe.Record) probe.Outcome {
	target, err := probe.Normalize(rec.ID, rec.URL)
	if err != nil {
		d.logger.Debug("rejected record", zap.String("id", rec.ID), zap.Error(err))
		return probe.InvalidOutcome(rec)
	}
	trace.SpanFromContext(ctx).SetAttributes(semconv.URLFull(target.URL))
	if err := d.polite.Wait(ctx, target.URL); err != nil {
		return probe.CanceledOutcome(rec)
	}
	return d.prober.Probe(ctx, target)
}

func siteOf(rec probe.Record, o probe.Outcome) string {
	if o.Kind == probe.KindInvalid {
		return ""
	}
	raw := strings.TrimSpace(rec.URL)
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
