package dispatcher

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/JakeFAU/urlhealth/internal/aggregate"
	"github.com/JakeFAU/urlhealth/internal/limiter"
	collyprober "github.com/JakeFAU/urlhealth/internal/prober/colly"
	"github.com/JakeFAU/urlhealth/internal/probe"
	"github.com/JakeFAU/urlhealth/internal/progress"
)

// fakeProber answers from the URL path ("/200", "/404", ...) and tracks how
// many probes run at once.
type fakeProber struct {
	delay     func() time.Duration
	panicOn   string
	calls     atomic.Int64
	inFlight  atomic.Int64
	maxFlight atomic.Int64
	block     bool
}

func (f *fakeProber) Probe(ctx context.Context, t probe.Target) probe.Outcome {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxFlight.Load()
		if n <= m || f.maxFlight.CompareAndSwap(m, n) {
			break
		}
	}
	if t.ID == f.panicOn {
		panic("prober exploded")
	}
	if f.block {
		<-ctx.Done()
		return probe.UnreachableOutcome(t, 0)
	}
	if f.delay != nil {
		select {
		case <-time.After(f.delay()):
		case <-ctx.Done():
			return probe.UnreachableOutcome(t, 0)
		}
	}
	code, err := strconv.Atoi(t.URL[strings.LastIndex(t.URL, "/")+1:])
	if err != nil {
		code = http.StatusOK
	}
	return probe.RespondedOutcome(t, code, time.Millisecond, "Headers: {}")
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *recordingEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *recordingEmitter) Stages() []progress.Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]progress.Stage, 0, len(e.events))
	for _, evt := range e.events {
		out = append(out, evt.Stage)
	}
	return out
}

func collect(t *testing.T, events <-chan probe.Event) []probe.Event {
	t.Helper()
	var out []probe.Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, evt)
		case <-timeout:
			t.Fatalf("stream did not close; got %d events", len(out))
		}
	}
}

func records(codes ...int) []probe.Record {
	out := make([]probe.Record, 0, len(codes))
	for i, code := range codes {
		out = append(out, probe.Record{
			ID:  strconv.Itoa(i + 1),
			URL: fmt.Sprintf("https://example.test/%d", code),
		})
	}
	return out
}

func TestRunEmitsOneEventPerRecord(t *testing.T) {
	t.Parallel()

	p := &fakeProber{}
	d := New(p)
	state := aggregate.New()
	batch := Batch{ID: "b1", Records: records(200, 404, 200, 500)}

	events := collect(t, d.Run(context.Background(), batch, limiter.New(2), state))

	require.Len(t, events, 4)
	for i, evt := range events {
		require.Equal(t, "b1", evt.BatchID)
		require.Equal(t, 4, evt.TotalRecords)
		require.Equal(t, i+1, evt.RecordsProcessed, "processed increases along the stream")
		require.Equal(t, evt.RecordsProcessed, evt.SuccessCount+evt.FailureCount)
		require.Empty(t, evt.Error)
	}

	last := events[len(events)-1]
	require.Equal(t, 2, last.SuccessCount)
	require.Equal(t, 2, last.FailureCount)
	require.Equal(t, map[int]int{200: 2, 404: 1, 500: 1}, last.StatusCodes)
	require.Equal(t, last.Snapshot, state.Snapshot())
}

func TestRunEmptyBatchClosesImmediately(t *testing.T) {
	t.Parallel()

	emitter := &recordingEmitter{}
	d := New(&fakeProber{}, WithEmitter(emitter))
	state := aggregate.New()

	events := collect(t, d.Run(context.Background(), Batch{ID: "empty"}, limiter.New(1), state))
	require.Empty(t, events)
	require.Equal(t, 0, state.Snapshot().TotalRecords)
	require.Equal(t, []progress.Stage{progress.StageBatchStart, progress.StageBatchDone}, emitter.Stages())
}

func TestRunBoundsInFlightProbes(t *testing.T) {
	t.Parallel()

	const capacity = 5
	p := &fakeProber{delay: func() time.Duration { return 5 * time.Millisecond }}
	lim := limiter.New(capacity)
	d := New(p)

	codes := make([]int, 60)
	for i := range codes {
		codes[i] = 200
	}
	events := collect(t, d.Run(context.Background(), Batch{ID: "b", Records: records(codes...)}, lim, aggregate.New()))

	require.Len(t, events, 60)
	require.LessOrEqual(t, p.maxFlight.Load(), int64(capacity))
	require.Positive(t, p.maxFlight.Load())
	require.Equal(t, int64(0), lim.InFlight())
}

func TestRunInvalidRecordMakesNoProbe(t *testing.T) {
	t.Parallel()

	p := &fakeProber{}
	d := New(p)
	batch := Batch{ID: "b", Records: []probe.Record{{ID: "1", URL: "user@example.com"}}}

	events := collect(t, d.Run(context.Background(), batch, limiter.New(1), aggregate.New()))

	require.Len(t, events, 1)
	require.Equal(t, 0, events[0].Result.StatusCode)
	require.Equal(t, probe.SummaryInvalid, events[0].Result.Summary)
	require.Equal(t, probe.KindInvalid, events[0].Result.Kind)
	require.Equal(t, "user@example.com", events[0].Result.Domain)
	require.Equal(t, 1, events[0].FailureCount)
	require.Equal(t, map[int]int{0: 1}, events[0].StatusCodes)
	require.Equal(t, int64(0), p.calls.Load())
}

func TestRunRecoversPanickingUnit(t *testing.T) {
	t.Parallel()

	p := &fakeProber{panicOn: "2"}
	lim := limiter.New(1)
	emitter := &recordingEmitter{}
	d := New(p, WithEmitter(emitter))
	state := aggregate.New()

	events := collect(t, d.Run(context.Background(), Batch{ID: "b", Records: records(200, 200, 200)}, lim, state))

	require.Len(t, events, 3)
	var faulted int
	for _, evt := range events {
		if evt.Result.ID != "2" {
			require.Empty(t, evt.Error)
			require.Equal(t, 200, evt.Result.StatusCode)
			continue
		}
		faulted++
		require.Equal(t, probe.InternalErrorMarker, evt.Error)
		require.Equal(t, 0, evt.Result.StatusCode)
		require.Equal(t, probe.SummaryInternal, evt.Result.Summary)
		require.Equal(t, probe.KindInternal, evt.Result.Kind)
	}
	require.Equal(t, 1, faulted)

	final := state.Snapshot()
	require.Equal(t, 3, final.RecordsProcessed)
	require.Equal(t, 2, final.SuccessCount)
	require.Equal(t, 1, final.FailureCount)
	require.Equal(t, int64(0), lim.InFlight(), "panicking unit must release its slot")

	require.Eventually(t, func() bool {
		return len(emitter.Stages()) == 5
	}, time.Second, 10*time.Millisecond)
}

func TestRunCancellationRecordsEveryOutcome(t *testing.T) {
	t.Parallel()

	p := &fakeProber{block: true}
	lim := limiter.New(1)
	emitter := &recordingEmitter{}
	d := New(p, WithEmitter(emitter))
	state := aggregate.New()
	ctx, cancel := context.WithCancel(context.Background())

	events := d.Run(ctx, Batch{ID: "b", Records: records(200, 200, 200, 200, 200)}, lim, state)
	require.Eventually(t, func() bool { return p.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	received := collect(t, events)

	require.LessOrEqual(t, len(received), 5)
	final := state.Snapshot()
	require.Equal(t, 5, final.RecordsProcessed)
	require.Equal(t, 0, final.SuccessCount)
	require.Equal(t, 5, final.FailureCount)
	require.Equal(t, map[int]int{0: 5}, final.StatusCodes)
	require.Equal(t, int64(0), lim.InFlight())

	stages := emitter.Stages()
	require.Equal(t, progress.StageBatchDone, stages[len(stages)-1])
	emitter.mu.Lock()
	require.Equal(t, progress.ResultCanceled, emitter.events[len(emitter.events)-1].Result)
	emitter.mu.Unlock()
}

func TestRunRepeatedWithRandomDelaysGivesIdenticalTotals(t *testing.T) {
	t.Parallel()

	codes := make([]int, 0, 120)
	for i := 0; i < 40; i++ {
		codes = append(codes, 200, 404, 503)
	}
	p := &fakeProber{delay: func() time.Duration {
		return time.Duration(rand.Intn(3000)) * time.Microsecond
	}}
	d := New(p)

	for run := 0; run < 5; run++ {
		state := aggregate.New()
		events := collect(t, d.Run(context.Background(), Batch{ID: "b", Records: records(codes...)}, limiter.New(16), state))
		require.Len(t, events, 120)

		final := state.Snapshot()
		require.Equal(t, 120, final.RecordsProcessed, "run %d", run)
		require.Equal(t, 40, final.SuccessCount, "run %d", run)
		require.Equal(t, 80, final.FailureCount, "run %d", run)
		require.Equal(t, map[int]int{200: 40, 404: 40, 503: 40}, final.StatusCodes, "run %d", run)
		require.Equal(t, final, events[len(events)-1].Snapshot)
	}
}

func TestRunAgainstHTTPServer(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/status/"))
		if err != nil {
			code = http.StatusOK
		}
		w.WriteHeader(code)
	}))
	t.Cleanup(srv.Close)

	d := New(collyprober.New(collyprober.Config{Timeout: 5 * time.Second}, nil))
	state := aggregate.New()
	batch := Batch{ID: "b", Records: []probe.Record{
		{ID: "1", URL: srv.URL + "/status/200"},
		{ID: "2", URL: srv.URL + "/status/404"},
	}}

	events := collect(t, d.Run(context.Background(), batch, limiter.New(2), state))

	require.Len(t, events, 2)
	byID := map[string]int{}
	for _, evt := range events {
		byID[evt.Result.ID] = evt.Result.StatusCode
		require.Equal(t, probe.DefaultProtocol, evt.Result.Protocol)
	}
	require.Equal(t, map[string]int{"1": 200, "2": 404}, byID)

	final := state.Snapshot()
	require.Equal(t, 1, final.SuccessCount)
	require.Equal(t, 1, final.FailureCount)
	require.Equal(t, 2, final.RecordsProcessed)
	require.Equal(t, map[int]int{200: 1, 404: 1}, final.StatusCodes)
}

func TestRunRecordsSpans(t *testing.T) {
	t.Parallel()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	d := New(&fakeProber{}, WithTracer(tp.Tracer("test")))
	collect(t, d.Run(context.Background(), Batch{ID: "b", Records: records(200, 404)}, limiter.New(2), aggregate.New()))

	names := map[string]int{}
	for _, span := range sr.Ended() {
		names[span.Name()]++
	}
	require.Equal(t, map[string]int{"dispatcher.batch": 1, "dispatcher.probe": 2}, names)
}

type slowPolicy struct {
	waits atomic.Int64
}

func (s *slowPolicy) Wait(ctx context.Context, _ string) error {
	s.waits.Add(1)
	return ctx.Err()
}

func TestRunConsultsPolitenessForValidTargets(t *testing.T) {
	t.Parallel()

	pol := &slowPolicy{}
	d := New(&fakeProber{}, WithPoliteness(pol))
	batch := Batch{ID: "b", Records: []probe.Record{
		{ID: "1", URL: "example.com/200"},
		{ID: "2", URL: "bad@example.com"},
	}}
	events := collect(t, d.Run(context.Background(), batch, limiter.New(2), aggregate.New()))

	require.Len(t, events, 2)
	require.Equal(t, int64(1), pol.waits.Load())
}

func TestSiteOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.com", siteOf(probe.Record{URL: " Example.com/x "}, probe.Outcome{Kind: probe.KindResponded}))
	require.Equal(t, "", siteOf(probe.Record{URL: "a@b"}, probe.Outcome{Kind: probe.KindInvalid}))
}
