package otel

import (
	"context"
	"time"

	otelglobal "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/NetPo4ki/go-syncx/mutex"
)

const instrumentationName = "github.com/NetPo4ki/go-syncx"

// Tracer implements latch.Observer and mutex.Observer on top of an
// OpenTelemetry tracer.
type Tracer struct {
	tracer trace.Tracer
}

// New returns a Tracer using tp, or the global provider when tp is nil.
func New(tp trace.TracerProvider) *Tracer {
	if tp == nil {
		tp = otelglobal.GetTracerProvider()
	}
	return &Tracer{tracer: tp.Tracer(instrumentationName)}
}

func (t *Tracer) record(ctx context.Context, name string, d time.Duration, err error, attrs ...attribute.KeyValue) {
	end := time.Now()
	_, span := t.tracer.Start(ctx, name,
		trace.WithTimestamp(end.Add(-d)),
		trace.WithAttributes(attrs...),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End(trace.WithTimestamp(end))
}

// LatchTicked adds an event to the span in ctx, if any.
func (t *Tracer) LatchTicked(ctx context.Context, remaining int) {
	trace.SpanFromContext(ctx).AddEvent("latch.tick", trace.WithAttributes(attribute.Int("latch.remaining", remaining)))
}

func (t *Tracer) LatchCompleted(ctx context.Context) {
	t.record(ctx, "latch.complete", 0, nil)
}

func (t *Tracer) LatchReset(ctx context.Context, count int) {
	t.record(ctx, "latch.reset", 0, nil, attribute.Int("latch.count", count))
}

func (t *Tracer) LatchWaited(ctx context.Context, wait time.Duration, signaled bool) {
	t.record(ctx, "latch.wait", wait, nil, attribute.Bool("latch.signaled", signaled))
}

func (t *Tracer) MutexAcquired(ctx context.Context, name string, outcome mutex.Outcome, wait time.Duration, err error) {
	t.record(ctx, "mutex.acquire", wait, err,
		attribute.String("mutex.name", name),
		attribute.String("mutex.outcome", outcome.String()),
	)
}

func (t *Tracer) MutexReleased(ctx context.Context, name string, held time.Duration, err error) {
	t.record(ctx, "mutex.hold", held, err, attribute.String("mutex.name", name))
}

// Nop is a no-op implementation of latch.Observer and mutex.Observer.
type Nop struct{}

// NewNop returns a no-op observer.
func NewNop() *Nop { return &Nop{} }

func (*Nop) LatchTicked(context.Context, int)                                           {}
func (*Nop) LatchCompleted(context.Context)                                             {}
func (*Nop) LatchReset(context.Context, int)                                            {}
func (*Nop) LatchWaited(context.Context, time.Duration, bool)                           {}
func (*Nop) MutexAcquired(context.Context, string, mutex.Outcome, time.Duration, error) {}
func (*Nop) MutexReleased(context.Context, string, time.Duration, error)                {}
