package tracing

import (
	"context"
	"sync"

	"github.com/sarchlab/cyclesim/sim"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the name under which the tracer is obtained from a
// TracerProvider.
const InstrumentationName = "github.com/sarchlab/cyclesim"

type evalKey struct {
	id    sim.ComponentID
	phase string
}

// A CycleTracer is a hook that records cycles as spans.
type CycleTracer struct {
	tracer         trace.Tracer
	componentSpans bool

	lock     sync.Mutex
	cycleCtx context.Context
	cycle    trace.Span
	evals    map[evalKey]trace.Span
}

// NewCycleTracer creates a CycleTracer from a provider.
func NewCycleTracer(provider trace.TracerProvider) *CycleTracer {
	return &CycleTracer{
		tracer: provider.Tracer(InstrumentationName),
		evals:  make(map[evalKey]trace.Span),
	}
}

// WithComponentSpans makes the tracer open a child span for every component
// evaluation and latch.
func (t *CycleTracer) WithComponentSpans() *CycleTracer {
	t.componentSpans = true
	return t
}

// Func handles the hook.
func (t *CycleTracer) Func(ctx sim.HookCtx) {
	switch ctx.Pos {
	case sim.HookPosBeforeCycle:
		t.startCycle(ctx)
	case sim.HookPosAfterCycle:
		t.endCycle(ctx.Item.(sim.CycleReport), nil)
	case sim.HookPosCycleFailed:
		t.endCycle(ctx.Detail.(sim.CycleReport), ctx.Item.(error))
	case sim.HookPosEventDropped:
		t.dropped(ctx.Item.(*sim.DeliveryError))
	case sim.HookPosBeforeEvaluate:
		if t.componentSpans {
			t.startEval(ctx)
		}
	case sim.HookPosAfterEvaluate:
		if t.componentSpans {
			t.endEval(ctx)
		}
	}
}

func (t *CycleTracer) startCycle(ctx sim.HookCtx) {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.cycleCtx, t.cycle = t.tracer.Start(context.Background(), "cycle",
		trace.WithAttributes(attribute.Int64("cycle", int64(ctx.Cycle))))
}

func (t *CycleTracer) endCycle(r sim.CycleReport, err error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.cycle == nil {
		return
	}

	t.cycle.SetAttributes(
		attribute.Int("evaluated", r.Evaluated),
		attribute.Int("latched", r.Latched),
		attribute.Int("events", r.Events),
		attribute.Int("delivered", r.Delivered),
		attribute.Int("dropped", len(r.Dropped)),
		attribute.Int("deltas", r.DeltasCommitted()),
	)

	if err != nil {
		t.cycle.RecordError(err)
		t.cycle.SetStatus(codes.Error, err.Error())
	} else {
		t.cycle.SetStatus(codes.Ok, "")
	}

	// Evaluations that never finished belong to the failed cycle.
	for k, s := range t.evals {
		s.SetStatus(codes.Error, "aborted")
		s.End()
		delete(t.evals, k)
	}

	t.cycle.End()
	t.cycle = nil
	t.cycleCtx = nil
}

func (t *CycleTracer) dropped(d *sim.DeliveryError) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.cycle == nil {
		return
	}

	t.cycle.AddEvent("event dropped", trace.WithAttributes(
		attribute.String("event.id", d.EventID),
		attribute.String("event.type", string(d.Type)),
		attribute.String("event.source", string(d.Source)),
		attribute.String("event.target", string(d.Target)),
	))
}

func (t *CycleTracer) startEval(ctx sim.HookCtx) {
	comp := ctx.Item.(sim.Component)
	phase := ctx.Detail.(string)

	t.lock.Lock()
	defer t.lock.Unlock()

	if t.cycleCtx == nil {
		return
	}

	_, span := t.tracer.Start(t.cycleCtx, phase,
		trace.WithAttributes(
			attribute.String("component", string(comp.ID())),
			attribute.String("phase", phase),
		))
	t.evals[evalKey{comp.ID(), phase}] = span
}

func (t *CycleTracer) endEval(ctx sim.HookCtx) {
	key := evalKey{ctx.Item.(sim.Component).ID(), ctx.Detail.(string)}

	t.lock.Lock()
	span, found := t.evals[key]
	delete(t.evals, key)
	t.lock.Unlock()

	if found {
		span.End()
	}
}
