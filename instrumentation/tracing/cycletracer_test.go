package tracing

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/cyclesim/sim"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func attrOf(s sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range s.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}

	return attribute.Value{}, false
}

func spansNamed(spans []sdktrace.ReadOnlySpan, name string) []sdktrace.ReadOnlySpan {
	var out []sdktrace.ReadOnlySpan
	for _, s := range spans {
		if s.Name() == name {
			out = append(out, s)
		}
	}

	return out
}

var _ = Describe("CycleTracer", func() {
	var (
		recorder *tracetest.SpanRecorder
		provider *sdktrace.TracerProvider
		broken   bool
	)

	BeforeEach(func() {
		recorder = tracetest.NewSpanRecorder()
		provider = sdktrace.NewTracerProvider(
			sdktrace.WithSpanProcessor(recorder))
		broken = false
	})

	It("should emit one span per committed cycle", func() {
		e := newEngine(sim.SequentialMode(), &broken)
		e.AcceptHook(NewCycleTracer(provider))

		Expect(e.Cycle()).To(Succeed())
		Expect(e.Cycle()).To(Succeed())

		spans := recorder.Ended()
		Expect(spans).To(HaveLen(2))

		for i, s := range spans {
			Expect(s.Name()).To(Equal("cycle"))
			Expect(s.Status().Code).To(Equal(codes.Ok))

			cycle, found := attrOf(s, "cycle")
			Expect(found).To(BeTrue())
			Expect(cycle.AsInt64()).To(Equal(int64(i)))

			deltas, _ := attrOf(s, "deltas")
			Expect(deltas.AsInt64()).To(Equal(int64(1)))

			Expect(s.Events()).To(HaveLen(1))
			Expect(s.Events()[0].Name).To(Equal("event dropped"))
		}
	})

	It("should mark failed cycles as errors", func() {
		e := newEngine(sim.SequentialMode(), &broken)
		e.AcceptHook(NewCycleTracer(provider))

		broken = true
		Expect(e.Cycle()).NotTo(Succeed())

		spans := recorder.Ended()
		Expect(spans).To(HaveLen(1))
		Expect(spans[0].Status().Code).To(Equal(codes.Error))
		Expect(spans[0].Status().Description).To(ContainSubstring("broken"))
	})

	It("should nest component spans under the cycle span", func() {
		e := newEngine(sim.ParallelMode(2), &broken)
		e.AcceptHook(NewCycleTracer(provider).WithComponentSpans())

		Expect(e.Cycle()).To(Succeed())

		spans := recorder.Ended()
		cycles := spansNamed(spans, "cycle")
		Expect(cycles).To(HaveLen(1))
		Expect(spansNamed(spans, sim.PhaseEvaluate)).To(HaveLen(2))
		Expect(spansNamed(spans, sim.PhaseLatch)).To(HaveLen(1))

		for _, s := range spans {
			if s.Name() == "cycle" {
				continue
			}

			Expect(s.Parent().SpanID()).To(Equal(cycles[0].SpanContext().SpanID()))
		}
	})

	It("should close unfinished component spans of a failed cycle", func() {
		e := newEngine(sim.SequentialMode(), &broken)
		e.AcceptHook(NewCycleTracer(provider).WithComponentSpans())

		broken = true
		Expect(e.Cycle()).NotTo(Succeed())

		spans := recorder.Ended()
		evals := spansNamed(spans, sim.PhaseEvaluate)
		Expect(evals).To(HaveLen(1))
		Expect(evals[0].Status().Code).To(Equal(codes.Error))
		Expect(recorder.Started()).To(HaveLen(len(spans)))
	})
})
