package sim

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// recorder remembers the events it sees in every cycle.
type recorder struct {
	*ComponentBase
	subs []EventType
	seen map[uint64][]Event
}

func newRecorder(id ComponentID, subs ...EventType) *recorder {
	return &recorder{
		ComponentBase: NewComponentBase(id),
		subs:          subs,
		seen:          make(map[uint64][]Event),
	}
}

func (r *recorder) Subscriptions() []EventType {
	return r.subs
}

func (r *recorder) Evaluate(ctx *EvalCtx) error {
	if evts := ctx.Events(); len(evts) > 0 {
		r.seen[ctx.Cycle()] = evts
	}

	return nil
}

// emitter raises the events returned by gen in every cycle.
func emitter(id ComponentID, gen func(cycle uint64) []Event) Processor {
	return NewProcessorFunc(id, nil, func(ctx *EvalCtx) error {
		for _, e := range gen(ctx.Cycle()) {
			ctx.Raise(e)
		}

		return nil
	})
}

var _ = Describe("Events", func() {
	var g *Graph

	BeforeEach(func() {
		g = NewGraph()
	})

	It("should deliver broadcasts to subscribers in the next cycle", func() {
		sub := newRecorder("Sub", "tick")
		other := newRecorder("Other", "tock")
		src := emitter("Src", func(c uint64) []Event {
			if c != 0 {
				return nil
			}

			return []Event{NewEvent("tick", map[string]Value{"n": Int(1)})}
		})
		mustRegister(g, sub, other, src)
		e, _ := Build(g, SequentialMode())

		Expect(e.Cycle()).To(Succeed())
		Expect(sub.seen).To(BeEmpty())
		Expect(e.Pending("Sub")).To(HaveLen(1))
		Expect(e.Cycle()).To(Succeed())

		Expect(sub.seen).To(HaveKey(uint64(1)))
		evt := sub.seen[1][0]
		Expect(evt.Source).To(Equal(ComponentID("Src")))
		Expect(evt.ID).To(Equal("1"))
		n, ok := evt.Field("n")
		Expect(ok).To(BeTrue())
		Expect(n).To(Equal(Int(1)))
		Expect(other.seen).To(BeEmpty())
		Expect(e.LastReport().Events).To(BeZero())
	})

	It("should deliver a targeted event to its targets only", func() {
		a := newRecorder("A", "tick")
		b := newRecorder("B")
		src := emitter("Src", func(c uint64) []Event {
			return []Event{NewEvent("tick", nil).WithTargets("B")}
		})
		mustRegister(g, a, b, src)
		e, _ := Build(g, SequentialMode())

		Expect(e.Cycle()).To(Succeed())
		Expect(e.Cycle()).To(Succeed())

		Expect(a.seen).To(BeEmpty())
		Expect(b.seen[1]).To(HaveLen(1))
	})

	It("should drop deliveries to unknown targets without failing", func() {
		b := newRecorder("B")
		src := emitter("Src", func(c uint64) []Event {
			return []Event{NewEvent("ping", nil).WithTargets("Ghost", "B")}
		})
		mustRegister(g, b, src)
		e, _ := Build(g, SequentialMode())

		var dropped []*DeliveryError
		e.AcceptHook(HookFunc(func(ctx HookCtx) {
			if ctx.Pos == HookPosEventDropped {
				dropped = append(dropped, ctx.Item.(*DeliveryError))
			}
		}))

		Expect(e.Cycle()).To(Succeed())

		report := e.LastReport()
		Expect(report.Delivered).To(Equal(1))
		Expect(report.Dropped).To(HaveLen(1))
		Expect(errors.Is(report.Dropped[0], ErrUnknownTarget)).To(BeTrue())
		Expect(report.Dropped[0].Target).To(Equal(ComponentID("Ghost")))
		Expect(dropped).To(Equal(report.Dropped))
		Expect(e.Pending("B")).To(HaveLen(1))
		Expect(e.CurrentCycle()).To(Equal(uint64(1)))
	})

	It("should not report drops of a cycle that fails", func() {
		src := emitter("Src", func(c uint64) []Event {
			return []Event{NewEvent("ping", nil).WithTargets("Ghost")}
		})
		mustRegister(g,
			src,
			constant("C", 1),
			newCellWriter("W1", "a"),
			newCellWriter("W2", "a"))
		mustConnect(g, "C", "out", "W1", "in")
		mustConnect(g, "C", "out", "W2", "in")
		e, _ := Build(g, SequentialMode())

		dropped := 0
		e.AcceptHook(HookFunc(func(ctx HookCtx) {
			if ctx.Pos == HookPosEventDropped {
				dropped++
			}
		}))

		Expect(e.Cycle()).To(MatchError(ErrConflictingWrite))
		Expect(dropped).To(BeZero())
	})

	It("should give every recipient its own copy", func() {
		mutator := NewProcessorFunc("M", nil, func(ctx *EvalCtx) error {
			for _, evt := range ctx.Events() {
				evt.Payload["n"] = Int(99)
			}

			return nil
		}, "tick")
		b := newRecorder("B", "tick")
		src := emitter("Src", func(c uint64) []Event {
			return []Event{NewEvent("tick", map[string]Value{"n": Int(1)})}
		})
		mustRegister(g, mutator, b, src)
		e, _ := Build(g, SequentialMode())

		Expect(e.Cycle()).To(Succeed())
		Expect(e.Cycle()).To(Succeed())

		n, _ := b.seen[1][0].Field("n")
		Expect(n).To(Equal(Int(1)))
	})

	It("should drop the events of a failed cycle", func() {
		fail := true
		src := emitter("Src", func(c uint64) []Event {
			return []Event{NewEvent("tick", nil)}
		})
		flaky := NewProcessorFunc("F", nil, func(*EvalCtx) error {
			if fail {
				return errors.New("flaky")
			}

			return nil
		})
		sub := newRecorder("Sub", "tick")
		mustRegister(g, src, flaky, sub)
		e, _ := Build(g, SequentialMode())

		Expect(e.Cycle()).ToNot(Succeed())
		Expect(e.Pending("Sub")).To(BeEmpty())

		fail = false
		Expect(e.Cycle()).To(Succeed())
		Expect(e.Pending("Sub")).To(HaveLen(1))
	})

	It("should assign ids in execution order", func() {
		first := emitter("First", func(c uint64) []Event {
			return []Event{NewEvent("a", nil), NewEvent("b", nil)}
		})
		second := emitter("Second", func(c uint64) []Event {
			return []Event{NewEvent("c", nil)}
		})
		all := newRecorder("All", "a", "b", "c")
		mustRegister(g, all, first, second)
		e, _ := Build(g, ParallelMode(4))

		Expect(e.Cycle()).To(Succeed())

		pending := e.Pending("All")
		Expect(pending).To(HaveLen(3))
		Expect(pending[0].ID).To(Equal("1"))
		Expect(pending[0].Type).To(Equal(EventType("a")))
		Expect(pending[2].ID).To(Equal("3"))
		Expect(pending[2].Source).To(Equal(ComponentID("Second")))
	})
})
