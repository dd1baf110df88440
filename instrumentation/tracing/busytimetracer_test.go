package tracing

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/cyclesim/sim"
)

var _ = Describe("BusyTimeTracer", func() {
	var (
		tracer *BusyTimeTracer
		clock  time.Time
		broken bool
	)

	BeforeEach(func() {
		broken = false
		clock = time.Unix(0, 0)
	})

	tick := func() time.Time {
		clock = clock.Add(time.Millisecond)
		return clock
	}

	It("should accumulate the time of every component", func() {
		tracer = NewBusyTimeTracer(nil)
		tracer.now = tick

		e := newEngine(sim.SequentialMode(), &broken)
		e.AcceptHook(tracer)

		for range 3 {
			Expect(e.Cycle()).To(Succeed())
		}

		Expect(tracer.BusyTime("src")).To(Equal(3 * time.Millisecond))
		Expect(tracer.BusyTime("reg")).To(Equal(6 * time.Millisecond))
		Expect(tracer.TotalTime()).To(Equal(9 * time.Millisecond))

		top := tracer.Busiest(1)
		Expect(top).To(HaveLen(1))
		Expect(top[0].Component).To(Equal(sim.ComponentID("reg")))
		Expect(top[0].Evaluations).To(Equal(uint64(6)))
	})

	It("should skip filtered components", func() {
		tracer = NewBusyTimeTracer(func(c sim.Component) bool {
			return c.ID() == "reg"
		})
		tracer.now = tick

		e := newEngine(sim.SequentialMode(), &broken)
		e.AcceptHook(tracer)
		Expect(e.Cycle()).To(Succeed())

		Expect(tracer.BusyTime("src")).To(BeZero())
		Expect(tracer.Busiest(-1)).To(HaveLen(1))
	})

	It("should not count failed evaluations", func() {
		tracer = NewBusyTimeTracer(nil)
		tracer.now = tick

		e := newEngine(sim.SequentialMode(), &broken)
		e.AcceptHook(tracer)

		broken = true
		Expect(e.Cycle()).NotTo(Succeed())

		Expect(tracer.TotalTime()).To(BeZero())
		Expect(tracer.inflight).To(BeEmpty())
	})
})
