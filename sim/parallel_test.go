package sim

import (
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// pipeline builds a graph with several tiers, feedback through registers,
// shared-nothing memories, and event traffic.
func pipeline(width int) (*Graph, []PortRef) {
	g := NewGraph()
	var observed []PortRef

	mustRegister(g, counter("Clock"))
	for i := range width {
		reg := ComponentID(fmt.Sprintf("R%d", i))
		add := ComponentID(fmt.Sprintf("Add%d", i))
		mul := ComponentID(fmt.Sprintf("Mul%d", i))
		factor := int64(i + 2)

		mustRegister(g,
			register(reg, int64(i)),
			adder(add),
			NewProcessorFunc(mul,
				[]PortSpec{InPort("in", IntType), OutPort("out", IntType)},
				func(ctx *EvalCtx) error {
					v, err := ctx.Inputs().Int("in")
					if err != nil {
						return err
					}

					if v%3 == 0 {
						ctx.Raise(NewEvent("multiple", map[string]Value{
							"v": Int(v),
						}))
					}

					return ctx.Outputs().SetInt("out", (v*factor)%1000)
				}))
		mustConnect(g, reg, "q", add, "a")
		mustConnect(g, "Clock", "q", add, "b")
		mustConnect(g, add, "sum", mul, "in")
		mustConnect(g, mul, "out", reg, "d")

		observed = append(observed, Ref(mul, "out"), Ref(reg, "q"))
	}

	tally := NewStateful("Tally", []PortSpec{OutPort("n", IntType)},
		StatefulSpec[int64]{
			Codec: IntCodec{},
			Output: func(ctx *EvalCtx, s int64) error {
				return ctx.Outputs().SetInt("n", s)
			},
			Next: func(ctx *EvalCtx, s int64) (int64, error) {
				for _, e := range ctx.EventsOf("multiple") {
					v, _ := e.Field("v")
					i, _ := v.AsInt()
					s += i
				}

				return s % 100000, nil
			},
			Subscriptions: []EventType{"multiple"},
		})
	mustRegister(g, tally)
	observed = append(observed, Ref("Tally", "n"))

	return g, observed
}

type trace struct {
	outputs [][]Value
	memory  []map[Address]Value
	events  []int
}

func runPipeline(cfg Config, cycles int) trace {
	g, observed := pipeline(6)
	e, err := Build(g, cfg)
	Expect(err).ToNot(HaveOccurred())

	var t trace
	for range cycles {
		Expect(e.Cycle()).To(Succeed())

		var row []Value
		for _, ref := range observed {
			v, err := e.Output(ref)
			Expect(err).ToNot(HaveOccurred())
			row = append(row, v)
		}
		t.outputs = append(t.outputs, row)
		t.memory = append(t.memory, e.Memory().Snapshot())
		t.events = append(t.events, e.LastReport().Events)
	}

	return t
}

var _ = Describe("Parallel execution", func() {
	It("should produce the same results as sequential execution", func() {
		seq := runPipeline(SequentialMode(), 25)

		for _, workers := range []int{1, 2, 4, 16} {
			par := runPipeline(ParallelMode(workers), 25)

			Expect(par.outputs).To(Equal(seq.outputs), "workers=%d", workers)
			Expect(par.memory).To(Equal(seq.memory), "workers=%d", workers)
			Expect(par.events).To(Equal(seq.events), "workers=%d", workers)
		}
	})

	It("should size the worker pool from GOMAXPROCS", func() {
		g, _ := pipeline(1)
		e, err := Build(g, ParallelMode(0))

		Expect(err).ToNot(HaveOccurred())
		Expect(e.Workers()).To(BeNumerically(">=", 1))
		Expect(e.Mode()).To(Equal(Parallel))
	})

	It("should report the failure that comes first in the sequence", func() {
		g := NewGraph()
		mustRegister(g, constant("A", 1), failing("F2"), failing("F1"))
		e, _ := Build(g, ParallelMode(4))

		err := e.Cycle()

		var evalErr *EvaluationError
		Expect(errors.As(err, &evalErr)).To(BeTrue())
		Expect(evalErr.Component).To(Equal(ComponentID("F2")))
		Expect(e.CurrentCycle()).To(BeZero())
	})

	It("should not evaluate later tiers after a failure", func() {
		g := NewGraph()
		reached := false
		mustRegister(g, failing("F"), NewProcessorFunc("After",
			[]PortSpec{InPort("in", IntType)},
			func(*EvalCtx) error {
				reached = true
				return nil
			}))
		mustConnect(g, "F", "out", "After", "in")
		e, _ := Build(g, ParallelMode(2))

		Expect(e.Cycle()).To(MatchError(ErrEvaluation))
		Expect(reached).To(BeFalse())
	})
})
