package sim

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Memory", func() {
	var g *Graph

	BeforeEach(func() {
		g = NewGraph()
	})

	It("should make a write visible in the next cycle only", func() {
		var seen []int64
		m := NewStateful("M", nil, StatefulSpec[int64]{
			Codec: IntCodec{},
			Output: func(ctx *EvalCtx, s int64) error {
				seen = append(seen, s)
				return nil
			},
			Next: func(ctx *EvalCtx, s int64) (int64, error) {
				v, err := ctx.Memory().ReadInt("M.state")
				if err != nil {
					return 0, err
				}
				Expect(v).To(Equal(s))

				return 10 + int64(ctx.Cycle()), nil
			},
		})
		mustRegister(g, m)
		e, _ := Build(g, SequentialMode())

		for range 3 {
			Expect(e.Cycle()).To(Succeed())
		}

		Expect(seen).To(Equal([]int64{0, 10, 11}))
		Expect(e.Memory().Peek("M.state")).To(Equal(Int(12)))
	})

	It("should read the committed value after writing in the same cycle", func() {
		w := &probeMemory{
			ComponentBase: NewComponentBase("W"),
			latch: func(ctx *EvalCtx) error {
				Expect(ctx.Memory().Write("x", Int(5))).To(Succeed())
				Expect(ctx.Memory().Write("x", Int(6))).To(Succeed())

				v, err := ctx.Memory().Read("x")
				Expect(err).ToNot(HaveOccurred())
				Expect(v).To(Equal(Int(1)))

				return nil
			},
			addrs: []AddressSpec{Cell("x", IntType).WithDefault(Int(1))},
		}
		mustRegister(g, w)
		e, _ := Build(g, SequentialMode())

		Expect(e.Cycle()).To(Succeed())

		Expect(e.Memory().Peek("x")).To(Equal(Int(6)))
		Expect(e.LastReport().DeltasCommitted()).To(Equal(1))
	})

	It("should read the zero value of a never written address", func() {
		mustRegister(g, newCellWriter("W", "a"))
		e, _ := Build(g, SequentialMode())

		Expect(e.Memory().Peek("a")).To(Equal(Int(0)))
		_, err := e.Memory().Peek("nope")
		Expect(err).To(MatchError(ErrInvalidAddress))
	})

	It("should let memories share an address", func() {
		mustRegister(g, constant("C", 4), newCellWriter("W1", "shared"))
		reader := &probeMemory{
			ComponentBase: NewComponentBase("W2", OutPort("out", IntType)),
			addrs:         []AddressSpec{Cell("shared", IntType)},
			eval: func(ctx *EvalCtx) error {
				v, err := ctx.Memory().Read("shared")
				if err != nil {
					return err
				}

				return ctx.Outputs().Set("out", v)
			},
		}
		mustRegister(g, reader)
		mustConnect(g, "C", "out", "W1", "in")
		e, _ := Build(g, SequentialMode())

		Expect(e.Cycle()).To(Succeed())
		Expect(mustOutput(e, "W2", "out")).To(Equal(int64(0)))
		Expect(e.Cycle()).To(Succeed())
		Expect(mustOutput(e, "W2", "out")).To(Equal(int64(4)))
	})

	It("should fail the cycle on conflicting writes", func() {
		mustRegister(g,
			constant("C", 1),
			newCellWriter("W1", "b", "a"),
			newCellWriter("W2", "a", "b"))
		mustConnect(g, "C", "out", "W1", "in")
		mustConnect(g, "C", "out", "W2", "in")
		e, _ := Build(g, SequentialMode())

		err := e.Cycle()

		Expect(err).To(MatchError(ErrConflictingWrite))
		var conflict *ConflictError
		Expect(errors.As(err, &conflict)).To(BeTrue())
		Expect(conflict.Address).To(Equal(Address("a")))
		Expect(conflict.Writers).To(Equal([]ComponentID{"W1", "W2"}))
		Expect(e.Memory().Peek("a")).To(Equal(Int(0)))
		Expect(e.Memory().Peek("b")).To(Equal(Int(0)))
		Expect(e.CurrentCycle()).To(BeZero())
	})

	It("should reject writes to addresses the component did not declare", func() {
		mustRegister(g, newCellWriter("Other", "theirs"))
		w := &probeMemory{
			ComponentBase: NewComponentBase("W"),
			addrs:         []AddressSpec{Cell("mine", IntType)},
			latch: func(ctx *EvalCtx) error {
				return ctx.Memory().Write("theirs", Int(1))
			},
		}
		mustRegister(g, w)
		e, _ := Build(g, SequentialMode())

		err := e.Cycle()

		Expect(err).To(MatchError(ErrInvalidAddress))
		var memErr *MemoryError
		Expect(errors.As(err, &memErr)).To(BeTrue())
		Expect(memErr.Op).To(Equal("write"))
	})

	It("should reject writes of the wrong type", func() {
		w := &probeMemory{
			ComponentBase: NewComponentBase("W"),
			addrs:         []AddressSpec{Cell("x", IntType)},
			latch: func(ctx *EvalCtx) error {
				return ctx.Memory().Write("x", Bool(true))
			},
		}
		mustRegister(g, w)
		e, _ := Build(g, SequentialMode())

		Expect(e.Cycle()).To(MatchError(ErrTypeMismatch))
	})

	It("should deny memory access to processors", func() {
		p := NewProcessorFunc("P", nil, func(ctx *EvalCtx) error {
			_, err := ctx.Memory().Read("x")
			return err
		})
		mustRegister(g, p, newCellWriter("W", "x"))
		e, _ := Build(g, SequentialMode())

		Expect(e.Cycle()).To(MatchError(ErrMemoryNotFound))
	})

	It("should not let a memory read its inputs before latching", func() {
		r := &probeMemory{
			ComponentBase: NewComponentBase("R", InPort("in", IntType)),
			eval: func(ctx *EvalCtx) error {
				_, err := ctx.Inputs().Int("in")
				return err
			},
		}
		mustRegister(g, r)
		e, _ := Build(g, SequentialMode())

		Expect(e.Cycle()).To(MatchError(ErrOperationFailed))
	})

	It("should delay a feedback loop by one cycle", func() {
		mustRegister(g, register("R", 1), adder("Add"), constant("One", 1))
		mustConnect(g, "R", "q", "Add", "a")
		mustConnect(g, "One", "out", "Add", "b")
		mustConnect(g, "Add", "sum", "R", "d")
		e, _ := Build(g, SequentialMode())

		var qs []int64
		for range 4 {
			Expect(e.Cycle()).To(Succeed())
			qs = append(qs, mustOutput(e, "R", "q"))
		}

		Expect(qs).To(Equal([]int64{1, 2, 3, 4}))
	})
})

type probeMemory struct {
	*ComponentBase
	addrs []AddressSpec
	eval  func(ctx *EvalCtx) error
	latch func(ctx *EvalCtx) error
}

func (m *probeMemory) Addresses() []AddressSpec {
	return m.addrs
}

func (m *probeMemory) Evaluate(ctx *EvalCtx) error {
	if m.eval == nil {
		return nil
	}

	return m.eval(ctx)
}

func (m *probeMemory) Latch(ctx *EvalCtx) error {
	if m.latch == nil {
		return nil
	}

	return m.latch(ctx)
}
