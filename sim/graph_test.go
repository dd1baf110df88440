package sim

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Graph", func() {
	var g *Graph

	BeforeEach(func() {
		g = NewGraph()
		mustRegister(g, constant("A", 1), passThrough("B"), adder("C"))
	})

	It("should reject duplicate ids", func() {
		err := g.Register(constant("A", 2))

		Expect(err).To(MatchError(ErrDuplicateComponent))
		Expect(g.Components()).To(HaveLen(3))
	})

	It("should reject ports with invalid defaults", func() {
		p := NewProcessorFunc("D",
			[]PortSpec{InPort("in", IntType).WithDefault(String("x"))},
			func(*EvalCtx) error { return nil })

		Expect(g.Register(p)).To(MatchError(ErrTypeMismatch))
		Expect(g.Has("D")).To(BeFalse())
	})

	It("should connect an output to an input", func() {
		Expect(g.Connect("A", "out", "B", "in")).To(Succeed())

		Expect(g.Connections()).To(ConsistOf(Connection{
			Source: Ref("A", "out"),
			Target: Ref("B", "in"),
		}))
	})

	DescribeTable("rejecting invalid connections",
		func(src ComponentID, srcPort string, dst ComponentID, dstPort string, cause error) {
			version := g.Version()

			err := g.Connect(src, srcPort, dst, dstPort)

			Expect(err).To(MatchError(cause))
			var connErr *ConnectionError
			Expect(err).To(BeAssignableToTypeOf(connErr))
			Expect(g.Connections()).To(BeEmpty())
			Expect(g.Version()).To(Equal(version))
		},
		Entry("unknown source", ComponentID("X"), "out", ComponentID("B"), "in", ErrUnknownComponent),
		Entry("unknown target", ComponentID("A"), "out", ComponentID("X"), "in", ErrUnknownComponent),
		Entry("missing port", ComponentID("A"), "nope", ComponentID("B"), "in", ErrUnknownPort),
		Entry("input as source", ComponentID("B"), "in", ComponentID("C"), "a", ErrUnknownPort),
		Entry("output as target", ComponentID("A"), "out", ComponentID("B"), "out", ErrUnknownPort),
	)

	It("should reject connections between different types", func() {
		mustRegister(g, NewProcessorFunc("S",
			[]PortSpec{OutPort("out", StringType)},
			func(*EvalCtx) error { return nil }))

		err := g.Connect("S", "out", "B", "in")

		Expect(err).To(MatchError(ErrTypeMismatch))
	})

	It("should reject a second driver of an input", func() {
		mustConnect(g, "A", "out", "B", "in")
		mustConnect(g, "B", "out", "C", "a")

		err := g.Connect("A", "out", "C", "a")

		Expect(err).To(MatchError(ErrPortAlreadyBound))
		Expect(g.Connections()).To(HaveLen(2))
	})

	It("should allow fan-out", func() {
		mustConnect(g, "A", "out", "C", "a")
		mustConnect(g, "A", "out", "C", "b")

		deps, err := g.DependentsOf("A")

		Expect(err).ToNot(HaveOccurred())
		Expect(deps).To(Equal([]ComponentID{"C"}))
	})

	It("should list dependencies in registration order", func() {
		mustConnect(g, "B", "out", "C", "b")
		mustConnect(g, "A", "out", "C", "a")

		deps, err := g.DependenciesOf("C")

		Expect(err).ToNot(HaveOccurred())
		Expect(deps).To(Equal([]ComponentID{"A", "B"}))
	})

	It("should fail to list the dependencies of an unknown component", func() {
		_, err := g.DependenciesOf("X")

		Expect(err).To(MatchError(ErrUnknownComponent))
	})

	It("should disconnect", func() {
		mustConnect(g, "A", "out", "B", "in")
		mustConnect(g, "B", "out", "C", "a")

		Expect(g.Disconnect("B", "in")).To(Succeed())

		Expect(g.Connections()).To(ConsistOf(Connection{
			Source: Ref("B", "out"),
			Target: Ref("C", "a"),
		}))
		Expect(g.Connect("A", "out", "B", "in")).To(Succeed())
	})

	It("should bump the version on every change", func() {
		v0 := g.Version()
		mustConnect(g, "A", "out", "B", "in")
		v1 := g.Version()
		Expect(g.Subscribe("C", "tick")).To(Succeed())
		v2 := g.Version()

		Expect(v1).To(BeNumerically(">", v0))
		Expect(v2).To(BeNumerically(">", v1))
	})

	It("should keep subscribers in registration order", func() {
		Expect(g.Subscribe("C", "tick")).To(Succeed())
		Expect(g.Subscribe("A", "tick")).To(Succeed())
		Expect(g.Subscribe("A", "tick")).To(Succeed())

		Expect(g.Subscribers("tick")).To(Equal([]ComponentID{"A", "C"}))
		Expect(g.Subscribe("X", "tick")).To(MatchError(ErrUnknownComponent))
	})

	It("should reject memories sharing an address with another type", func() {
		mustRegister(g, newCellWriter("M1", "shared"))

		m := register("M2", 0)
		other := NewStateful("M3", nil, StatefulSpec[string]{Codec: StringCodec{}})
		Expect(g.Register(m)).To(Succeed())
		Expect(g.Register(other)).To(Succeed())

		bad := &cellWriter{
			ComponentBase: NewComponentBase("M4"),
			addrs:         []AddressSpec{Cell("shared", StringType)},
		}
		Expect(g.Register(bad)).To(MatchError(ErrTypeMismatch))
	})
})
