package sim

// A ComponentID uniquely identifies a component within a graph.
type ComponentID string

// A Component is a node in the simulation graph.
type Component interface {
	ID() ComponentID
	Ports() []PortSpec
}

// A Processor is a stateless component. Its outputs for a cycle are a pure
// function of its inputs for the same cycle.
type Processor interface {
	Component

	// Evaluate reads the inputs from ctx and publishes the outputs.
	Evaluate(ctx *EvalCtx) error
}

// A Memory is a stateful component. Its outputs for a cycle are computed
// from the memory state committed at the end of the previous cycle, and the
// writes it performs are staged until the end of the cycle.
type Memory interface {
	Component

	// Addresses declares the memory cells the component owns.
	Addresses() []AddressSpec

	// Evaluate publishes the outputs from committed state. Inputs are not
	// readable at this point.
	Evaluate(ctx *EvalCtx) error

	// Latch runs once every output of the cycle has settled. It reads the
	// inputs and stages writes through ctx.Memory().
	Latch(ctx *EvalCtx) error
}

// A Subscriber declares the event types a component wants to receive when
// they are broadcast.
type Subscriber interface {
	Subscriptions() []EventType
}

// ComponentBase provides the identity and port declarations of a component.
type ComponentBase struct {
	id    ComponentID
	ports []PortSpec
}

// NewComponentBase creates a new ComponentBase.
func NewComponentBase(id ComponentID, ports ...PortSpec) *ComponentBase {
	c := new(ComponentBase)
	c.id = id
	c.ports = append([]PortSpec(nil), ports...)

	return c
}

// ID returns the id of the component.
func (c *ComponentBase) ID() ComponentID {
	return c.id
}

// Ports returns the declared ports.
func (c *ComponentBase) Ports() []PortSpec {
	return append([]PortSpec(nil), c.ports...)
}

// AddPort declares an additional port. It must be called before the
// component is registered.
func (c *ComponentBase) AddPort(p PortSpec) {
	c.ports = append(c.ports, p)
}

// ProcessorFunc is the behaviour of a stateless component.
type ProcessorFunc func(ctx *EvalCtx) error

type funcProcessor struct {
	*ComponentBase

	fn   ProcessorFunc
	subs []EventType
}

// NewProcessorFunc wraps a function into a Processor.
func NewProcessorFunc(
	id ComponentID,
	ports []PortSpec,
	fn ProcessorFunc,
	subscriptions ...EventType,
) Processor {
	return &funcProcessor{
		ComponentBase: NewComponentBase(id, ports...),
		fn:            fn,
		subs:          subscriptions,
	}
}

func (p *funcProcessor) Evaluate(ctx *EvalCtx) error {
	return p.fn(ctx)
}

func (p *funcProcessor) Subscriptions() []EventType {
	return p.subs
}

func isMemory(c Component) bool {
	_, ok := c.(Memory)
	return ok
}
