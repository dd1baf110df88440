package sim

// Phase names passed as HookCtx.Detail and recorded in EvaluationError.
const (
	PhaseEvaluate = "evaluate"
	PhaseLatch    = "latch"
)

// EvalCtx is what a component sees while it is evaluated. It is owned by the
// engine and valid only for the duration of the call it is passed to.
type EvalCtx struct {
	cycle   uint64
	id      ComponentID
	phase   string
	inputs  Inputs
	outputs Outputs
	memory  *MemoryProxy
	inbox   []Event
	raised  []Event
}

// Cycle returns the number of the cycle being simulated.
func (c *EvalCtx) Cycle() uint64 {
	return c.cycle
}

// ComponentID returns the id of the component being evaluated.
func (c *EvalCtx) ComponentID() ComponentID {
	return c.id
}

// Phase returns PhaseEvaluate or PhaseLatch.
func (c *EvalCtx) Phase() string {
	return c.phase
}

// Inputs returns the values on the input ports.
func (c *EvalCtx) Inputs() Inputs {
	return c.inputs
}

// Outputs returns the output ports.
func (c *EvalCtx) Outputs() Outputs {
	return c.outputs
}

// Memory returns the memory proxy of the component. Every operation of the
// proxy fails with ErrMemoryNotFound if the component is not a Memory.
func (c *EvalCtx) Memory() *MemoryProxy {
	return c.memory
}

// Events returns a copy of the events delivered to the component at the end
// of the previous cycle.
func (c *EvalCtx) Events() []Event {
	out := make([]Event, len(c.inbox))
	for i, e := range c.inbox {
		out[i] = e.Clone()
	}

	return out
}

// EventsOf returns the delivered events of the given type.
func (c *EvalCtx) EventsOf(t EventType) []Event {
	var out []Event
	for _, e := range c.inbox {
		if e.Type == t {
			out = append(out, e.Clone())
		}
	}

	return out
}

// Raise enqueues an event. The engine routes it after the evaluation phase
// and its recipients see it in the next cycle. The source is always set to
// the raising component.
func (c *EvalCtx) Raise(e Event) {
	evt := e.Clone()
	evt.Source = c.id
	c.raised = append(c.raised, evt)
}
