package sim

import "fmt"

// A ValueCodec converts a Go state type to and from a Value.
type ValueCodec[S any] interface {
	Type() Type
	Encode(s S) Value
	Decode(v Value) (S, error)
}

// IntCodec stores an int64 state.
type IntCodec struct{}

func (IntCodec) Type() Type                    { return IntType }
func (IntCodec) Encode(s int64) Value          { return Int(s) }
func (IntCodec) Decode(v Value) (int64, error) { return v.AsInt() }

// FloatCodec stores a float64 state.
type FloatCodec struct{}

func (FloatCodec) Type() Type                      { return FloatType }
func (FloatCodec) Encode(s float64) Value          { return Float(s) }
func (FloatCodec) Decode(v Value) (float64, error) { return v.AsFloat() }

// BoolCodec stores a bool state.
type BoolCodec struct{}

func (BoolCodec) Type() Type                   { return BoolType }
func (BoolCodec) Encode(s bool) Value          { return Bool(s) }
func (BoolCodec) Decode(v Value) (bool, error) { return v.AsBool() }

// StringCodec stores a string state.
type StringCodec struct{}

func (StringCodec) Type() Type                     { return StringType }
func (StringCodec) Encode(s string) Value          { return String(s) }
func (StringCodec) Decode(v Value) (string, error) { return v.AsString() }

// FuncCodec builds a codec from a pair of functions.
type FuncCodec[S any] struct {
	T        Type
	EncodeFn func(S) Value
	DecodeFn func(Value) (S, error)
}

func (c FuncCodec[S]) Type() Type                { return c.T }
func (c FuncCodec[S]) Encode(s S) Value          { return c.EncodeFn(s) }
func (c FuncCodec[S]) Decode(v Value) (S, error) { return c.DecodeFn(v) }

// StatefulSpec describes a memory component that keeps a single typed state.
type StatefulSpec[S any] struct {
	Codec   ValueCodec[S]
	Initial S

	// Output publishes the outputs of a cycle from the committed state.
	Output func(ctx *EvalCtx, state S) error

	// Next computes the state of the next cycle from the committed state and
	// the settled inputs. A nil Next keeps the state constant.
	Next func(ctx *EvalCtx, state S) (S, error)

	Subscriptions []EventType
}

// Stateful is a Memory that stores its state at a single address named after
// the component.
type Stateful[S any] struct {
	*ComponentBase
	spec StatefulSpec[S]
	addr Address
}

// NewStateful creates a stateful component. The state is stored at
// "<id>.state".
func NewStateful[S any](
	id ComponentID,
	ports []PortSpec,
	spec StatefulSpec[S],
) *Stateful[S] {
	if spec.Codec == nil {
		panic("stateful component requires a codec")
	}

	return &Stateful[S]{
		ComponentBase: NewComponentBase(id, ports...),
		spec:          spec,
		addr:          Address(string(id) + ".state"),
	}
}

// StateAddress returns the address holding the state.
func (s *Stateful[S]) StateAddress() Address {
	return s.addr
}

// Addresses declares the state cell.
func (s *Stateful[S]) Addresses() []AddressSpec {
	return []AddressSpec{
		Cell(s.addr, s.spec.Codec.Type()).
			WithDefault(s.spec.Codec.Encode(s.spec.Initial)),
	}
}

// Subscriptions returns the broadcast event types the component receives.
func (s *Stateful[S]) Subscriptions() []EventType {
	return s.spec.Subscriptions
}

// Evaluate publishes the outputs.
func (s *Stateful[S]) Evaluate(ctx *EvalCtx) error {
	if s.spec.Output == nil {
		return nil
	}

	state, err := s.load(ctx)
	if err != nil {
		return err
	}

	return s.spec.Output(ctx, state)
}

// Latch stages the next state.
func (s *Stateful[S]) Latch(ctx *EvalCtx) error {
	if s.spec.Next == nil {
		return nil
	}

	state, err := s.load(ctx)
	if err != nil {
		return err
	}

	next, err := s.spec.Next(ctx, state)
	if err != nil {
		return err
	}

	return ctx.Memory().Write(s.addr, s.spec.Codec.Encode(next))
}

func (s *Stateful[S]) load(ctx *EvalCtx) (S, error) {
	v, err := ctx.Memory().Read(s.addr)
	if err != nil {
		var zero S
		return zero, err
	}

	state, err := s.spec.Codec.Decode(v)
	if err != nil {
		var zero S
		return zero, fmt.Errorf("decoding state of %s: %w", s.ID(), err)
	}

	return state, nil
}
