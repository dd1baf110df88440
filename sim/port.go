package sim

import "fmt"

// Direction tells if a port receives or produces values.
type Direction uint8

// Port directions.
const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Output {
		return "output"
	}

	return "input"
}

// A PortSpec declares a named, typed endpoint of a component.
type PortSpec struct {
	Name      string
	Direction Direction
	Type      Type

	// Default is what an unbound input reads, and what an output carries in
	// a cycle in which its component does not set it. The zero value of Type
	// is used when Default is not valid.
	Default Value
}

// InPort declares an input port.
func InPort(name string, t Type) PortSpec {
	return PortSpec{Name: name, Direction: Input, Type: t}
}

// OutPort declares an output port.
func OutPort(name string, t Type) PortSpec {
	return PortSpec{Name: name, Direction: Output, Type: t}
}

// WithDefault returns a copy of the port spec with the given default value.
func (p PortSpec) WithDefault(v Value) PortSpec {
	p.Default = v
	return p
}

func (p PortSpec) defaultValue() Value {
	if p.Default.IsValid() {
		return p.Default
	}

	return ZeroOf(p.Type)
}

func (p PortSpec) mustBeValid(owner ComponentID) error {
	if p.Name == "" {
		return fmt.Errorf("%w: component %s declares a port without name",
			ErrUnknownPort, owner)
	}

	if !p.Type.IsValid() {
		return fmt.Errorf("%w: port %s.%s has invalid type %s",
			ErrTypeMismatch, owner, p.Name, p.Type)
	}

	if p.Default.IsValid() && p.Default.Type() != p.Type {
		return fmt.Errorf("%w: default of port %s.%s is %s, port is %s",
			ErrTypeMismatch, owner, p.Name, p.Default.Type(), p.Type)
	}

	return nil
}

// A PortRef identifies a port by component id and port name.
type PortRef struct {
	Component ComponentID
	Port      string
}

// Ref builds a PortRef.
func Ref(id ComponentID, port string) PortRef {
	return PortRef{Component: id, Port: port}
}

func (r PortRef) String() string {
	return string(r.Component) + "." + r.Port
}

// portBinding resolves the ports of one component to channel slots.
type portBinding struct {
	owner   ComponentID
	specs   map[string]PortSpec
	outSlot map[string]int
	inSlot  map[string]int // -1 for unbound inputs
}

// Inputs gives a component typed access to the values on its input ports.
type Inputs struct {
	binding  *portBinding
	channels []Value
	readable bool
}

func (in Inputs) lookup(name string, want *Type) (Value, error) {
	spec, ok := in.binding.specs[name]
	if !ok || spec.Direction != Input {
		return Value{}, fmt.Errorf("%w: %s has no input %q",
			ErrInvalidPort, in.binding.owner, name)
	}

	if !in.readable {
		return Value{}, fmt.Errorf(
			"%w: inputs of memory %s are readable only while latching",
			ErrOperationFailed, in.binding.owner)
	}

	if want != nil && spec.Type != *want {
		return Value{}, fmt.Errorf("%w: input %s.%s is %s, requested %s",
			ErrTypeMismatch, in.binding.owner, name, spec.Type, *want)
	}

	slot := in.binding.inSlot[name]
	if slot < 0 {
		return spec.defaultValue(), nil
	}

	return in.channels[slot], nil
}

// Get returns the value on an input port.
func (in Inputs) Get(name string) (Value, error) {
	return in.lookup(name, nil)
}

// IsBound tells if an input port has an incoming connection.
func (in Inputs) IsBound(name string) bool {
	slot, ok := in.binding.inSlot[name]
	return ok && slot >= 0
}

// Int returns the value of an int input.
func (in Inputs) Int(name string) (int64, error) {
	v, err := in.lookup(name, &IntType)
	if err != nil {
		return 0, err
	}

	return v.AsInt()
}

// Float returns the value of a float input.
func (in Inputs) Float(name string) (float64, error) {
	v, err := in.lookup(name, &FloatType)
	if err != nil {
		return 0, err
	}

	return v.AsFloat()
}

// Bool returns the value of a bool input.
func (in Inputs) Bool(name string) (bool, error) {
	v, err := in.lookup(name, &BoolType)
	if err != nil {
		return false, err
	}

	return v.AsBool()
}

// String returns the value of a string input.
func (in Inputs) String(name string) (string, error) {
	v, err := in.lookup(name, &StringType)
	if err != nil {
		return "", err
	}

	return v.AsString()
}

// Record returns the value of a record input.
func (in Inputs) Record(name string) (Value, error) {
	v, err := in.lookup(name, nil)
	if err != nil {
		return Value{}, err
	}

	if v.Type().Kind != KindRecord {
		return Value{}, fmt.Errorf("%w: input %s.%s is %s, requested a record",
			ErrTypeMismatch, in.binding.owner, name, v.Type())
	}

	return v.Clone(), nil
}

// Outputs lets a component publish values on its output ports.
type Outputs struct {
	binding  *portBinding
	channels []Value
	writable bool
}

// Set publishes a value on an output port. The value type must match the
// declared port type.
func (o Outputs) Set(name string, v Value) error {
	spec, ok := o.binding.specs[name]
	if !ok || spec.Direction != Output {
		return fmt.Errorf("%w: %s has no output %q",
			ErrInvalidPort, o.binding.owner, name)
	}

	if !o.writable {
		return fmt.Errorf("%w: outputs of %s are already settled",
			ErrOperationFailed, o.binding.owner)
	}

	if v.Type() != spec.Type {
		return fmt.Errorf("%w: output %s.%s is %s, got %s",
			ErrTypeMismatch, o.binding.owner, name, spec.Type, v.Type())
	}

	o.channels[o.binding.outSlot[name]] = v.Clone()

	return nil
}

// SetInt publishes an int.
func (o Outputs) SetInt(name string, v int64) error {
	return o.Set(name, Int(v))
}

// SetFloat publishes a float.
func (o Outputs) SetFloat(name string, v float64) error {
	return o.Set(name, Float(v))
}

// SetBool publishes a bool.
func (o Outputs) SetBool(name string, v bool) error {
	return o.Set(name, Bool(v))
}

// SetString publishes a string.
func (o Outputs) SetString(name string, v string) error {
	return o.Set(name, String(v))
}
