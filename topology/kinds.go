package topology

import (
	"fmt"
	"maps"
	"slices"

	"github.com/sarchlab/cyclesim/sim"
)

// A Factory creates the component described by a ComponentDoc. The ports and
// addresses are already converted.
type Factory func(
	doc ComponentDoc,
	ports []sim.PortSpec,
	addrs []sim.AddressSpec,
) (sim.Component, error)

// Kinds maps kind names to factories.
type Kinds map[string]Factory

// BuiltinKinds returns the kinds every document can use.
//
//   - stub: does nothing; its outputs carry their defaults.
//   - constant: publishes params.value on every output.
//   - add: publishes the sum of its int inputs on every int output.
//   - register: a memory that publishes its state on "q" and latches "d".
//   - counter: a memory that publishes its state on "q" and adds
//     params.step every cycle.
//   - emitter: raises an event of type params.event every cycle, sent to
//     params.targets or broadcast.
func BuiltinKinds() Kinds {
	return Kinds{
		"stub":     newStub,
		"constant": newConstant,
		"add":      newAdder,
		"register": newRegister,
		"counter":  newCounter,
		"emitter":  newEmitter,
	}
}

// Names returns the kind names in sorted order.
func (k Kinds) Names() []string {
	return slices.Sorted(maps.Keys(k))
}

type stub struct {
	*sim.ComponentBase
	subs []sim.EventType
}

func (s *stub) Evaluate(*sim.EvalCtx) error    { return nil }
func (s *stub) Subscriptions() []sim.EventType { return s.subs }

type stubMemory struct {
	*stub
	addrs []sim.AddressSpec
}

func (s *stubMemory) Addresses() []sim.AddressSpec { return s.addrs }
func (s *stubMemory) Latch(*sim.EvalCtx) error     { return nil }

func newStub(
	doc ComponentDoc,
	ports []sim.PortSpec,
	addrs []sim.AddressSpec,
) (sim.Component, error) {
	s := &stub{
		ComponentBase: sim.NewComponentBase(sim.ComponentID(doc.ID), ports...),
		subs:          subscriptionsOf(doc),
	}

	if len(addrs) > 0 {
		return &stubMemory{stub: s, addrs: addrs}, nil
	}

	return s, nil
}

func mustHaveNoAddresses(doc ComponentDoc, addrs []sim.AddressSpec) error {
	if len(addrs) > 0 {
		return fmt.Errorf("%s component %s cannot declare addresses",
			doc.Kind, doc.ID)
	}

	return nil
}

func outputsOf(ports []sim.PortSpec) []sim.PortSpec {
	var outs []sim.PortSpec
	for _, p := range ports {
		if p.Direction == sim.Output {
			outs = append(outs, p)
		}
	}

	return outs
}

func subscriptionsOf(doc ComponentDoc) []sim.EventType {
	var subs []sim.EventType
	for _, t := range doc.Subscribe {
		subs = append(subs, sim.EventType(t))
	}

	return subs
}

func newConstant(
	doc ComponentDoc,
	ports []sim.PortSpec,
	addrs []sim.AddressSpec,
) (sim.Component, error) {
	if err := mustHaveNoAddresses(doc, addrs); err != nil {
		return nil, err
	}

	values := make(map[string]sim.Value)
	for _, p := range outputsOf(ports) {
		v, err := valueOf(p.Type, doc.Params["value"])
		if err != nil {
			return nil, fmt.Errorf("constant %s: %w", doc.ID, err)
		}
		values[p.Name] = v
	}

	return sim.NewProcessorFunc(sim.ComponentID(doc.ID), ports,
		func(ctx *sim.EvalCtx) error {
			for name, v := range values {
				if err := ctx.Outputs().Set(name, v); err != nil {
					return err
				}
			}

			return nil
		}, subscriptionsOf(doc)...), nil
}

func newAdder(
	doc ComponentDoc,
	ports []sim.PortSpec,
	addrs []sim.AddressSpec,
) (sim.Component, error) {
	if err := mustHaveNoAddresses(doc, addrs); err != nil {
		return nil, err
	}

	var ins, outs []string
	for _, p := range ports {
		if p.Type != sim.IntType {
			return nil, fmt.Errorf("add %s: port %s must be int", doc.ID, p.Name)
		}

		if p.Direction == sim.Input {
			ins = append(ins, p.Name)
		} else {
			outs = append(outs, p.Name)
		}
	}

	return sim.NewProcessorFunc(sim.ComponentID(doc.ID), ports,
		func(ctx *sim.EvalCtx) error {
			var sum int64
			for _, name := range ins {
				v, err := ctx.Inputs().Int(name)
				if err != nil {
					return err
				}
				sum += v
			}

			for _, name := range outs {
				if err := ctx.Outputs().SetInt(name, sum); err != nil {
					return err
				}
			}

			return nil
		}, subscriptionsOf(doc)...), nil
}

// valueCodec stores a value of a fixed type as is.
func valueCodec(t sim.Type) sim.ValueCodec[sim.Value] {
	return sim.FuncCodec[sim.Value]{
		T:        t,
		EncodeFn: func(v sim.Value) sim.Value { return v },
		DecodeFn: func(v sim.Value) (sim.Value, error) { return v, nil },
	}
}

func portNamed(ports []sim.PortSpec, name string, dir sim.Direction) (sim.PortSpec, bool) {
	for _, p := range ports {
		if p.Name == name && p.Direction == dir {
			return p, true
		}
	}

	return sim.PortSpec{}, false
}

func newRegister(
	doc ComponentDoc,
	ports []sim.PortSpec,
	addrs []sim.AddressSpec,
) (sim.Component, error) {
	if err := mustHaveNoAddresses(doc, addrs); err != nil {
		return nil, err
	}

	d, foundD := portNamed(ports, "d", sim.Input)
	q, foundQ := portNamed(ports, "q", sim.Output)
	if !foundD || !foundQ || d.Type != q.Type {
		return nil, fmt.Errorf(
			"register %s needs an input d and an output q of the same type",
			doc.ID)
	}

	initial, err := valueOf(q.Type, doc.Params["initial"])
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", doc.ID, err)
	}

	return sim.NewStateful(sim.ComponentID(doc.ID), ports,
		sim.StatefulSpec[sim.Value]{
			Codec:         valueCodec(q.Type),
			Initial:       initial,
			Subscriptions: subscriptionsOf(doc),
			Output: func(ctx *sim.EvalCtx, s sim.Value) error {
				return ctx.Outputs().Set("q", s)
			},
			Next: func(ctx *sim.EvalCtx, _ sim.Value) (sim.Value, error) {
				return ctx.Inputs().Get("d")
			},
		}), nil
}

func intParam(doc ComponentDoc, name string, def int64) (int64, error) {
	raw, found := doc.Params[name]
	if !found {
		return def, nil
	}

	v, ok := raw.(int)
	if !ok {
		return 0, fmt.Errorf("%s %s: param %s must be an int", doc.Kind, doc.ID, name)
	}

	return int64(v), nil
}

func newCounter(
	doc ComponentDoc,
	ports []sim.PortSpec,
	addrs []sim.AddressSpec,
) (sim.Component, error) {
	if err := mustHaveNoAddresses(doc, addrs); err != nil {
		return nil, err
	}

	if q, found := portNamed(ports, "q", sim.Output); !found || q.Type != sim.IntType {
		return nil, fmt.Errorf("counter %s needs an int output q", doc.ID)
	}

	initial, err := intParam(doc, "initial", 0)
	if err != nil {
		return nil, err
	}

	step, err := intParam(doc, "step", 1)
	if err != nil {
		return nil, err
	}

	return sim.NewStateful(sim.ComponentID(doc.ID), ports,
		sim.StatefulSpec[int64]{
			Codec:         sim.IntCodec{},
			Initial:       initial,
			Subscriptions: subscriptionsOf(doc),
			Output: func(ctx *sim.EvalCtx, s int64) error {
				return ctx.Outputs().SetInt("q", s)
			},
			Next: func(_ *sim.EvalCtx, s int64) (int64, error) {
				return s + step, nil
			},
		}), nil
}

func newEmitter(
	doc ComponentDoc,
	ports []sim.PortSpec,
	addrs []sim.AddressSpec,
) (sim.Component, error) {
	if err := mustHaveNoAddresses(doc, addrs); err != nil {
		return nil, err
	}

	eventType, ok := doc.Params["event"].(string)
	if !ok || eventType == "" {
		return nil, fmt.Errorf("emitter %s needs a string param event", doc.ID)
	}

	var targets []sim.ComponentID
	if raw, found := doc.Params["targets"]; found {
		list, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("emitter %s: targets must be a list", doc.ID)
		}

		for _, t := range list {
			s, ok := t.(string)
			if !ok {
				return nil, fmt.Errorf("emitter %s: target %v is not a string",
					doc.ID, t)
			}
			targets = append(targets, sim.ComponentID(s))
		}
	}

	return sim.NewProcessorFunc(sim.ComponentID(doc.ID), ports,
		func(ctx *sim.EvalCtx) error {
			evt := sim.NewEvent(sim.EventType(eventType), map[string]sim.Value{
				"cycle": sim.Int(int64(ctx.Cycle())),
			})
			if targets != nil {
				evt = evt.WithTargets(targets...)
			}
			ctx.Raise(evt)

			return nil
		}, subscriptionsOf(doc)...), nil
}
