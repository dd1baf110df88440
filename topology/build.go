package topology

import (
	"fmt"

	"github.com/sarchlab/cyclesim/sim"
)

// BuildGraph creates the components of a document with the given kinds and
// wires them. Components are registered in document order.
func BuildGraph(doc *Document, kinds Kinds) (*sim.Graph, error) {
	g := sim.NewGraph()

	for _, c := range doc.Components {
		comp, err := buildComponent(c, kinds)
		if err != nil {
			return nil, err
		}

		if err := g.Register(comp); err != nil {
			return nil, err
		}
	}

	for _, c := range doc.Connections {
		src, err := ParseRef(c.From)
		if err != nil {
			return nil, err
		}

		dst, err := ParseRef(c.To)
		if err != nil {
			return nil, err
		}

		err = g.Connect(src.Component, src.Port, dst.Component, dst.Port)
		if err != nil {
			return nil, err
		}
	}

	return g, nil
}

func buildComponent(c ComponentDoc, kinds Kinds) (sim.Component, error) {
	factory, found := kinds[c.Kind]
	if !found {
		return nil, fmt.Errorf("component %s has unknown kind %q", c.ID, c.Kind)
	}

	ports, err := portsOf(c)
	if err != nil {
		return nil, err
	}

	addrs, err := addressesOf(c)
	if err != nil {
		return nil, err
	}

	return factory(c, ports, addrs)
}

func portsOf(c ComponentDoc) ([]sim.PortSpec, error) {
	ports := make([]sim.PortSpec, 0, len(c.Ports))
	for _, p := range c.Ports {
		t, err := sim.ParseType(p.Type)
		if err != nil {
			return nil, fmt.Errorf("port %s.%s: %w", c.ID, p.Name, err)
		}

		spec := sim.InPort(p.Name, t)
		if p.Dir == "out" {
			spec = sim.OutPort(p.Name, t)
		}

		if p.Default != nil {
			v, err := valueOf(t, p.Default)
			if err != nil {
				return nil, fmt.Errorf("default of %s.%s: %w", c.ID, p.Name, err)
			}
			spec = spec.WithDefault(v)
		}

		ports = append(ports, spec)
	}

	return ports, nil
}

func addressesOf(c ComponentDoc) ([]sim.AddressSpec, error) {
	addrs := make([]sim.AddressSpec, 0, len(c.Addresses))
	for _, a := range c.Addresses {
		t, err := sim.ParseType(a.Type)
		if err != nil {
			return nil, fmt.Errorf("address %s of %s: %w", a.Address, c.ID, err)
		}

		spec := sim.Cell(sim.Address(a.Address), t)
		if a.Default != nil {
			v, err := valueOf(t, a.Default)
			if err != nil {
				return nil, fmt.Errorf("default of %s: %w", a.Address, err)
			}
			spec = spec.WithDefault(v)
		}

		addrs = append(addrs, spec)
	}

	return addrs, nil
}
