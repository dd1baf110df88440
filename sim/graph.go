package sim

import (
	"fmt"
	"sync"
)

// A Connection is a directed edge from an output port to an input port.
type Connection struct {
	Source PortRef
	Target PortRef
}

func (c Connection) String() string {
	return c.Source.String() + " -> " + c.Target.String()
}

type node struct {
	index int
	comp  Component
	ports map[string]PortSpec
}

type addressDecl struct {
	spec   AddressSpec
	owners []ComponentID
}

// A Graph owns the components of a simulation and the connections between
// them. It is the only mutator of the topology. Every mutation validates the
// request completely before changing anything.
type Graph struct {
	lock sync.RWMutex

	nodes     []*node
	nodeIndex map[ComponentID]int

	connections []Connection
	bound       map[PortRef]int // target port -> index in connections

	subscribers map[EventType][]ComponentID
	addresses   map[Address]*addressDecl

	version uint64
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodeIndex:   make(map[ComponentID]int),
		bound:       make(map[PortRef]int),
		subscribers: make(map[EventType][]ComponentID),
		addresses:   make(map[Address]*addressDecl),
	}
}

// Register adds a component to the graph. Components are ordered by
// registration, which is the tie-break used by the execution order.
func (g *Graph) Register(c Component) error {
	if c == nil {
		panic("registering a nil component")
	}

	g.lock.Lock()
	defer g.lock.Unlock()

	id := c.ID()
	if id == "" {
		return fmt.Errorf("%w: empty component id", ErrUnknownComponent)
	}

	if _, found := g.nodeIndex[id]; found {
		return fmt.Errorf("%w: %s", ErrDuplicateComponent, id)
	}

	ports, err := collectPorts(c)
	if err != nil {
		return err
	}

	var addrs []AddressSpec
	if m, ok := c.(Memory); ok {
		addrs = m.Addresses()
		if err := g.addressesMustBeCompatible(id, addrs); err != nil {
			return err
		}
	}

	n := &node{index: len(g.nodes), comp: c, ports: ports}
	g.nodes = append(g.nodes, n)
	g.nodeIndex[id] = n.index

	for _, a := range addrs {
		g.declareAddress(id, a)
	}

	if s, ok := c.(Subscriber); ok {
		for _, t := range s.Subscriptions() {
			g.subscribe(id, t)
		}
	}

	g.version++

	return nil
}

func collectPorts(c Component) (map[string]PortSpec, error) {
	ports := make(map[string]PortSpec)
	for _, p := range c.Ports() {
		if err := p.mustBeValid(c.ID()); err != nil {
			return nil, err
		}

		if _, dup := ports[p.Name]; dup {
			return nil, fmt.Errorf("%w: %s declares port %q twice",
				ErrUnknownPort, c.ID(), p.Name)
		}

		ports[p.Name] = p
	}

	return ports, nil
}

func (g *Graph) addressesMustBeCompatible(
	id ComponentID,
	addrs []AddressSpec,
) error {
	seen := make(map[Address]bool, len(addrs))
	for _, a := range addrs {
		if err := a.mustBeValid(id); err != nil {
			return err
		}

		if seen[a.Address] {
			return fmt.Errorf("%w: %s declares %s twice",
				ErrInvalidAddress, id, a.Address)
		}
		seen[a.Address] = true

		decl, found := g.addresses[a.Address]
		if found && decl.spec.Type != a.Type {
			return fmt.Errorf("%w: %s declares %s as %s, already %s",
				ErrTypeMismatch, id, a.Address, a.Type, decl.spec.Type)
		}
	}

	return nil
}

func (g *Graph) declareAddress(id ComponentID, a AddressSpec) {
	decl, found := g.addresses[a.Address]
	if !found {
		decl = &addressDecl{spec: a}
		g.addresses[a.Address] = decl
	}

	decl.owners = append(decl.owners, id)
}

// Connect adds an edge from the output port of one component to the input
// port of another.
func (g *Graph) Connect(
	sourceID ComponentID, sourcePort string,
	targetID ComponentID, targetPort string,
) error {
	g.lock.Lock()
	defer g.lock.Unlock()

	conn := Connection{
		Source: Ref(sourceID, sourcePort),
		Target: Ref(targetID, targetPort),
	}

	if err := g.connectionMustBeValid(conn); err != nil {
		return &ConnectionError{
			Source: conn.Source,
			Target: conn.Target,
			Err:    err,
		}
	}

	g.bound[conn.Target] = len(g.connections)
	g.connections = append(g.connections, conn)
	g.version++

	return nil
}

func (g *Graph) connectionMustBeValid(conn Connection) error {
	src, err := g.portSpec(conn.Source, Output)
	if err != nil {
		return err
	}

	dst, err := g.portSpec(conn.Target, Input)
	if err != nil {
		return err
	}

	if src.Type != dst.Type {
		return fmt.Errorf("%w: %s is %s, %s is %s", ErrTypeMismatch,
			conn.Source, src.Type, conn.Target, dst.Type)
	}

	if i, found := g.bound[conn.Target]; found {
		return fmt.Errorf("%w: %s already driven by %s",
			ErrPortAlreadyBound, conn.Target, g.connections[i].Source)
	}

	return nil
}

func (g *Graph) portSpec(ref PortRef, dir Direction) (PortSpec, error) {
	i, found := g.nodeIndex[ref.Component]
	if !found {
		return PortSpec{}, fmt.Errorf("%w: %s", ErrUnknownComponent, ref.Component)
	}

	p, found := g.nodes[i].ports[ref.Port]
	if !found || p.Direction != dir {
		return PortSpec{}, fmt.Errorf("%w: %s has no %s port %q",
			ErrUnknownPort, ref.Component, dir, ref.Port)
	}

	return p, nil
}

// Disconnect removes the connection that drives the given input port.
func (g *Graph) Disconnect(targetID ComponentID, targetPort string) error {
	g.lock.Lock()
	defer g.lock.Unlock()

	target := Ref(targetID, targetPort)
	if _, err := g.portSpec(target, Input); err != nil {
		return err
	}

	i, found := g.bound[target]
	if !found {
		return fmt.Errorf("%w: %s is not bound", ErrOperationFailed, target)
	}

	g.connections = append(g.connections[:i], g.connections[i+1:]...)
	g.bound = make(map[PortRef]int, len(g.connections))
	for j, c := range g.connections {
		g.bound[c.Target] = j
	}
	g.version++

	return nil
}

// Subscribe registers a component as a receiver of broadcast events of the
// given type.
func (g *Graph) Subscribe(id ComponentID, t EventType) error {
	g.lock.Lock()
	defer g.lock.Unlock()

	if _, found := g.nodeIndex[id]; !found {
		return fmt.Errorf("%w: %s", ErrUnknownComponent, id)
	}

	g.subscribe(id, t)
	g.version++

	return nil
}

func (g *Graph) subscribe(id ComponentID, t EventType) {
	for _, s := range g.subscribers[t] {
		if s == id {
			return
		}
	}

	g.subscribers[t] = append(g.subscribers[t], id)
}

// Subscribers returns the subscribers of an event type in registration
// order.
func (g *Graph) Subscribers(t EventType) []ComponentID {
	g.lock.RLock()
	defer g.lock.RUnlock()

	subs := append([]ComponentID(nil), g.subscribers[t]...)
	g.sortByRegistration(subs)

	return subs
}

// DependenciesOf returns the components that drive an input of the given
// component, in registration order.
func (g *Graph) DependenciesOf(id ComponentID) ([]ComponentID, error) {
	return g.neighbours(id, func(c Connection) (ComponentID, bool) {
		return c.Source.Component, c.Target.Component == id
	})
}

// DependentsOf returns the components driven by an output of the given
// component, in registration order.
func (g *Graph) DependentsOf(id ComponentID) ([]ComponentID, error) {
	return g.neighbours(id, func(c Connection) (ComponentID, bool) {
		return c.Target.Component, c.Source.Component == id
	})
}

func (g *Graph) neighbours(
	id ComponentID,
	pick func(Connection) (ComponentID, bool),
) ([]ComponentID, error) {
	g.lock.RLock()
	defer g.lock.RUnlock()

	if _, found := g.nodeIndex[id]; !found {
		return nil, fmt.Errorf("%w: %s", ErrUnknownComponent, id)
	}

	seen := make(map[ComponentID]bool)
	var out []ComponentID
	for _, c := range g.connections {
		other, ok := pick(c)
		if ok && !seen[other] {
			seen[other] = true
			out = append(out, other)
		}
	}
	g.sortByRegistration(out)

	return out, nil
}

func (g *Graph) sortByRegistration(ids []ComponentID) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && g.nodeIndex[ids[j]] < g.nodeIndex[ids[j-1]]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}

// Connections returns a copy of all connections in the order they were made.
func (g *Graph) Connections() []Connection {
	g.lock.RLock()
	defer g.lock.RUnlock()

	return append([]Connection(nil), g.connections...)
}

// Components returns the registered components in registration order.
func (g *Graph) Components() []Component {
	g.lock.RLock()
	defer g.lock.RUnlock()

	out := make([]Component, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = n.comp
	}

	return out
}

// Component returns a registered component by id.
func (g *Graph) Component(id ComponentID) (Component, bool) {
	g.lock.RLock()
	defer g.lock.RUnlock()

	i, found := g.nodeIndex[id]
	if !found {
		return nil, false
	}

	return g.nodes[i].comp, true
}

// Has tells if a component is registered.
func (g *Graph) Has(id ComponentID) bool {
	_, ok := g.Component(id)
	return ok
}

// Version changes every time the topology changes.
func (g *Graph) Version() uint64 {
	g.lock.RLock()
	defer g.lock.RUnlock()

	return g.version
}
