package sim

import (
	"fmt"
	"sort"
	"sync"
)

// An Address names a memory cell.
type Address string

// An AddressSpec declares a memory cell, its type, and the value read before
// anything is written to it.
type AddressSpec struct {
	Address Address
	Type    Type
	Default Value
}

// Cell declares a memory cell.
func Cell(addr Address, t Type) AddressSpec {
	return AddressSpec{Address: addr, Type: t}
}

// WithDefault returns a copy of the spec with the given initial value.
func (a AddressSpec) WithDefault(v Value) AddressSpec {
	a.Default = v
	return a
}

func (a AddressSpec) defaultValue() Value {
	if a.Default.IsValid() {
		return a.Default
	}

	return ZeroOf(a.Type)
}

func (a AddressSpec) mustBeValid(owner ComponentID) error {
	if a.Address == "" {
		return fmt.Errorf("%w: %s declares an empty address",
			ErrInvalidAddress, owner)
	}

	if !a.Type.IsValid() {
		return fmt.Errorf("%w: address %s of %s has invalid type %s",
			ErrTypeMismatch, a.Address, owner, a.Type)
	}

	if a.Default.IsValid() && a.Default.Type() != a.Type {
		return fmt.Errorf("%w: default of %s is %s, address is %s",
			ErrTypeMismatch, a.Address, a.Default.Type(), a.Type)
	}

	return nil
}

// A Delta is a write staged during a cycle and applied at commit.
type Delta struct {
	Owner   ComponentID
	Address Address
	Value   Value
}

// stagedWrites buffers the writes of one component during one cycle. Each
// buffer is touched by a single worker, so it needs no lock.
type stagedWrites struct {
	owner  ComponentID
	order  []Address
	values map[Address]Value
}

func newStagedWrites(owner ComponentID) *stagedWrites {
	return &stagedWrites{
		owner:  owner,
		values: make(map[Address]Value),
	}
}

func (w *stagedWrites) put(addr Address, v Value) {
	if _, found := w.values[addr]; !found {
		w.order = append(w.order, addr)
	}

	w.values[addr] = v
}

// MemoryStore holds the committed memory state. It changes only at commit.
type MemoryStore struct {
	lock   sync.RWMutex
	specs  map[Address]AddressSpec
	owners map[Address]map[ComponentID]bool
	cells  map[Address]Value
}

func newMemoryStore() *MemoryStore {
	return &MemoryStore{
		specs:  make(map[Address]AddressSpec),
		owners: make(map[Address]map[ComponentID]bool),
		cells:  make(map[Address]Value),
	}
}

// declare syncs the address declarations with the graph. Committed values of
// addresses that are still declared survive.
func (s *MemoryStore) declare(g *Graph) {
	g.lock.RLock()
	defer g.lock.RUnlock()

	s.lock.Lock()
	defer s.lock.Unlock()

	s.specs = make(map[Address]AddressSpec, len(g.addresses))
	s.owners = make(map[Address]map[ComponentID]bool, len(g.addresses))
	for addr, decl := range g.addresses {
		s.specs[addr] = decl.spec

		owners := make(map[ComponentID]bool, len(decl.owners))
		for _, o := range decl.owners {
			owners[o] = true
		}
		s.owners[addr] = owners
	}

	for addr := range s.cells {
		if _, found := s.specs[addr]; !found {
			delete(s.cells, addr)
		}
	}
}

// read returns the committed value without locking. It is only called while
// a cycle is evaluating, when commit cannot run.
func (s *MemoryStore) read(addr Address) (Value, bool) {
	spec, found := s.specs[addr]
	if !found {
		return Value{}, false
	}

	if v, written := s.cells[addr]; written {
		return v.Clone(), true
	}

	return spec.defaultValue(), true
}

// Peek returns the committed value of an address.
func (s *MemoryStore) Peek(addr Address) (Value, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	v, found := s.read(addr)
	if !found {
		return Value{}, fmt.Errorf("%w: %s", ErrInvalidAddress, addr)
	}

	return v, nil
}

// Addresses returns every declared address in sorted order.
func (s *MemoryStore) Addresses() []Address {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.sortedAddresses()
}

func (s *MemoryStore) sortedAddresses() []Address {
	addrs := make([]Address, 0, len(s.specs))
	for a := range s.specs {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	return addrs
}

// Snapshot returns the committed value of every declared address.
func (s *MemoryStore) Snapshot() map[Address]Value {
	s.lock.RLock()
	defer s.lock.RUnlock()

	out := make(map[Address]Value, len(s.specs))
	for addr := range s.specs {
		out[addr], _ = s.read(addr)
	}

	return out
}

// commit applies the staged writes of a cycle. The buffers must be given in
// execution order. Either every write is applied or, if two components wrote
// the same address, none is.
func (s *MemoryStore) commit(
	cycle uint64,
	staged []*stagedWrites,
) ([]Delta, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	writers := make(map[Address][]ComponentID)
	var deltas []Delta
	for _, w := range staged {
		if w == nil {
			continue
		}

		for _, addr := range w.order {
			writers[addr] = append(writers[addr], w.owner)
			deltas = append(deltas, Delta{
				Owner:   w.owner,
				Address: addr,
				Value:   w.values[addr],
			})
		}
	}

	if err := conflictsOf(cycle, writers); err != nil {
		return nil, err
	}

	for _, d := range deltas {
		s.cells[d.Address] = d.Value
	}

	return deltas, nil
}

func conflictsOf(cycle uint64, writers map[Address][]ComponentID) error {
	addrs := make([]Address, 0, len(writers))
	for a, ws := range writers {
		if len(ws) > 1 {
			addrs = append(addrs, a)
		}
	}

	if len(addrs) == 0 {
		return nil
	}

	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	return &ConflictError{
		Cycle:   cycle,
		Address: addrs[0],
		Writers: writers[addrs[0]],
	}
}

// A MemoryProxy gives one component access to the memory during a cycle.
// Reads always see the state committed at the end of the previous cycle,
// including for addresses the component has already written in this cycle.
type MemoryProxy struct {
	store  *MemoryStore
	owner  ComponentID
	staged *stagedWrites
}

// Read returns the committed value of an address.
func (p *MemoryProxy) Read(addr Address) (Value, error) {
	if p.staged == nil {
		return Value{}, p.err("read", addr, ErrMemoryNotFound)
	}

	v, found := p.store.read(addr)
	if !found {
		return Value{}, p.err("read", addr, ErrInvalidAddress)
	}

	return v, nil
}

// ReadInt reads an int address.
func (p *MemoryProxy) ReadInt(addr Address) (int64, error) {
	v, err := p.Read(addr)
	if err != nil {
		return 0, err
	}

	i, err := v.AsInt()
	if err != nil {
		return 0, p.err("read", addr, err)
	}

	return i, nil
}

// Write stages a value for an address declared by the component. A second
// write to the same address in the same cycle replaces the first.
func (p *MemoryProxy) Write(addr Address, v Value) error {
	if p.staged == nil {
		return p.err("write", addr, ErrMemoryNotFound)
	}

	spec, found := p.store.specs[addr]
	if !found || !p.store.owners[addr][p.owner] {
		return p.err("write", addr, ErrInvalidAddress)
	}

	if v.Type() != spec.Type {
		return p.err("write", addr, fmt.Errorf("%w: %s is %s, got %s",
			ErrTypeMismatch, addr, spec.Type, v.Type()))
	}

	p.staged.put(addr, v.Clone())

	return nil
}

func (p *MemoryProxy) err(op string, addr Address, cause error) error {
	return &MemoryError{
		Op:        op,
		Component: p.owner,
		Address:   addr,
		Err:       cause,
	}
}
