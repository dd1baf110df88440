package sim

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// A CycleReport summarizes one cycle.
type CycleReport struct {
	Cycle     uint64
	Evaluated int
	Latched   int

	// Events is the number of events raised during the cycle.
	Events    int
	Delivered int
	Dropped   []*DeliveryError

	Deltas   []Delta
	Duration time.Duration
}

// DeltasCommitted returns the number of memory writes applied by the cycle.
func (r CycleReport) DeltasCommitted() int {
	return len(r.Deltas)
}

type planEntry struct {
	comp    Component
	memory  Memory
	binding *portBinding
}

// An Engine advances a graph one cycle at a time.
type Engine struct {
	*HookableBase

	runLock   sync.Mutex
	stateLock sync.RWMutex

	graph *Graph
	cfg   Config
	log   zerolog.Logger

	built        bool
	builtVersion uint64
	order        ExecutionOrder
	plan         []planEntry
	position     map[ComponentID]int
	tiers        [][]int
	memories     []int
	subscribers  map[EventType][]ComponentID
	defaults     []Value

	store    *MemoryStore
	channels []Value
	inboxes  map[ComponentID][]Event

	cycle      atomic.Uint64
	lastReport CycleReport
}

// Build creates an engine for the graph and computes its execution order.
func Build(g *Graph, cfg Config) (*Engine, error) {
	cfg, err := cfg.normalized()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		HookableBase: NewHookableBase(),
		graph:        g,
		cfg:          cfg,
		log:          cfg.Logger.With().Str("module", "engine").Logger(),
		store:        newMemoryStore(),
		inboxes:      make(map[ComponentID][]Event),
	}

	if err := e.BuildExecutionOrder(); err != nil {
		return nil, err
	}

	return e, nil
}

// BuildExecutionOrder recomputes the execution order after the topology has
// changed. The cycle counter, the committed memory, and the pending events
// of components that still exist are preserved. Output channels restart from
// their defaults.
func (e *Engine) BuildExecutionOrder() error {
	e.runLock.Lock()
	defer e.runLock.Unlock()

	version := e.graph.Version()

	order, err := BuildOrder(e.graph)
	if err != nil {
		e.built = false
		e.log.Error().Err(err).Msg("building execution order failed")

		return err
	}

	e.store.declare(e.graph)

	e.stateLock.Lock()
	e.preparePlan(order)
	e.order = order
	e.channels = append([]Value(nil), e.defaults...)
	for id := range e.inboxes {
		if _, found := e.position[id]; !found {
			delete(e.inboxes, id)
		}
	}
	e.stateLock.Unlock()

	e.builtVersion = version
	e.built = true

	e.log.Debug().
		Int("components", len(order.Sequence)).
		Int("tiers", len(order.Tiers)).
		Uint64("version", version).
		Msg("execution order built")

	return nil
}

func (e *Engine) preparePlan(order ExecutionOrder) {
	g := e.graph
	g.lock.RLock()
	defer g.lock.RUnlock()

	e.plan = make([]planEntry, len(order.Sequence))
	e.position = make(map[ComponentID]int, len(order.Sequence))
	e.memories = nil
	e.defaults = nil

	outSlots := make(map[PortRef]int)
	for pos, id := range order.Sequence {
		n := g.nodes[g.nodeIndex[id]]
		b := &portBinding{
			owner:   id,
			specs:   n.ports,
			outSlot: make(map[string]int),
			inSlot:  make(map[string]int),
		}

		for _, name := range sortedPortNames(n.ports) {
			spec := n.ports[name]
			if spec.Direction != Output {
				continue
			}

			b.outSlot[name] = len(e.defaults)
			outSlots[Ref(id, name)] = len(e.defaults)
			e.defaults = append(e.defaults, spec.defaultValue())
		}

		entry := planEntry{comp: n.comp, binding: b}
		if m, ok := n.comp.(Memory); ok {
			entry.memory = m
			e.memories = append(e.memories, pos)
		}

		e.plan[pos] = entry
		e.position[id] = pos
	}

	for _, entry := range e.plan {
		b := entry.binding
		for name, spec := range b.specs {
			if spec.Direction != Input {
				continue
			}

			b.inSlot[name] = -1
			if i, found := g.bound[Ref(b.owner, name)]; found {
				b.inSlot[name] = outSlots[g.connections[i].Source]
			}
		}
	}

	e.tiers = make([][]int, len(order.Tiers))
	for t, tier := range order.Tiers {
		for _, id := range tier {
			e.tiers[t] = append(e.tiers[t], e.position[id])
		}
		sort.Ints(e.tiers[t])
	}

	e.subscribers = make(map[EventType][]ComponentID, len(g.subscribers))
	for t, subs := range g.subscribers {
		s := append([]ComponentID(nil), subs...)
		g.sortByRegistration(s)
		e.subscribers[t] = s
	}
}

func sortedPortNames(ports map[string]PortSpec) []string {
	names := make([]string, 0, len(ports))
	for n := range ports {
		names = append(names, n)
	}
	sort.Strings(names)

	return names
}

type cycleState struct {
	cycle    uint64
	channels []Value
	staged   []*stagedWrites
	raised   [][]Event
	errs     []error

	evaluated atomic.Int64
	latched   atomic.Int64

	report CycleReport
}

func (e *Engine) newCycleState() *cycleState {
	st := &cycleState{
		cycle:    e.cycle.Load(),
		channels: append([]Value(nil), e.defaults...),
		staged:   make([]*stagedWrites, len(e.plan)),
		raised:   make([][]Event, len(e.plan)),
		errs:     make([]error, len(e.plan)),
	}

	for _, pos := range e.memories {
		st.staged[pos] = newStagedWrites(e.plan[pos].comp.ID())
	}

	st.report.Cycle = st.cycle

	return st
}

// Cycle simulates one cycle. On success the staged memory writes are
// committed, the raised events are delivered, and the cycle counter moves
// forward. On failure none of that happens and the error is returned.
func (e *Engine) Cycle() error {
	e.runLock.Lock()
	defer e.runLock.Unlock()

	if err := e.orderMustBeCurrent(); err != nil {
		return err
	}

	start := time.Now()
	st := e.newCycleState()

	e.InvokeHook(HookCtx{
		Domain: e,
		Pos:    HookPosBeforeCycle,
		Cycle:  st.cycle,
	})

	if err := e.evaluate(st); err != nil {
		return e.fail(st, err)
	}

	if err := e.latch(st); err != nil {
		return e.fail(st, err)
	}

	inboxes := e.route(st)

	deltas, err := e.store.commit(st.cycle, st.staged)
	if err != nil {
		return e.fail(st, err)
	}

	st.report.Evaluated = int(st.evaluated.Load())
	st.report.Latched = int(st.latched.Load())
	st.report.Deltas = deltas
	st.report.Duration = time.Since(start)

	e.announceDrops(st)

	e.stateLock.Lock()
	e.channels = st.channels
	e.inboxes = inboxes
	e.lastReport = st.report
	e.cycle.Add(1)
	e.stateLock.Unlock()

	e.log.Debug().
		Uint64("cycle", st.cycle).
		Int("events", st.report.Events).
		Int("dropped", len(st.report.Dropped)).
		Int("deltas", len(deltas)).
		Dur("duration", st.report.Duration).
		Msg("cycle committed")

	e.InvokeHook(HookCtx{
		Domain: e,
		Pos:    HookPosAfterCycle,
		Cycle:  st.cycle,
		Item:   st.report,
	})

	return nil
}

func (e *Engine) orderMustBeCurrent() error {
	if !e.built {
		return fmt.Errorf("%w: no execution order", ErrStaleOrder)
	}

	if v := e.graph.Version(); v != e.builtVersion {
		return fmt.Errorf("%w: order built at version %d, graph at %d",
			ErrStaleOrder, e.builtVersion, v)
	}

	return nil
}

func (e *Engine) fail(st *cycleState, err error) error {
	st.report.Evaluated = int(st.evaluated.Load())
	st.report.Latched = int(st.latched.Load())

	e.log.Error().Err(err).Uint64("cycle", st.cycle).Msg("cycle failed")

	e.InvokeHook(HookCtx{
		Domain: e,
		Pos:    HookPosCycleFailed,
		Cycle:  st.cycle,
		Item:   err,
		Detail: st.report,
	})

	return err
}

func (e *Engine) evaluate(st *cycleState) error {
	if e.cfg.Mode == Sequential {
		for pos := range e.plan {
			if err := e.run(st, pos, PhaseEvaluate); err != nil {
				return err
			}
		}

		return nil
	}

	for _, tier := range e.tiers {
		if err := e.runConcurrently(st, tier, PhaseEvaluate); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) latch(st *cycleState) error {
	if e.cfg.Mode == Sequential {
		for _, pos := range e.memories {
			if err := e.run(st, pos, PhaseLatch); err != nil {
				return err
			}
		}

		return nil
	}

	return e.runConcurrently(st, e.memories, PhaseLatch)
}

// runConcurrently evaluates a set of independent components and waits for
// all of them. If several fail, the error of the one that comes first in the
// sequence is returned.
func (e *Engine) runConcurrently(st *cycleState, positions []int, phase string) error {
	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)

	for _, pos := range positions {
		g.Go(func() error {
			st.errs[pos] = e.run(st, pos, phase)
			return nil
		})
	}

	_ = g.Wait()

	for _, pos := range positions {
		if st.errs[pos] != nil {
			return st.errs[pos]
		}
	}

	return nil
}

func (e *Engine) run(st *cycleState, pos int, phase string) (err error) {
	entry := e.plan[pos]
	id := entry.comp.ID()

	ctx := &EvalCtx{
		cycle: st.cycle,
		id:    id,
		phase: phase,
		inputs: Inputs{
			binding:  entry.binding,
			channels: st.channels,
			readable: entry.memory == nil || phase == PhaseLatch,
		},
		outputs: Outputs{
			binding:  entry.binding,
			channels: st.channels,
			writable: phase == PhaseEvaluate,
		},
		memory: &MemoryProxy{store: e.store, owner: id, staged: st.staged[pos]},
		inbox:  e.inboxes[id],
	}

	hookCtx := HookCtx{
		Domain: e,
		Pos:    HookPosBeforeEvaluate,
		Cycle:  st.cycle,
		Item:   entry.comp,
		Detail: phase,
	}
	e.InvokeHook(hookCtx)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}

		if err != nil {
			err = &EvaluationError{
				Cycle:     st.cycle,
				Component: id,
				Phase:     phase,
				Err:       err,
			}

			return
		}

		st.raised[pos] = append(st.raised[pos], ctx.raised...)
		if phase == PhaseLatch {
			st.latched.Add(1)
		} else {
			st.evaluated.Add(1)
		}

		hookCtx.Pos = HookPosAfterEvaluate
		e.InvokeHook(hookCtx)
	}()

	switch {
	case phase == PhaseLatch:
		err = entry.memory.Latch(ctx)
	case entry.memory != nil:
		err = entry.memory.Evaluate(ctx)
	default:
		p, ok := entry.comp.(Processor)
		if !ok {
			return fmt.Errorf("%w: %s cannot be evaluated",
				ErrOperationFailed, id)
		}
		err = p.Evaluate(ctx)
	}

	return err
}

// route delivers the raised events into the inboxes of the next cycle.
// Events are taken in sequence order so that ids and delivery order do not
// depend on the execution mode.
func (e *Engine) route(st *cycleState) map[ComponentID][]Event {
	next := make(map[ComponentID][]Event)

	for pos := range e.plan {
		for _, evt := range st.raised[pos] {
			if evt.ID == "" {
				evt.ID = e.cfg.IDGenerator.Generate()
			}
			st.report.Events++

			targets := evt.Targets
			if evt.IsBroadcast() {
				targets = e.subscribers[evt.Type]
			}

			seen := make(map[ComponentID]bool, len(targets))
			for _, t := range targets {
				if seen[t] {
					continue
				}
				seen[t] = true

				if _, found := e.position[t]; !found {
					e.drop(st, evt, t)
					continue
				}

				next[t] = append(next[t], evt.Clone())
				st.report.Delivered++
			}
		}
	}

	return next
}

func (e *Engine) drop(st *cycleState, evt Event, target ComponentID) {
	st.report.Dropped = append(st.report.Dropped, &DeliveryError{
		EventID: evt.ID,
		Type:    evt.Type,
		Source:  evt.Source,
		Target:  target,
		Err:     ErrUnknownTarget,
	})
}

// announceDrops reports the dropped deliveries of a cycle that is about to be
// committed.
func (e *Engine) announceDrops(st *cycleState) {
	for _, derr := range st.report.Dropped {
		e.log.Warn().
			Uint64("cycle", st.cycle).
			Str("event", derr.EventID).
			Str("type", string(derr.Type)).
			Str("source", string(derr.Source)).
			Str("target", string(derr.Target)).
			Msg("event dropped")

		e.InvokeHook(HookCtx{
			Domain: e,
			Pos:    HookPosEventDropped,
			Cycle:  st.cycle,
			Item:   derr,
		})
	}
}

// CurrentCycle returns the number of cycles completed so far.
func (e *Engine) CurrentCycle() uint64 {
	return e.cycle.Load()
}

// LastReport returns the report of the last successful cycle.
func (e *Engine) LastReport() CycleReport {
	e.stateLock.RLock()
	defer e.stateLock.RUnlock()

	return e.lastReport
}

// Output returns the value an output port carried at the end of the last
// successful cycle.
func (e *Engine) Output(ref PortRef) (Value, error) {
	e.stateLock.RLock()
	defer e.stateLock.RUnlock()

	pos, found := e.position[ref.Component]
	if !found {
		return Value{}, fmt.Errorf("%w: %s", ErrUnknownComponent, ref.Component)
	}

	slot, found := e.plan[pos].binding.outSlot[ref.Port]
	if !found {
		return Value{}, fmt.Errorf("%w: %s", ErrUnknownPort, ref)
	}

	return e.channels[slot].Clone(), nil
}

// Pending returns the events waiting to be seen by a component in the next
// cycle.
func (e *Engine) Pending(id ComponentID) []Event {
	e.stateLock.RLock()
	defer e.stateLock.RUnlock()

	out := make([]Event, 0, len(e.inboxes[id]))
	for _, evt := range e.inboxes[id] {
		out = append(out, evt.Clone())
	}

	return out
}

// Memory returns the committed memory state.
func (e *Engine) Memory() *MemoryStore {
	return e.store
}

// Order returns the current execution order.
func (e *Engine) Order() ExecutionOrder {
	e.stateLock.RLock()
	defer e.stateLock.RUnlock()

	o := ExecutionOrder{
		Sequence: append([]ComponentID(nil), e.order.Sequence...),
		Tiers:    make([][]ComponentID, len(e.order.Tiers)),
	}
	for i, t := range e.order.Tiers {
		o.Tiers[i] = append([]ComponentID(nil), t...)
	}

	return o
}

// Graph returns the graph the engine simulates.
func (e *Engine) Graph() *Graph {
	return e.graph
}

// Mode returns the execution mode.
func (e *Engine) Mode() ExecutionMode {
	return e.cfg.Mode
}

// Workers returns the size of the worker pool.
func (e *Engine) Workers() int {
	return e.cfg.Workers
}
