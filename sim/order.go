package sim

import (
	"container/heap"
	"sort"
)

// An ExecutionOrder is the per-cycle evaluation plan of a graph.
type ExecutionOrder struct {
	// Sequence is a total order in which every component comes after the
	// components it depends on. Ties are broken by registration order.
	Sequence []ComponentID

	// Tiers partitions the components so that tier k only depends on tiers
	// lower than k. Components of a tier are in registration order.
	Tiers [][]ComponentID
}

// Len returns the number of components in the order.
func (o ExecutionOrder) Len() int {
	return len(o.Sequence)
}

// TierOf returns the tier index of a component, or -1.
func (o ExecutionOrder) TierOf(id ComponentID) int {
	for i, t := range o.Tiers {
		for _, c := range t {
			if c == id {
				return i
			}
		}
	}

	return -1
}

// dependencyGraph is the adjacency of the graph restricted to the edges that
// constrain the evaluation order. Nodes are registration indices.
type dependencyGraph struct {
	succ     [][]int
	inDegree []int
}

// BuildOrder computes the execution order of a graph. Edges that end at an
// input of a Memory component do not constrain the order, because a memory
// only reads its inputs after every output of the cycle has settled. Any
// cycle left among the remaining edges is reported as a
// *DependencyCycleError.
func BuildOrder(g *Graph) (ExecutionOrder, error) {
	g.lock.RLock()
	defer g.lock.RUnlock()

	dg := g.dependencyGraph()

	seq := dg.sequence()
	if len(seq) < len(g.nodes) {
		return ExecutionOrder{}, g.cycleError(dg, seq)
	}

	order := ExecutionOrder{
		Sequence: make([]ComponentID, len(seq)),
	}
	for i, n := range seq {
		order.Sequence[i] = g.nodes[n].comp.ID()
	}

	for _, tier := range dg.tiers() {
		ids := make([]ComponentID, len(tier))
		for i, n := range tier {
			ids[i] = g.nodes[n].comp.ID()
		}
		order.Tiers = append(order.Tiers, ids)
	}

	return order, nil
}

func (g *Graph) dependencyGraph() dependencyGraph {
	n := len(g.nodes)
	dg := dependencyGraph{
		succ:     make([][]int, n),
		inDegree: make([]int, n),
	}

	seen := make(map[[2]int]bool)
	for _, c := range g.connections {
		s := g.nodeIndex[c.Source.Component]
		t := g.nodeIndex[c.Target.Component]

		if isMemory(g.nodes[t].comp) {
			continue
		}

		edge := [2]int{s, t}
		if seen[edge] {
			continue
		}
		seen[edge] = true

		dg.succ[s] = append(dg.succ[s], t)
		dg.inDegree[t]++
	}

	return dg
}

type indexHeap []int

func (h indexHeap) Len() int           { return len(h) }
func (h indexHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *indexHeap) Push(x any) {
	*h = append(*h, x.(int))
}

func (h *indexHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]

	return x
}

// sequence runs Kahn's algorithm, always picking the ready node registered
// first.
func (dg dependencyGraph) sequence() []int {
	inDegree := append([]int(nil), dg.inDegree...)

	ready := &indexHeap{}
	for n, d := range inDegree {
		if d == 0 {
			*ready = append(*ready, n)
		}
	}
	heap.Init(ready)

	seq := make([]int, 0, len(inDegree))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		seq = append(seq, n)

		for _, s := range dg.succ[n] {
			inDegree[s]--
			if inDegree[s] == 0 {
				heap.Push(ready, s)
			}
		}
	}

	return seq
}

// tiers runs Kahn's algorithm level by level. It must only be called on an
// acyclic graph.
func (dg dependencyGraph) tiers() [][]int {
	inDegree := append([]int(nil), dg.inDegree...)

	var current []int
	for n, d := range inDegree {
		if d == 0 {
			current = append(current, n)
		}
	}

	var tiers [][]int
	for len(current) > 0 {
		tiers = append(tiers, current)

		var next []int
		for _, n := range current {
			for _, s := range dg.succ[n] {
				inDegree[s]--
				if inDegree[s] == 0 {
					next = append(next, s)
				}
			}
		}
		sort.Ints(next)

		current = next
	}

	return tiers
}

func (g *Graph) cycleError(dg dependencyGraph, seq []int) error {
	done := make([]bool, len(g.nodes))
	for _, n := range seq {
		done[n] = true
	}

	err := &DependencyCycleError{}
	for _, scc := range dg.residualCycles(done) {
		ids := make([]ComponentID, len(scc))
		for i, n := range scc {
			ids[i] = g.nodes[n].comp.ID()
		}
		err.Cycles = append(err.Cycles, ids)
	}

	return err
}

// residualCycles finds the strongly connected components among the nodes
// that Kahn's algorithm could not schedule, keeping only those that are
// actual cycles. Nodes that are merely downstream of a cycle are left out.
func (dg dependencyGraph) residualCycles(done []bool) [][]int {
	t := &tarjan{
		dg:      dg,
		skip:    done,
		index:   make([]int, len(done)),
		lowlink: make([]int, len(done)),
		onStack: make([]bool, len(done)),
	}
	for i := range t.index {
		t.index[i] = -1
	}

	for n := range done {
		if !done[n] && t.index[n] < 0 {
			t.visit(n)
		}
	}

	var cycles [][]int
	for _, scc := range t.sccs {
		if len(scc) > 1 || dg.hasSelfLoop(scc[0]) {
			sort.Ints(scc)
			cycles = append(cycles, scc)
		}
	}

	sort.Slice(cycles, func(i, j int) bool {
		return cycles[i][0] < cycles[j][0]
	})

	return cycles
}

func (dg dependencyGraph) hasSelfLoop(n int) bool {
	for _, s := range dg.succ[n] {
		if s == n {
			return true
		}
	}

	return false
}

type tarjan struct {
	dg      dependencyGraph
	skip    []bool
	counter int
	index   []int
	lowlink []int
	onStack []bool
	stack   []int
	sccs    [][]int
}

func (t *tarjan) visit(n int) {
	t.index[n] = t.counter
	t.lowlink[n] = t.counter
	t.counter++
	t.stack = append(t.stack, n)
	t.onStack[n] = true

	for _, s := range t.dg.succ[n] {
		if t.skip[s] {
			continue
		}

		if t.index[s] < 0 {
			t.visit(s)
			t.lowlink[n] = min(t.lowlink[n], t.lowlink[s])
		} else if t.onStack[s] {
			t.lowlink[n] = min(t.lowlink[n], t.index[s])
		}
	}

	if t.lowlink[n] != t.index[n] {
		return
	}

	var scc []int
	for {
		top := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]
		t.onStack[top] = false
		scc = append(scc, top)

		if top == n {
			break
		}
	}
	t.sccs = append(t.sccs, scc)
}
