package tracing

import (
	"sort"
	"sync"
	"time"

	"github.com/sarchlab/cyclesim/sim"
)

// A ComponentFilter selects the components a tracer keeps track of.
type ComponentFilter func(c sim.Component) bool

// AllComponents selects every component.
func AllComponents(sim.Component) bool {
	return true
}

// BusyTime is the time spent on one component.
type BusyTime struct {
	Component   sim.ComponentID
	Evaluations uint64
	Total       time.Duration
}

// BusyTimeTracer collects the wall time spent evaluating and latching each
// component. Evaluations that fail are not counted.
type BusyTimeTracer struct {
	filter ComponentFilter
	now    func() time.Time

	lock     sync.Mutex
	inflight map[evalKey]time.Time
	busy     map[sim.ComponentID]*BusyTime
}

// NewBusyTimeTracer creates a new BusyTimeTracer.
func NewBusyTimeTracer(filter ComponentFilter) *BusyTimeTracer {
	if filter == nil {
		filter = AllComponents
	}

	return &BusyTimeTracer{
		filter:   filter,
		now:      time.Now,
		inflight: make(map[evalKey]time.Time),
		busy:     make(map[sim.ComponentID]*BusyTime),
	}
}

// Func records the start and the end of evaluations.
func (t *BusyTimeTracer) Func(ctx sim.HookCtx) {
	switch ctx.Pos {
	case sim.HookPosBeforeEvaluate:
		comp := ctx.Item.(sim.Component)
		if !t.filter(comp) {
			return
		}

		t.lock.Lock()
		t.inflight[evalKey{comp.ID(), ctx.Detail.(string)}] = t.now()
		t.lock.Unlock()
	case sim.HookPosAfterEvaluate:
		t.endEvaluation(ctx)
	case sim.HookPosCycleFailed:
		t.lock.Lock()
		clear(t.inflight)
		t.lock.Unlock()
	}
}

func (t *BusyTimeTracer) endEvaluation(ctx sim.HookCtx) {
	key := evalKey{ctx.Item.(sim.Component).ID(), ctx.Detail.(string)}
	end := t.now()

	t.lock.Lock()
	defer t.lock.Unlock()

	start, found := t.inflight[key]
	if !found {
		return
	}
	delete(t.inflight, key)

	b, found := t.busy[key.id]
	if !found {
		b = &BusyTime{Component: key.id}
		t.busy[key.id] = b
	}

	b.Evaluations++
	b.Total += end.Sub(start)
}

// BusyTime returns the time spent on a component.
func (t *BusyTimeTracer) BusyTime(id sim.ComponentID) time.Duration {
	t.lock.Lock()
	defer t.lock.Unlock()

	if b, found := t.busy[id]; found {
		return b.Total
	}

	return 0
}

// TotalTime returns the time spent on all the components.
func (t *BusyTimeTracer) TotalTime() time.Duration {
	t.lock.Lock()
	defer t.lock.Unlock()

	var total time.Duration
	for _, b := range t.busy {
		total += b.Total
	}

	return total
}

// Busiest returns up to n components, the busiest first.
func (t *BusyTimeTracer) Busiest(n int) []BusyTime {
	t.lock.Lock()
	list := make([]BusyTime, 0, len(t.busy))
	for _, b := range t.busy {
		list = append(list, *b)
	}
	t.lock.Unlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].Total != list[j].Total {
			return list[i].Total > list[j].Total
		}

		return list[i].Component < list[j].Component
	})

	if n >= 0 && n < len(list) {
		list = list[:n]
	}

	return list
}
