package sim

// HookPos defines the enum of possible hooking positions.
type HookPos struct {
	Name string
}

// HookCtx is the context that holds all the information about the site that
// a hook is triggered.
type HookCtx struct {
	// Domain is the hookable object that is raising this hook.
	Domain Hookable

	// Pos identifies where the hook is firing from.
	Pos *HookPos

	// Cycle is the cycle being simulated.
	Cycle uint64

	// Item carries the primary subject of the hook (component, report,
	// error).
	Item any

	// Detail holds optional auxiliary data.
	Detail any
}

// HookPosBeforeCycle triggers before the evaluation phase. Item is nil.
var HookPosBeforeCycle = &HookPos{Name: "BeforeCycle"}

// HookPosAfterCycle triggers after a successful commit. Item is the
// CycleReport.
var HookPosAfterCycle = &HookPos{Name: "AfterCycle"}

// HookPosCycleFailed triggers when a cycle is aborted. Item is the error and
// Detail the partial CycleReport.
var HookPosCycleFailed = &HookPos{Name: "CycleFailed"}

// HookPosBeforeEvaluate triggers before a component is evaluated or latched.
// Item is the component and Detail the phase name. In parallel mode these
// hooks fire from worker goroutines.
var HookPosBeforeEvaluate = &HookPos{Name: "BeforeEvaluate"}

// HookPosAfterEvaluate triggers after a component is evaluated or latched.
// Item is the component and Detail the phase name.
var HookPosAfterEvaluate = &HookPos{Name: "AfterEvaluate"}

// HookPosEventDropped triggers for every event delivery dropped by a cycle
// that commits, before HookPosAfterCycle. Item is the *DeliveryError.
var HookPosEventDropped = &HookPos{Name: "EventDropped"}

// Hookable defines an object that accept Hooks.
type Hookable interface {
	// AcceptHook registers a hook. Hooks must be registered before the
	// simulation starts running.
	AcceptHook(hook Hook)

	// NumHooks returns the number of hooks registered.
	NumHooks() int
}

// Hook is a short piece of program that can be invoked by a hookable object.
type Hook interface {
	// Func determines what to do if hook is invoked.
	Func(ctx HookCtx)
}

// HookFunc adapts a function to the Hook interface.
type HookFunc func(ctx HookCtx)

// Func calls f.
func (f HookFunc) Func(ctx HookCtx) {
	f(ctx)
}

// A HookableBase provides some utility function for other type that
// implement the Hookable interface.
type HookableBase struct {
	hookList []Hook
}

// NewHookableBase creates a HookableBase object.
func NewHookableBase() *HookableBase {
	h := new(HookableBase)
	h.hookList = make([]Hook, 0)

	return h
}

// NumHooks returns the number of hooks registered.
func (h *HookableBase) NumHooks() int {
	return len(h.hookList)
}

// AcceptHook register a hook.
func (h *HookableBase) AcceptHook(hook Hook) {
	h.mustNotHaveDuplicatedHook(hook)
	h.hookList = append(h.hookList, hook)
}

func (h *HookableBase) mustNotHaveDuplicatedHook(hook Hook) {
	if _, isFunc := hook.(HookFunc); isFunc {
		return
	}

	for _, registered := range h.hookList {
		if registered == hook {
			panic("duplicated hook")
		}
	}
}

// InvokeHook triggers the register Hooks.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	for _, hook := range h.hookList {
		hook.Func(ctx)
	}
}
