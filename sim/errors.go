package sim

import (
	"errors"
	"fmt"
	"strings"
)

// Construction-time errors. They are returned before any cycle executes and
// never leave the graph partially modified.
var (
	ErrUnknownComponent   = errors.New("unknown component")
	ErrDuplicateComponent = errors.New("duplicate component")
	ErrUnknownPort        = errors.New("unknown port")
	ErrTypeMismatch       = errors.New("type mismatch")
	ErrPortAlreadyBound   = errors.New("port already bound")
	ErrDependencyCycle    = errors.New("dependency cycle")
)

// Run-time errors. A cycle that fails with one of these leaves the cycle
// counter and the committed memory untouched.
var (
	ErrEvaluation       = errors.New("component evaluation failed")
	ErrConflictingWrite = errors.New("conflicting write")
	ErrInvalidAddress   = errors.New("invalid address")
	ErrInvalidPort      = errors.New("invalid port")
	ErrMemoryNotFound   = errors.New("memory not found")
	ErrOperationFailed  = errors.New("operation failed")
	ErrStaleOrder       = errors.New("execution order is stale")
)

// ErrUnknownTarget marks an event delivery to a component that is not
// registered. It never aborts a cycle.
var ErrUnknownTarget = errors.New("unknown event target")

// A ConnectionError reports why a connection request was rejected.
type ConnectionError struct {
	Source PortRef
	Target PortRef
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cannot connect %s -> %s: %v", e.Source, e.Target, e.Err)
}

// Unwrap returns the classified cause.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// A DependencyCycleError names the components that form combinational loops.
type DependencyCycleError struct {
	// Cycles holds one entry per strongly connected component, with the ids
	// ordered by registration.
	Cycles [][]ComponentID
}

func (e *DependencyCycleError) Error() string {
	parts := make([]string, 0, len(e.Cycles))
	for _, c := range e.Cycles {
		ids := make([]string, len(c))
		for i, id := range c {
			ids[i] = string(id)
		}
		parts = append(parts, "{"+strings.Join(ids, ", ")+"}")
	}

	return fmt.Sprintf("%v: %s", ErrDependencyCycle, strings.Join(parts, " "))
}

// Is makes the error match ErrDependencyCycle.
func (e *DependencyCycleError) Is(target error) bool {
	return target == ErrDependencyCycle
}

// Components returns every component involved in a cycle.
func (e *DependencyCycleError) Components() []ComponentID {
	var ids []ComponentID
	for _, c := range e.Cycles {
		ids = append(ids, c...)
	}

	return ids
}

// An EvaluationError wraps a failure raised while a component was evaluated.
type EvaluationError struct {
	Cycle     uint64
	Component ComponentID
	Phase     string
	Err       error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("cycle %d: %s of %s failed: %v",
		e.Cycle, e.Phase, e.Component, e.Err)
}

// Unwrap returns the error raised by the component.
func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// Is makes the error match ErrEvaluation.
func (e *EvaluationError) Is(target error) bool {
	return target == ErrEvaluation
}

// A ConflictError reports an address written by more than one component in
// the same cycle.
type ConflictError struct {
	Cycle   uint64
	Address Address
	Writers []ComponentID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("cycle %d: %v on %s by %v",
		e.Cycle, ErrConflictingWrite, e.Address, e.Writers)
}

// Is makes the error match ErrConflictingWrite.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflictingWrite
}

// A MemoryError reports a failed memory access.
type MemoryError struct {
	Op        string
	Component ComponentID
	Address   Address
	Err       error
}

func (e *MemoryError) Error() string {
	return fmt.Sprintf("memory %s of %s by %s: %v",
		e.Op, e.Address, e.Component, e.Err)
}

// Unwrap returns the classified cause.
func (e *MemoryError) Unwrap() error {
	return e.Err
}

// A DeliveryError reports an event that could not be delivered.
type DeliveryError struct {
	EventID string
	Type    EventType
	Source  ComponentID
	Target  ComponentID
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("event %s (%s) from %s to %s dropped: %v",
		e.EventID, e.Type, e.Source, e.Target, e.Err)
}

// Unwrap returns the classified cause.
func (e *DeliveryError) Unwrap() error {
	return e.Err
}
