package sim

import "sort"

// An EventType tags the shape of an event payload.
type EventType string

// An Event is an immutable message between components that travels outside
// the port wiring. Events refer to components by id only.
type Event struct {
	ID     string
	Type   EventType
	Source ComponentID

	// Targets lists the recipients. A nil slice broadcasts the event to every
	// subscriber of its type.
	Targets []ComponentID

	Payload map[string]Value
}

// NewEvent creates a broadcast event. The payload is copied.
func NewEvent(t EventType, payload map[string]Value) Event {
	return Event{
		Type:    t,
		Payload: copyFields(payload),
	}
}

// WithTargets returns a copy of the event addressed to the given components.
func (e Event) WithTargets(ids ...ComponentID) Event {
	c := e.Clone()
	c.Targets = append([]ComponentID{}, ids...)

	return c
}

// IsBroadcast tells if the event has no explicit target list.
func (e Event) IsBroadcast() bool {
	return e.Targets == nil
}

// Field returns a payload field.
func (e Event) Field(name string) (Value, bool) {
	v, ok := e.Payload[name]
	return v, ok
}

// FieldNames returns the payload field names in sorted order.
func (e Event) FieldNames() []string {
	names := make([]string, 0, len(e.Payload))
	for k := range e.Payload {
		names = append(names, k)
	}
	sort.Strings(names)

	return names
}

// Clone returns an independent copy of the event.
func (e Event) Clone() Event {
	c := e
	if e.Targets != nil {
		c.Targets = append([]ComponentID{}, e.Targets...)
	}
	c.Payload = copyFields(e.Payload)

	return c
}
