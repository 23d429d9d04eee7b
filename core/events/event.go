package events

import "github.com/rados-io/saturn-presale/core/types"

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
}

// Payload is implemented by events that carry a canonical attribute payload.
type Payload interface {
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. audit sinks,
// websocket streams, metrics).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Fanout forwards every event to each emitter in order.
type Fanout []Emitter

// Emit implements the Emitter interface.
func (f Fanout) Emit(evt Event) {
	for _, emitter := range f {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}

// PayloadOf extracts the attribute payload of evt, or nil when the event does
// not carry one.
func PayloadOf(evt Event) *types.Event {
	if evt == nil {
		return nil
	}
	carrier, ok := evt.(Payload)
	if !ok {
		return nil
	}
	return carrier.Event()
}
