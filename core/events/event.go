package events

// Event is a structured notification emitted after a state change commits.
// Attributes are flat string pairs so downstream consumers can index them
// without schema knowledge.
type Event struct {
	Type       string
	Attributes map[string]string
}

// Emitter broadcasts events to downstream subscribers (RPC log, indexers).
type Emitter interface {
	Emit(*Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(*Event) {}
