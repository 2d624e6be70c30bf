package session

import "github.com/google/uuid"

// Sink is a render target capable of displaying a session's output. Sinks
// are supplied externally and never owned by a session; the session holds
// only a swappable, non-owning reference.
type Sink interface {
	// ID uniquely identifies the sink for attachment bookkeeping.
	ID() string
	// Hidden reports whether the sink renders anywhere visible. Warm-pool
	// sessions buffer against hidden sinks.
	Hidden() bool
}

// SinkFactory mints sinks for the pool and the handoff coordinator.
type SinkFactory interface {
	NewSink(hidden bool) Sink
}

// BasicSink is the minimal Sink used for hidden warm-pool buffering and in
// tests. Visible UI-facing sinks live in the API layer.
type BasicSink struct {
	id     string
	hidden bool
}

// NewBasicSink creates a BasicSink with a fresh unique id.
func NewBasicSink(hidden bool) *BasicSink {
	return &BasicSink{id: uuid.NewString(), hidden: hidden}
}

// ID returns the sink's unique id.
func (s *BasicSink) ID() string { return s.id }

// Hidden reports whether the sink is a non-visible buffering target.
func (s *BasicSink) Hidden() bool { return s.hidden }

// BasicSinkFactory mints BasicSinks.
type BasicSinkFactory struct{}

// NewSink creates a BasicSink.
func (BasicSinkFactory) NewSink(hidden bool) Sink { return NewBasicSink(hidden) }
