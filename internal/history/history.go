package history

import (
	"context"
	"errors"
	"time"
)

// EventType defines the kind of run event.
type EventType string

const (
	// EventTransition records an ordinary run-state change.
	EventTransition EventType = "transition"
	// EventFailure records a transition caused by an error.
	EventFailure EventType = "failure"
)

// Run is the snapshot of an orchestrator run carried by every event.
type Run struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	To      string `json:"to"`
	PID     int    `json:"pid"`
	Command string `json:"command"`
	Detail  string `json:"detail,omitempty"`
}

// Event is one run-state change exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Run        Run       `json:"run"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Closer is implemented by sinks holding a connection.
type Closer interface {
	Close() error
}

// CloseAll closes every sink that implements Closer.
func CloseAll(sinks []Sink) error {
	var errs []error
	for _, s := range sinks {
		if c, ok := s.(Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
