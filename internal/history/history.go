package history

import (
	"context"
	"errors"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart   EventType = "start"
	EventStop    EventType = "stop"
	EventCrash   EventType = "crash"
	EventKill    EventType = "kill"
	EventRestart EventType = "restart"
)

// Event is one server lifecycle change exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	Role       string    `json:"role"`
	PID        int       `json:"pid"`
	ExitCode   *int      `json:"exit_code,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Message    string    `json:"message,omitempty"`
}

// WithExitCode returns a copy of e carrying code.
func (e Event) WithExitCode(code int) Event {
	e.ExitCode = &code
	return e
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Reader returns recorded events, newest first. role "" means all roles.
type Reader interface {
	Recent(ctx context.Context, role string, limit int) ([]Event, error)
}

// Fanout sends each event to every sink and joins their errors.
type Fanout []Sink

func (f Fanout) Send(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Send(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
