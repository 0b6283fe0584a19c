// Package history defines the append-only journal of worker lifecycle
// events. Sinks live in subpackages; factory picks one from a DSN.
package history

import (
	"context"
	"time"
)

// EventType names a lifecycle event.
type EventType string

const (
	EventLaunched     EventType = "launched"
	EventLaunchFailed EventType = "launch_failed"
	EventReaped       EventType = "reaped"
	EventStaleKilled  EventType = "stale_killed"
)

// Event is one journal entry.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Worker     string    `json:"worker"`
	PID        int       `json:"pid"`
	Trigger    string    `json:"trigger,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Table is the default relational table / index name for events.
const Table = "worker_history"
