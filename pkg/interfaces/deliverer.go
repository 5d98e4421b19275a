package interfaces

import "majlis/pkg/types"

// Deliverer is the outbound half of a transport session. Implementations
// must be safe for concurrent use; the core calls them from the presence
// coordinator, the broadcaster and the bootstrapper.
type Deliverer interface {
	// Send enqueues an event for ordered delivery and blocks (bounded)
	// if the session's outbound queue is full. Used for history replay,
	// where losing an event would leave a gap the client cannot detect.
	Send(event *types.Event) error

	// Deliver enqueues an event without blocking; the event is dropped
	// if the session's outbound queue is full. Used for live fan-out,
	// where a dropped event is recoverable through history replay and a
	// slow recipient must never delay the others.
	Deliver(event *types.Event)

	// Close tears the transport session down and releases its resources.
	Close() error
}
