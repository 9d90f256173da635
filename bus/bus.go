// Package bus distributes engine events to observers. It keeps the execution
// engine decoupled from whoever is watching a collection run: loggers, the
// persistent event ledger, tracing, or a live console.
package bus

import "github.com/petal-labs/talon/engine"

// EventBus distributes events to subscribers.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(event engine.Event)

	// Subscribe registers a subscriber for a specific run.
	// Returns a Subscription that must be closed when done.
	Subscribe(runID string) Subscription

	// SubscribeAll registers a subscriber that receives events from all runs.
	// Returns a Subscription that must be closed when done.
	SubscribeAll() Subscription

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// Subscription receives events.
type Subscription interface {
	// Events returns a channel of events for this subscription.
	Events() <-chan engine.Event

	// Close unsubscribes and releases resources.
	Close() error
}
