package bus

import (
	"context"

	"github.com/petal-labs/talon/engine"
)

// EventStore persists events as a replayable ledger of what the agent did:
// which entries ran, who spawned what, and what failed.
type EventStore interface {
	// Append stores an event.
	Append(ctx context.Context, event engine.Event) error

	// List returns events for a run, optionally filtered.
	// afterSeq: return events with Seq > afterSeq (0 means all)
	// limit: max events to return (0 means no limit)
	List(ctx context.Context, runID string, afterSeq uint64, limit int) ([]engine.Event, error)

	// LatestSeq returns the highest Seq for a run (0 if no events).
	LatestSeq(ctx context.Context, runID string) (uint64, error)
}
