package history

import (
	"context"
	"time"

	"github.com/loykin/cardflow/internal/journey"
)

// EventType defines the kind of journey lifecycle event exported to external
// analytics systems.
type EventType string

const (
	EventCreated    EventType = "created"
	EventTransition EventType = "transition"
)

// Event is one exported journey lifecycle record.
type Event struct {
	Type            EventType      `json:"type"`
	OccurredAt      time.Time      `json:"occurred_at"`
	JourneyID       string         `json:"journey_id"`
	Stage           journey.Stage  `json:"stage"`
	PreviousStage   *journey.Stage `json:"previous_stage,omitempty"`
	DurationMinutes *int64         `json:"duration_minutes,omitempty"`
	Priority        string         `json:"priority"`
	Region          string         `json:"region"`
	Source          string         `json:"source,omitempty"`
}

// Sink is a destination for journey history events (analytics/warehouse
// systems). Implementations must be safe for concurrent use; delivery is
// best-effort and never blocks the write path on failure.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
