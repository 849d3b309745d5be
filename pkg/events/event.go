package events

import (
	"context"
	"time"
)

// Event is anything the engine announces to interested peers: warmup done,
// caches cleared, models evicted. Events are advisory; losing one never
// corrupts state.
type Event interface {
	EventType() string
	Payload() map[string]interface{}
	Timestamp() time.Time
}

// BaseEvent is the common event carrier. Components that need no extra
// behavior publish these directly.
type BaseEvent struct {
	Type       string                 `json:"type"`
	Data       map[string]interface{} `json:"data"`
	OccurredAt time.Time              `json:"occurred_at"`
}

func (e BaseEvent) EventType() string               { return e.Type }
func (e BaseEvent) Payload() map[string]interface{} { return e.Data }
func (e BaseEvent) Timestamp() time.Time            { return e.OccurredAt }

// Publisher fans events out to a broker. A nil Publisher is a valid
// configuration; callers must tolerate its absence.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}
