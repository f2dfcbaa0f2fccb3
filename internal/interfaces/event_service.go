package interfaces

import "context"

// EventType represents different event types in the system.
type EventType string

const (
	EventIngestStarted   EventType = "ingest_started"
	EventIngestProgress  EventType = "ingest_progress"
	EventIngestCompleted EventType = "ingest_completed"
	EventIngestFailed    EventType = "ingest_failed"
	EventSourceExpired   EventType = "source_expired"
)

// Event represents a system event.
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that handles events.
type EventHandler func(ctx context.Context, event Event) error

// EventService manages a pub/sub event bus used to surface ingestion
// progress to observers such as the websocket handler.
type EventService interface {
	Subscribe(eventType EventType, handler EventHandler) error
	Publish(ctx context.Context, event Event) error
	Close() error
}
