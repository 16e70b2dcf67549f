package shared

// EventKind represents the kind of a bot event.
type EventKind string

const (
	EventStarted    EventKind = "started"
	EventProgress   EventKind = "progress"
	EventStopped    EventKind = "stoped"
	EventTransacted EventKind = "transacted"
	EventFailed     EventKind = "failed"
)

// Lifecycle returns whether the kind marks a bot lifecycle transition. Lifecycle
// events are never dropped on their way to subscribers.
func (k EventKind) Lifecycle() bool {
	switch k {
	case EventStarted, EventStopped, EventFailed:
		return true
	default:
		return false
	}
}

// Event is a bot lifecycle or strategy event broadcast to the bot's subscribers.
type Event struct {
	// Bot is the name of the bot the event originates from.
	Bot string
	// Kind is the event kind, strategies may emit their own kinds.
	Kind EventKind
	// Progress is the processed tick count for progress events.
	Progress int
	// Transaction is set for transacted events.
	Transaction *Transaction
	// Payload is an optional strategy defined payload.
	Payload any
	// Err is the terminal error message for failed events.
	Err string
}

// Data returns the wire payload of the event.
func (e *Event) Data() any {
	switch e.Kind {
	case EventProgress:
		return e.Progress
	case EventTransacted:
		return e.Transaction
	case EventFailed:
		return e.Err
	case EventStarted, EventStopped:
		return nil
	default:
		return e.Payload
	}
}
