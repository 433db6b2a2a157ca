package domain

import "time"

// EventType identifies the kind of watch event delivered to subscribers.
type EventType string

const (
	EventStatusUpdate EventType = "status_update"
	EventProgress     EventType = "progress"
	EventLogAdded     EventType = "log_added"
	EventNotification EventType = "notification"
)

// ProgressStep marks a phase inside one check cycle.
type ProgressStep string

const (
	StepStart     ProgressStep = "start"
	StepSearching ProgressStep = "searching"
	StepFound     ProgressStep = "found"
	StepComplete  ProgressStep = "complete"
	StepError     ProgressStep = "error"
)

// NotificationLevel classifies a Notification event.
type NotificationLevel string

const (
	NotifySuccess NotificationLevel = "success"
	NotifyError   NotificationLevel = "error"
)

// Event is the envelope fanned out to subscribers. Type selects which of the
// optional payload fields are set. Events are transient: missing one changes
// nothing about the watch state, only about what a viewer saw live.
type Event struct {
	Type    EventType         `json:"type"`
	At      time.Time         `json:"at"`
	Status  *WatchStatus      `json:"status,omitempty"`
	Step    ProgressStep      `json:"step,omitempty"`
	Level   NotificationLevel `json:"level,omitempty"`
	Message string            `json:"message,omitempty"`
	Entry   *LogEntry         `json:"entry,omitempty"`
}

// StatusEvent wraps a status snapshot.
func StatusEvent(st WatchStatus) Event {
	return Event{Type: EventStatusUpdate, At: time.Now().UTC(), Status: &st}
}

// ProgressEvent marks one phase of the running check cycle.
func ProgressEvent(step ProgressStep, msg string) Event {
	return Event{Type: EventProgress, At: time.Now().UTC(), Step: step, Message: msg}
}

// LogEvent announces a freshly appended log entry.
func LogEvent(e LogEntry) Event {
	return Event{Type: EventLogAdded, At: time.Now().UTC(), Entry: &e}
}

// NotificationEvent surfaces a user-facing success or error note.
func NotificationEvent(level NotificationLevel, msg string) Event {
	return Event{Type: EventNotification, At: time.Now().UTC(), Level: level, Message: msg}
}
