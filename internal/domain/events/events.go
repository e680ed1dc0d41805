package events

import (
	"github.com/covehq/cove/internal/domain/entities"
	"github.com/kelindar/event"
)

// Event types
const (
	TranscriptEventType uint32 = 1
	RunEventType        uint32 = 2
	QueueEventType      uint32 = 3
	ConnectionEventType uint32 = 4
)

// TranscriptEventData signals that the rendered message list changed.
type TranscriptEventData struct {
	SessionKey string
	Messages   []*entities.Message
}

// RunEventData signals a live update of an in-flight run. Run is nil when
// the run left the active set.
type RunEventData struct {
	RunID string
	Run   *entities.Run
}

// QueueEventData signals that the offline message queue changed.
type QueueEventData struct {
	Queue []*entities.QueuedMessage
}

// ConnectionEventData signals a gateway connectivity change.
type ConnectionEventData struct {
	Connected bool
}

// Type implements the Event interface
func (t TranscriptEventData) Type() uint32 {
	return TranscriptEventType
}

// Type implements the Event interface
func (r RunEventData) Type() uint32 {
	return RunEventType
}

// Type implements the Event interface
func (q QueueEventData) Type() uint32 {
	return QueueEventType
}

// Type implements the Event interface
func (c ConnectionEventData) Type() uint32 {
	return ConnectionEventType
}

// PublishTranscriptEvent publishes a transcript change event
func PublishTranscriptEvent(sessionKey string, messages []*entities.Message) {
	event.Emit(TranscriptEventData{SessionKey: sessionKey, Messages: messages})
}

// SubscribeToTranscriptEvents subscribes to transcript change events
func SubscribeToTranscriptEvents(handler func(data TranscriptEventData)) func() {
	return event.On(handler)
}

// PublishRunEvent publishes a run update event
func PublishRunEvent(runID string, run *entities.Run) {
	event.Emit(RunEventData{RunID: runID, Run: run})
}

// SubscribeToRunEvents subscribes to run update events
func SubscribeToRunEvents(handler func(data RunEventData)) func() {
	return event.On(handler)
}

// PublishQueueEvent publishes a queue change event
func PublishQueueEvent(queue []*entities.QueuedMessage) {
	event.Emit(QueueEventData{Queue: queue})
}

// SubscribeToQueueEvents subscribes to queue change events
func SubscribeToQueueEvents(handler func(data QueueEventData)) func() {
	return event.On(handler)
}

// PublishConnectionEvent publishes a connectivity change event
func PublishConnectionEvent(connected bool) {
	event.Emit(ConnectionEventData{Connected: connected})
}

// SubscribeToConnectionEvents subscribes to connectivity change events
func SubscribeToConnectionEvents(handler func(data ConnectionEventData)) func() {
	return event.On(handler)
}
