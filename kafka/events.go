package kafka

import (
	"log"
	"strconv"
	"time"
)

// Chat lifecycle event types published to the event stream.
const (
	EventSessionStarted     = "session_started"
	EventSessionAssigned    = "session_assigned"
	EventSessionTransferred = "session_transferred"
	EventSessionEnded       = "session_ended"
	EventMessageSent        = "message_sent"
	EventAgentStatusChanged = "agent_status_changed"
)

// ChatEvent is the wire shape on the chat events topic.
type ChatEvent struct {
	Type      string      `json:"type"`
	SessionID uint        `json:"session_id,omitempty"`
	At        time.Time   `json:"at"`
	Payload   interface{} `json:"payload,omitempty"`
}

// EventPublisher pushes chat lifecycle events to the stream. Publishing is
// best-effort: the realtime path never fails a command because the stream is
// down, so errors are logged and swallowed here.
type EventPublisher struct {
	producer *Producer
	topic    string
}

func NewEventPublisher(producer *Producer, topic string) *EventPublisher {
	return &EventPublisher{producer: producer, topic: topic}
}

// PublishChatEvent keys the record by session id, which keeps one session's
// events on one partition and therefore in order.
func (p *EventPublisher) PublishChatEvent(eventType string, sessionID uint, payload interface{}) {
	event := ChatEvent{
		Type:      eventType,
		SessionID: sessionID,
		At:        time.Now(),
		Payload:   payload,
	}
	key := strconv.FormatUint(uint64(sessionID), 10)
	if err := p.producer.SendMessage(p.topic, key, event); err != nil {
		log.Printf("event publish failed (%s, session %d): %v", eventType, sessionID, err)
	}
}

func (p *EventPublisher) Close() error {
	return p.producer.Close()
}
