package kafka

import (
	"context"
	"encoding/json"
	"log"

	"github.com/IBM/sarama"
)

// AuditHandler drains the chat events topic into the audit log. It is the
// durable trail for supervisors; the realtime path does not depend on it.
type AuditHandler struct {
}

func NewAuditHandler() *AuditHandler {
	return &AuditHandler{}
}

func (h *AuditHandler) Handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	var event ChatEvent

	if err := json.Unmarshal(message.Value, &event); err != nil {
		log.Printf("Failed to unmarshal event: %v", err)
		return err
	}

	log.Printf("audit: %s session=%d at=%s", event.Type, event.SessionID, event.At.Format("2006-01-02T15:04:05Z07:00"))

	return nil
}
