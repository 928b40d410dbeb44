package kafka

import (
	"github.com/IBM/sarama"
)

// ChatEventInterceptor stamps every outgoing event with its origin so
// downstream consumers can tell this backend's events from replays or
// backfills.
type ChatEventInterceptor struct{}

func NewChatEventInterceptor() *ChatEventInterceptor {
	return &ChatEventInterceptor{}
}

func (i *ChatEventInterceptor) OnSend(msg *sarama.ProducerMessage) {
	msg.Headers = append(msg.Headers, sarama.RecordHeader{
		Key:   []byte("origin"),
		Value: []byte("helpdesk-chat"),
	})
}
