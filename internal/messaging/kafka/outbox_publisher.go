package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// OutboxPublisher публикует outbox-сообщения в заданный топик. Один и тот же
// тип обслуживает основной топик событий и DLQ.
type OutboxPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

var _ domain.OutboxPublisher = (*OutboxPublisher)(nil)

// NewOutboxPublisher создаёт паблишер; пустой topic означает TopicOrderEvents.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxPublisher{
		producer: producer,
		topic:    topic,
		now:      time.Now,
	}
}

// Topic возвращает топик назначения.
func (p *OutboxPublisher) Topic() string {
	return p.topic
}

// Publish оборачивает событие в Envelope. Ключ — id агрегата, чтобы события
// одного заказа сохраняли порядок.
func (p *OutboxPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return ErrProducerClosed
	}

	payload := json.RawMessage(event.Payload)
	if !json.Valid(payload) {
		quoted, err := json.Marshal(string(event.Payload))
		if err != nil {
			return err
		}
		payload = quoted
	}

	envelope := Envelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       payload,
		PublishedAt:   p.now().UTC(),
	}
	return p.producer.PublishJSON(ctx, p.topic, envelope.Key(), envelope, map[string]string{
		HeaderEventType: event.EventType,
	})
}
