package kafka

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// NotificationPublisher ставит письма-подтверждения в очередь для cmd/notifier.
type NotificationPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

var _ domain.Notifier = (*NotificationPublisher)(nil)

// NewNotificationPublisher создаёт паблишер; пустой topic означает TopicNotifications.
func NewNotificationPublisher(producer *Producer, topic string) *NotificationPublisher {
	if topic == "" {
		topic = TopicNotifications
	}
	return &NotificationPublisher{
		producer: producer,
		topic:    topic,
		now:      time.Now,
	}
}

// SendOrderConfirmation публикует OrderConfirmationEvent с ключом по id заказа.
func (p *NotificationPublisher) SendOrderConfirmation(ctx context.Context, msg domain.OrderConfirmation) error {
	if p == nil || p.producer == nil {
		return ErrProducerClosed
	}
	event := NewOrderConfirmationEvent(msg, p.now())
	return p.producer.PublishJSON(ctx, p.topic, msg.OrderID, event, map[string]string{
		HeaderEventType: EventOrderConfirmation,
	})
}
