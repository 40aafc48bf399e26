package kafka

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Топики по умолчанию.
const (
	TopicOrderEvents     = "storefront.order.events"
	TopicNotifications   = "storefront.notifications"
	TopicDeadLetterQueue = "storefront.dlq"
)

// Заголовки сообщений.
const (
	HeaderEventType     = "x-event-type"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// EventOrderConfirmation — тип события письма-подтверждения.
const EventOrderConfirmation = "notification.order_confirmation"

// Envelope — конверт outbox-события в Kafka.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// Key возвращает ключ партиционирования: события одного заказа идут в одну партицию.
func (e Envelope) Key() string {
	if e.AggregateID != "" {
		return e.AggregateID
	}
	return e.ID
}

// OrderConfirmationEvent — задание на отправку подтверждения заказа.
type OrderConfirmationEvent struct {
	EventType   string    `json:"event_type"`
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	Email       string    `json:"email"`
	Total       int64     `json:"total"`
	Amount      string    `json:"amount"`
	Currency    string    `json:"currency"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewOrderConfirmationEvent собирает событие из данных подтверждения.
func NewOrderConfirmationEvent(msg domain.OrderConfirmation, at time.Time) OrderConfirmationEvent {
	return OrderConfirmationEvent{
		EventType:   EventOrderConfirmation,
		OrderID:     msg.OrderID,
		OrderNumber: msg.OrderNumber,
		Email:       msg.Email,
		Total:       msg.Total,
		Amount:      domain.FormatAmount(msg.Total),
		Currency:    msg.Currency,
		CreatedAt:   at.UTC(),
	}
}

// Confirmation переводит событие обратно в доменную структуру.
func (e OrderConfirmationEvent) Confirmation() domain.OrderConfirmation {
	return domain.OrderConfirmation{
		OrderID:     e.OrderID,
		Email:       e.Email,
		OrderNumber: e.OrderNumber,
		Total:       e.Total,
		Currency:    e.Currency,
	}
}

// ParseOrderConfirmation разбирает событие подтверждения из сообщения.
func ParseOrderConfirmation(message *sarama.ConsumerMessage) (OrderConfirmationEvent, error) {
	var event OrderConfirmationEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return OrderConfirmationEvent{}, fmt.Errorf("unmarshal order confirmation: %w", err)
	}
	if event.EventType != EventOrderConfirmation {
		return OrderConfirmationEvent{}, fmt.Errorf("unexpected event type %q", event.EventType)
	}
	if event.OrderID == "" || event.Email == "" {
		return OrderConfirmationEvent{}, fmt.Errorf("order confirmation without order id or email")
	}
	return event, nil
}

// ConsumerDeadLetter — сообщение, которое consumer не смог обработать.
type ConsumerDeadLetter struct {
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	OriginalKey       string    `json:"original_key"`
	OriginalValue     string    `json:"original_value"`
	Error             string    `json:"error_message"`
	RetryCount        int       `json:"retry_count"`
	FailedAt          time.Time `json:"failed_at"`
}

// OutboxDeadLetter — outbox-событие, которое не удалось опубликовать.
// Приходит в DLQ внутри Envelope.Payload.
type OutboxDeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Error         string          `json:"publish_error"`
	FailedAt      time.Time       `json:"failed_at"`
}

// Replay — сообщение, готовое к повторной публикации.
type Replay struct {
	Topic string
	Key   string
	Value []byte
}

// DecodeDeadLetter разбирает сообщение из DLQ. Поддерживает оба формата:
// ConsumerDeadLetter и Envelope с OutboxDeadLetter внутри. ok=false означает,
// что сообщение не похоже ни на один из них.
func DecodeDeadLetter(value []byte, defaultTopic string, now time.Time) (Replay, bool, error) {
	var consumed ConsumerDeadLetter
	if err := json.Unmarshal(value, &consumed); err == nil && consumed.OriginalValue != "" {
		topic := strings.TrimSpace(consumed.OriginalTopic)
		if topic == "" {
			topic = defaultTopic
		}
		return Replay{Topic: topic, Key: consumed.OriginalKey, Value: []byte(consumed.OriginalValue)}, true, nil
	}

	var envelope Envelope
	if err := json.Unmarshal(value, &envelope); err != nil || len(envelope.Payload) == 0 {
		return Replay{}, false, nil
	}

	var dead OutboxDeadLetter
	if err := json.Unmarshal(envelope.Payload, &dead); err != nil {
		return Replay{}, false, fmt.Errorf("decode outbox dead letter: %w", err)
	}
	if len(dead.Payload) == 0 {
		return Replay{}, false, fmt.Errorf("outbox dead letter %s has no payload", envelope.ID)
	}

	replayed := Envelope{
		ID:            firstNonEmpty(dead.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(dead.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(dead.AggregateID, envelope.AggregateID),
		EventType:     firstNonEmpty(dead.EventType, envelope.EventType),
		Payload:       dead.Payload,
		PublishedAt:   now.UTC(),
	}
	encoded, err := json.Marshal(replayed)
	if err != nil {
		return Replay{}, false, fmt.Errorf("encode replay envelope: %w", err)
	}
	return Replay{Topic: defaultTopic, Key: replayed.Key(), Value: encoded}, true, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func headerValue(headers []*sarama.RecordHeader, key string) (string, bool) {
	for _, h := range headers {
		if h != nil && string(h.Key) == key {
			return string(h.Value), true
		}
	}
	return "", false
}
