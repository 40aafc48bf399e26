package domain

import (
	"sort"
	"strings"
	"time"
)

// Типы событий timeline заказа.
const (
	TimelineOrderPlaced          = "order.placed"
	TimelineStatusChanged        = "order.status_changed"
	TimelinePaymentStatusChanged = "order.payment_status_changed"
	TimelineTrackingAssigned     = "order.tracking_assigned"
)

// TimelineActorSystem — автор событий, которые не инициировал пользователь.
const TimelineActorSystem = "system"

// TimelineEvent — запись истории заказа. Actor хранит id пользователя,
// вызвавшего изменение.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Actor    string
	Reason   string
	Occurred time.Time
}

// NewTimelineEvent собирает событие; пустой actor заменяется на system.
func NewTimelineEvent(orderID, eventType, actor, reason string, at time.Time) TimelineEvent {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		actor = TimelineActorSystem
	}
	return TimelineEvent{
		OrderID:  orderID,
		Type:     eventType,
		Actor:    actor,
		Reason:   reason,
		Occurred: at.UTC(),
	}
}

// SortTimeline упорядочивает события по времени, сохраняя порядок равных.
func SortTimeline(events []TimelineEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Occurred.Before(events[j].Occurred)
	})
}
