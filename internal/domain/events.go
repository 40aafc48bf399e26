package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OrderPlacedPayload — тело события order.placed.
type OrderPlacedPayload struct {
	OrderID        string            `json:"order_id"`
	OrderNumber    string            `json:"order_number"`
	UserID         string            `json:"user_id"`
	Currency       string            `json:"currency"`
	Subtotal       int64             `json:"subtotal"`
	ShippingMethod ShippingMethod    `json:"shipping_method"`
	ShippingCost   int64             `json:"shipping_cost"`
	Tax            int64             `json:"tax"`
	Total          int64             `json:"total"`
	Items          []OrderPlacedItem `json:"items"`
	PlacedAt       time.Time         `json:"placed_at"`
}

// OrderPlacedItem — позиция в событии order.placed.
type OrderPlacedItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// OrderStatusChangedPayload — тело события order.status_changed.
type OrderStatusChangedPayload struct {
	OrderID        string        `json:"order_id"`
	OrderNumber    string        `json:"order_number"`
	From           OrderStatus   `json:"from"`
	To             OrderStatus   `json:"to"`
	PaymentStatus  PaymentStatus `json:"payment_status"`
	TrackingNumber string        `json:"tracking_number,omitempty"`
	Version        int64         `json:"version"`
	ChangedAt      time.Time     `json:"changed_at"`
}

// NewOrderPlacedMessage строит outbox-сообщение о созданном заказе.
func NewOrderPlacedMessage(order Order) (OutboxMessage, error) {
	items := make([]OrderPlacedItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderPlacedItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	payload, err := json.Marshal(OrderPlacedPayload{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		Currency:       order.Currency,
		Subtotal:       order.Subtotal,
		ShippingMethod: order.ShippingMethod,
		ShippingCost:   order.ShippingCost,
		Tax:            order.Tax,
		Total:          order.Total,
		Items:          items,
		PlacedAt:       order.CreatedAt,
	})
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal order.placed payload: %w", err)
	}
	return OutboxMessage{
		ID:            uuid.NewString(),
		AggregateType: AggregateOrder,
		AggregateID:   order.ID,
		EventType:     EventOrderPlaced,
		Payload:       payload,
	}, nil
}

// NewOrderStatusChangedMessage строит outbox-сообщение о смене статуса.
func NewOrderStatusChangedMessage(order Order, from OrderStatus, at time.Time) (OutboxMessage, error) {
	payload, err := json.Marshal(OrderStatusChangedPayload{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		From:           from,
		To:             order.Status,
		PaymentStatus:  order.PaymentStatus,
		TrackingNumber: order.TrackingNumber,
		Version:        order.Version,
		ChangedAt:      at,
	})
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal order.status_changed payload: %w", err)
	}
	return OutboxMessage{
		ID:            uuid.NewString(),
		AggregateType: AggregateOrder,
		AggregateID:   order.ID,
		EventType:     EventOrderStatusChanged,
		Payload:       payload,
	}, nil
}
