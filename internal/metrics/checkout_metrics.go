package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты оформления для label result.
const (
	CheckoutResultPlaced            = "placed"
	CheckoutResultUnauthorized      = "unauthorized"
	CheckoutResultEmptyCart         = "empty_cart"
	CheckoutResultInsufficientStock = "insufficient_stock"
	CheckoutResultCartChanged       = "cart_changed"
	CheckoutResultInvalid           = "invalid"
	CheckoutResultError             = "error"
)

// CheckoutMetrics — метрики оформления заказов и смены их статусов.
// Все методы допускают nil-получателя.
type CheckoutMetrics struct {
	attempts            *prometheus.CounterVec
	duration            prometheus.Histogram
	placedAmount        prometheus.Counter
	stockConflicts      prometheus.Counter
	cartConflicts       prometheus.Counter
	notificationFailure *prometheus.CounterVec
	statusChanges       *prometheus.CounterVec
	timelineEvents      prometheus.Counter
	outboxEvents        prometheus.Counter
}

// NewCheckoutMetrics регистрирует метрики в DefaultRegisterer.
func NewCheckoutMetrics() *CheckoutMetrics {
	return NewCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCheckoutMetricsWithRegisterer регистрирует метрики в переданном registerer.
func NewCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CheckoutMetrics{
		attempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_checkout_attempts_total",
			Help: "Checkout attempts grouped by result.",
		}, []string{"result"}),
		duration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "storefront_checkout_duration_seconds",
			Help:    "Duration of checkout requests in seconds.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		placedAmount: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_orders_placed_amount_total",
			Help: "Sum of totals of placed orders in store currency units.",
		}),
		stockConflicts: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_stock_conflicts_total",
			Help: "Guarded stock decrements that matched no row.",
		}),
		cartConflicts: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_checkout_cart_conflicts_total",
			Help: "Checkouts rolled back because the cart changed after it was read.",
		}),
		notificationFailure: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_notification_failures_total",
			Help: "Order confirmation notifications that failed.",
		}, []string{"reason"}),
		statusChanges: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_order_status_changes_total",
			Help: "Order status transitions applied by administrators.",
		}, []string{"from", "to"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_timeline_events_total",
			Help: "Timeline events written together with order mutations.",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_outbox_events_total",
			Help: "Outbox messages enqueued together with order mutations.",
		}),
	}
}

// RecordCheckout фиксирует попытку оформления и её длительность.
func (m *CheckoutMetrics) RecordCheckout(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(result).Inc()
	m.duration.Observe(duration.Seconds())
}

// RecordOrderPlaced учитывает сумму созданного заказа.
func (m *CheckoutMetrics) RecordOrderPlaced(total int64) {
	if m == nil || total < 0 {
		return
	}
	m.placedAmount.Add(float64(total))
}

// RecordStockConflict учитывает отказ условного списания остатка.
func (m *CheckoutMetrics) RecordStockConflict() {
	if m == nil {
		return
	}
	m.stockConflicts.Inc()
}

// RecordCartConflict учитывает оформление, откатанное из-за изменения корзины.
func (m *CheckoutMetrics) RecordCartConflict() {
	if m == nil {
		return
	}
	m.cartConflicts.Inc()
}

// NotificationFailed учитывает неудачную отправку подтверждения.
func (m *CheckoutMetrics) NotificationFailed(reason string) {
	if m == nil {
		return
	}
	m.notificationFailure.WithLabelValues(reason).Inc()
}

// RecordStatusChange учитывает смену статуса заказа.
func (m *CheckoutMetrics) RecordStatusChange(from, to string) {
	if m == nil {
		return
	}
	m.statusChanges.WithLabelValues(from, to).Inc()
}

// RecordEvents учитывает события, записанные вместе с заказом.
func (m *CheckoutMetrics) RecordEvents(timeline, outbox int) {
	if m == nil {
		return
	}
	m.timelineEvents.Add(float64(timeline))
	m.outboxEvents.Add(float64(outbox))
}
