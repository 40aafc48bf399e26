package domain

import "strings"

// PaymentStatus описывает состояние оплаты заказа. Меняется администратором
// или платёжным webhook'ом, оформление заказа всегда выставляет PENDING.
type PaymentStatus string

const (
	// PaymentStatusPending — оплата ещё не подтверждена.
	PaymentStatusPending PaymentStatus = "PENDING"
	// PaymentStatusCompleted — деньги получены.
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	// PaymentStatusFailed — провайдер отклонил платёж.
	PaymentStatusFailed PaymentStatus = "FAILED"
	// PaymentStatusRefunded — деньги возвращены клиенту.
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// DefaultPaymentMethod подставляется, если клиент не выбрал способ оплаты.
const DefaultPaymentMethod = "pending"

// ParsePaymentStatus разбирает статус оплаты без учёта регистра.
func ParsePaymentStatus(raw string) (PaymentStatus, bool) {
	s := PaymentStatus(strings.ToUpper(strings.TrimSpace(raw)))
	return s, s.Valid()
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	default:
		return false
	}
}
