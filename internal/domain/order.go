package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, оплата и сборка ещё не начаты.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusProcessing — оплата подтверждена, заказ собирается.
	OrderStatusProcessing OrderStatus = "PROCESSING"
	// OrderStatusShipped — передан в доставку.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusDelivered — вручён покупателю.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled — отменён (терминальный).
	OrderStatusCancelled OrderStatus = "CANCELLED"
	// OrderStatusRefunded — деньги возвращены (терминальный).
	OrderStatusRefunded OrderStatus = "REFUNDED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusShipped:    {OrderStatusDelivered, OrderStatusRefunded},
	OrderStatusDelivered:  {OrderStatusRefunded},
}

// ParseOrderStatus разбирает статус без учёта регистра.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	s := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	return s, s.Valid()
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// IsTerminal — из статуса нет переходов.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusRefunded
}

// CanTransitionTo проверяет разрешён ли переход.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Address — снимок адреса доставки на момент заказа. После создания не меняется.
type Address struct {
	ID         string
	UserID     string
	FirstName  string
	LastName   string
	Street     string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
	CreatedAt  time.Time
}

// OrderItem — позиция заказа с замороженной ценой за единицу.
type OrderItem struct {
	ID          string
	OrderID     string
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   int64
	Subtotal    int64
	CreatedAt   time.Time
}

// Order агрегирует состояние заказа, его позиции и адрес.
type Order struct {
	ID             string
	OrderNumber    string
	UserID         string
	Status         OrderStatus
	PaymentStatus  PaymentStatus
	PaymentMethod  string
	ShippingMethod ShippingMethod
	Currency       string
	Subtotal       int64
	ShippingCost   int64
	TaxRateBps     int64
	Tax            int64
	Total          int64
	TrackingNumber string
	Address        *Address
	Items          []OrderItem
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Totals возвращает сохранённые суммы заказа.
func (o *Order) Totals() Totals {
	return Totals{
		Subtotal:     o.Subtotal,
		ShippingCost: o.ShippingCost,
		TaxRateBps:   o.TaxRateBps,
		Tax:          o.Tax,
		Total:        o.Total,
	}
}

// RecomputeTotals пересчитывает суммы только по позициям, тарифу и ставке налога.
func (o *Order) RecomputeTotals() (Totals, error) {
	lines := make([]PricedLine, 0, len(o.Items))
	for _, item := range o.Items {
		lines = append(lines, PricedLine{UnitPrice: item.UnitPrice, Quantity: item.Quantity})
	}
	return ComputeTotals(lines, o.ShippingMethod, o.TaxRateBps)
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, ErrUserRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrOrderStatusInvalid)
	}
	if !o.PaymentStatus.Valid() {
		errs = append(errs, ErrPaymentStatusInvalid)
	}
	if !o.ShippingMethod.Valid() {
		errs = append(errs, ErrShippingMethodInvalid)
	}

	var subtotal int64
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPrice < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		subtotal += item.UnitPrice * int64(item.Quantity)
	}
	if subtotal != o.Subtotal {
		errs = append(errs, ErrSubtotalMismatch)
	}

	if o.ShippingMethod.Valid() && len(o.Items) > 0 {
		if totals, err := o.RecomputeTotals(); err == nil && totals != o.Totals() {
			errs = append(errs, ErrTotalMismatch)
		}
	}

	return errs
}

// NewOrderNumber формирует человекочитаемый номер вида ORD-<unix ms>-<9 символов>.
func NewOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:9]
	return fmt.Sprintf("ORD-%d-%s", now.UnixMilli(), suffix)
}

// OrderFilter — выборка заказов для списков.
type OrderFilter struct {
	UserID string
	Status OrderStatus
	Page   int
	Limit  int
}

// Normalize подставляет пагинацию по умолчанию.
func (f OrderFilter) Normalize() OrderFilter {
	f.Page, f.Limit = NormalizePage(f.Page, f.Limit)
	return f
}

// Offset возвращает смещение для текущей страницы.
func (f OrderFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// OrderPage — страница заказов.
type OrderPage struct {
	Orders []Order
	Total  int
	Page   int
	Limit  int
}

// TotalPages считает количество страниц.
func (p OrderPage) TotalPages() int {
	if p.Limit <= 0 {
		return 0
	}
	return (p.Total + p.Limit - 1) / p.Limit
}

// OrderMutation — запись заказа вместе с событиями outbox и timeline,
// которые фиксируются той же транзакцией. Cart, если задан, удаляется в
// этой же транзакции.
type OrderMutation struct {
	Order    Order
	Cart     *CartConsumption
	Outbox   []OutboxMessage
	Timeline []TimelineEvent
}

// CartConsumption — снимок позиций корзины, из которых собран заказ.
// Репозиторий удаляет ровно эти позиции и только если их количество не
// изменилось; иначе вся транзакция откатывается с ErrCartChanged.
type CartConsumption struct {
	CartID string
	Items  []CartItem
}

// NewCartConsumption снимает id и количества позиций корзины.
func NewCartConsumption(cart Cart) *CartConsumption {
	items := make([]CartItem, 0, len(cart.Items))
	for _, it := range cart.Items {
		items = append(items, CartItem{ID: it.ID, CartID: cart.ID, ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return &CartConsumption{CartID: cart.ID, Items: items}
}

// ItemIDs возвращает id позиций снимка.
func (c *CartConsumption) ItemIDs() []string {
	ids := make([]string, 0, len(c.Items))
	for _, it := range c.Items {
		ids = append(ids, it.ID)
	}
	return ids
}
