package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnauthorized — операция требует аутентифицированного пользователя.
	ErrUnauthorized = errors.New("authentication required")
	// ErrForbidden — пользователь аутентифицирован, но не владеет ресурсом.
	ErrForbidden = errors.New("access denied")
	// ErrEmptyCart — корзина не найдена или не содержит позиций.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrInsufficientStock — остатка не хватает для оформления заказа.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrOutOfStock — остатка не хватает при добавлении в корзину.
	ErrOutOfStock = errors.New("insufficient stock")
	// ErrProductNotFound — товар не существует или снят с продажи.
	ErrProductNotFound = errors.New("product not found or inactive")
	// ErrProductSlugTaken — slug уже принадлежит другому товару.
	ErrProductSlugTaken = errors.New("product slug is already used")
	// ErrEmailNotVerified — добавление в корзину заблокировано до подтверждения email.
	ErrEmailNotVerified = errors.New("please verify your email before adding items to cart")
	// ErrValidation — некорректные входные данные.
	ErrValidation = errors.New("validation failed")

	// ErrCartNotFound возвращается, если у владельца нет корзины.
	ErrCartNotFound = errors.New("cart not found")
	// ErrCartItemNotFound возвращается, если позиция не найдена в корзине вызывающего.
	ErrCartItemNotFound = errors.New("cart item not found")
	// ErrCartChanged возвращается, если корзина изменилась между снимком и
	// фиксацией заказа; заказ не создаётся.
	ErrCartChanged = errors.New("cart changed during checkout, please review it and retry")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrOrderAlreadyExists — повторная вставка заказа с тем же ID или номером.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrInvalidStatusTransition — переход статуса заказа не разрешён.
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrSessionNotFound — токен сессии неизвестен или истёк.
	ErrSessionNotFound = errors.New("session not found")

	// Ошибки инвариантов заказа.
	ErrUserRequired           = errors.New("user_id is required")
	ErrItemsRequired          = errors.New("order must contain at least one item")
	ErrItemQtyInvalid         = errors.New("item quantity must be greater than zero")
	ErrItemPriceInvalid       = errors.New("item price must be non-negative")
	ErrShippingMethodInvalid  = errors.New("shipping method must be one of STANDARD, EXPRESS, OVERNIGHT")
	ErrTaxRateInvalid         = errors.New("tax rate must be between 0 and 10000 basis points")
	ErrSubtotalMismatch       = errors.New("order subtotal does not match items sum")
	ErrTotalMismatch          = errors.New("order total does not match subtotal, shipping and tax")
	ErrOrderStatusInvalid     = errors.New("order status is invalid")
	ErrPaymentStatusInvalid   = errors.New("payment status is invalid")
	ErrQuantityInvalid        = errors.New("quantity must be a positive integer")
	ErrQuantityNegative       = errors.New("invalid quantity")
	ErrQuantityTooLarge       = fmt.Errorf("quantity must not exceed %d per cart line", MaxCartLineQty)
	ErrProductIDRequired      = errors.New("product ID is required")
	ErrGuestTokenRequired     = errors.New("guest cart token is required")
	ErrMergeRequiresGuestCart = errors.New("no guest cart to merge")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// Ошибки idempotency-key.
	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with a different request")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
)

// StockError описывает нехватку остатка по конкретному товару.
// Err — ErrInsufficientStock (оформление) или ErrOutOfStock (корзина).
type StockError struct {
	Err         error
	ProductID   string
	ProductName string
	Requested   int
	Available   int
}

func (e *StockError) Error() string {
	name := e.ProductName
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("%s is out of stock or has insufficient quantity", name)
}

func (e *StockError) Unwrap() error {
	if e.Err == nil {
		return ErrInsufficientStock
	}
	return e.Err
}

// NewInsufficientStock создаёт ошибку нехватки остатка при оформлении заказа.
func NewInsufficientStock(p Product, requested int) *StockError {
	return &StockError{
		Err:         ErrInsufficientStock,
		ProductID:   p.ID,
		ProductName: p.Name,
		Requested:   requested,
		Available:   p.StockQuantity,
	}
}

// FieldError — ошибка валидации конкретного поля запроса.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError собирает все ошибки полей одного запроса.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Add добавляет ошибку поля.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// OrNil возвращает nil, если ошибок нет.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsStockError проверяет нехватку остатка и возвращает детали, если они есть.
func IsStockError(err error) (*StockError, bool) {
	var stockErr *StockError
	if errors.As(err, &stockErr) {
		return stockErr, true
	}
	return nil, false
}
