// Package checkout превращает корзину покупателя в заказ.
//
// Заказ, позиции, адрес, списание остатков и события outbox/timeline
// фиксируются одной транзакцией хранилища. Очистка корзины и уведомление
// выполняются после фиксации и на результат оформления не влияют.
package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/identity"
)

const (
	defaultCurrency   = "INR"
	postCommitTimeout = 5 * time.Second
)

// Dispatcher ставит подтверждение заказа в асинхронную отправку.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg domain.OrderConfirmation)
}

// Options задаёт параметры сервиса оформления.
type Options struct {
	Logger     *log.Entry
	Resolver   *identity.Resolver
	Dispatcher Dispatcher
	Metrics    *metrics.CheckoutMetrics
	TaxRateBps int64
	Currency   string
	Clock      func() time.Time
}

// Option настраивает Service.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) { opts.Logger = logger }
}

// WithResolver задаёт общий Resolver.
func WithResolver(resolver *identity.Resolver) Option {
	return func(opts *Options) { opts.Resolver = resolver }
}

// WithDispatcher подключает отправку подтверждений.
func WithDispatcher(dispatcher Dispatcher) Option {
	return func(opts *Options) { opts.Dispatcher = dispatcher }
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(opts *Options) { opts.Metrics = m }
}

// WithTaxRateBps задаёт ставку налога в базисных пунктах.
func WithTaxRateBps(bps int64) Option {
	return func(opts *Options) { opts.TaxRateBps = bps }
}

// WithCurrency задаёт валюту магазина.
func WithCurrency(currency string) Option {
	return func(opts *Options) { opts.Currency = currency }
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(opts *Options) { opts.Clock = clock }
}

// Service оформляет заказы.
type Service struct {
	catalog    domain.CatalogRepository
	orders     domain.OrderRepository
	users      domain.UserRepository
	resolver   *identity.Resolver
	dispatcher Dispatcher
	metrics    *metrics.CheckoutMetrics
	logger     *log.Entry
	taxRateBps int64
	currency   string
	now        func() time.Time
}

// NewService создаёт сервис оформления. Ставка налога проверяется здесь,
// чтобы ошибка конфигурации не всплывала на каждом заказе.
func NewService(
	catalog domain.CatalogRepository,
	carts domain.CartRepository,
	orders domain.OrderRepository,
	users domain.UserRepository,
	options ...Option,
) (*Service, error) {
	opts := Options{Currency: defaultCurrency}
	for _, option := range options {
		option(&opts)
	}
	if opts.TaxRateBps < 0 || opts.TaxRateBps > domain.MaxTaxRateBps {
		return nil, domain.ErrTaxRateInvalid
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "checkout")
	}
	if opts.Resolver == nil {
		opts.Resolver = identity.NewResolver(carts, opts.Logger)
	}
	if opts.Currency == "" {
		opts.Currency = defaultCurrency
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		catalog:    catalog,
		orders:     orders,
		users:      users,
		resolver:   opts.Resolver,
		dispatcher: opts.Dispatcher,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		taxRateBps: opts.TaxRateBps,
		currency:   opts.Currency,
		now:        opts.Clock,
	}, nil
}

// PlaceOrder оформляет заказ из корзины запроса.
func (s *Service) PlaceOrder(ctx context.Context, id domain.Identity, input domain.CheckoutInput) (result domain.PlacementResult, err error) {
	started := time.Now()
	defer func() {
		s.metrics.RecordCheckout(resultLabel(err), time.Since(started))
	}()

	if !id.IsAuthenticated() {
		return domain.PlacementResult{}, domain.ErrUnauthorized
	}
	if !input.ShippingMethod.Valid() {
		return domain.PlacementResult{}, domain.ErrShippingMethodInvalid
	}

	logger := s.logger.WithField("identity", id.String())

	res, err := s.resolver.ResolveCart(ctx, id)
	if err != nil {
		return domain.PlacementResult{}, err
	}

	mutation, err := s.buildOrder(ctx, id, res.Cart, input)
	if err != nil {
		return domain.PlacementResult{}, err
	}
	order := mutation.Order
	mutation.Cart = domain.NewCartConsumption(res.Cart)

	if err := s.orders.PlaceOrder(ctx, mutation); err != nil {
		if errors.Is(err, domain.ErrCartChanged) {
			s.metrics.RecordCartConflict()
			logger.WithField("cart_id", res.Cart.ID).Info("order rejected: cart changed during checkout")
			return domain.PlacementResult{}, err
		}
		if stockErr, ok := domain.IsStockError(err); ok {
			s.metrics.RecordStockConflict()
			logger.WithFields(log.Fields{
				"product_id": stockErr.ProductID,
				"requested":  stockErr.Requested,
			}).Info("order rejected: insufficient stock")
			return domain.PlacementResult{}, err
		}
		logger.WithError(err).Error("failed to persist order")
		return domain.PlacementResult{}, err
	}

	s.metrics.RecordOrderPlaced(order.Total)
	s.metrics.RecordEvents(len(mutation.Timeline), len(mutation.Outbox))
	logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"total":        order.Total,
		"items":        len(order.Items),
	}).Info("order placed")

	postCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), postCommitTimeout)
	defer cancel()
	s.notify(postCtx, logger, order)

	return domain.PlacementResult{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Total:       order.Total,
		Currency:    order.Currency,
	}, nil
}

// buildOrder снимает цены и остатки на момент оформления и собирает
// заказ вместе с событиями.
func (s *Service) buildOrder(ctx context.Context, id domain.Identity, cart domain.Cart, input domain.CheckoutInput) (domain.OrderMutation, error) {
	products, err := s.catalog.GetProducts(ctx, cart.ProductIDs())
	if err != nil {
		return domain.OrderMutation{}, err
	}

	now := s.now()
	orderID := uuid.NewString()
	items := make([]domain.OrderItem, 0, len(cart.Items))
	lines := make([]domain.PricedLine, 0, len(cart.Items))
	for _, ci := range cart.Items {
		product, ok := products[ci.ProductID]
		if !ok {
			product = domain.Product{ID: ci.ProductID}
		}
		if !product.Orderable(ci.Quantity) {
			return domain.OrderMutation{}, domain.NewInsufficientStock(product, ci.Quantity)
		}
		items = append(items, domain.OrderItem{
			OrderID:     orderID,
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    ci.Quantity,
			UnitPrice:   product.Price,
			Subtotal:    product.Price * int64(ci.Quantity),
			CreatedAt:   now,
		})
		lines = append(lines, domain.PricedLine{UnitPrice: product.Price, Quantity: ci.Quantity})
	}

	totals, err := domain.ComputeTotals(lines, input.ShippingMethod, s.taxRateBps)
	if err != nil {
		return domain.OrderMutation{}, err
	}

	address := input.Address
	address.UserID = id.UserID()
	address.CreatedAt = now

	order := domain.Order{
		ID:             orderID,
		OrderNumber:    domain.NewOrderNumber(now),
		UserID:         id.UserID(),
		Status:         domain.OrderStatusPending,
		PaymentStatus:  domain.PaymentStatusPending,
		PaymentMethod:  input.PaymentMethod,
		ShippingMethod: input.ShippingMethod,
		Currency:       s.currency,
		Subtotal:       totals.Subtotal,
		ShippingCost:   totals.ShippingCost,
		TaxRateBps:     totals.TaxRateBps,
		Tax:            totals.Tax,
		Total:          totals.Total,
		Address:        &address,
		Items:          items,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if order.PaymentMethod == "" {
		order.PaymentMethod = domain.DefaultPaymentMethod
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.OrderMutation{}, errors.Join(errs...)
	}

	placed, err := domain.NewOrderPlacedMessage(order)
	if err != nil {
		return domain.OrderMutation{}, err
	}

	return domain.OrderMutation{
		Order:  order,
		Outbox: []domain.OutboxMessage{placed},
		Timeline: []domain.TimelineEvent{
			domain.NewTimelineEvent(order.ID, domain.TimelineOrderPlaced, order.UserID, "order placed from cart", now),
		},
	}, nil
}

func (s *Service) notify(ctx context.Context, logger *log.Entry, order domain.Order) {
	if s.dispatcher == nil {
		return
	}
	user, err := s.users.Get(ctx, order.UserID)
	if err != nil {
		s.metrics.NotificationFailed("user_lookup")
		logger.WithError(err).Warn("cannot load user for order confirmation")
		return
	}
	s.dispatcher.Dispatch(ctx, domain.OrderConfirmation{
		OrderID:     order.ID,
		Email:       user.Email,
		OrderNumber: order.OrderNumber,
		Total:       order.Total,
		Currency:    order.Currency,
	})
}

func resultLabel(err error) string {
	if err == nil {
		return metrics.CheckoutResultPlaced
	}
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return metrics.CheckoutResultUnauthorized
	case errors.Is(err, domain.ErrEmptyCart):
		return metrics.CheckoutResultEmptyCart
	case errors.Is(err, domain.ErrInsufficientStock):
		return metrics.CheckoutResultInsufficientStock
	case errors.Is(err, domain.ErrCartChanged):
		return metrics.CheckoutResultCartChanged
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrShippingMethodInvalid):
		return metrics.CheckoutResultInvalid
	default:
		return metrics.CheckoutResultError
	}
}
