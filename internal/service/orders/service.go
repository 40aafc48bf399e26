// Package orders отдаёт заказы покупателям и администраторам и применяет
// административные изменения статуса.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	maxSaveAttempts   = 3
	maxTrackingNumber = 64
)

// Details — заказ вместе с историей.
type Details struct {
	Order    domain.Order
	Timeline []domain.TimelineEvent
}

// UpdateRequest — административное изменение заказа. nil означает «не менять».
type UpdateRequest struct {
	Status         *string
	PaymentStatus  *string
	TrackingNumber *string

	// ExpectedVersion — если задан, конфликт версий возвращается клиенту без повторов.
	ExpectedVersion *int64
}

// Service — запросы к заказам и админские изменения.
type Service struct {
	orders   domain.OrderRepository
	timeline domain.TimelineRepository
	users    domain.UserRepository
	admins   map[string]struct{}
	metrics  *metrics.CheckoutMetrics
	logger   *log.Entry
	now      func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithAdminUserIDs добавляет пользователей с правами администратора
// в дополнение к роли ADMIN.
func WithAdminUserIDs(ids ...string) Option {
	return func(s *Service) {
		for _, id := range ids {
			if id = strings.TrimSpace(id); id != "" {
				s.admins[id] = struct{}{}
			}
		}
	}
}

// WithMetrics подключает метрики смены статусов.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService создаёт сервис заказов.
func NewService(orders domain.OrderRepository, timeline domain.TimelineRepository, users domain.UserRepository, options ...Option) *Service {
	s := &Service{
		orders:   orders,
		timeline: timeline,
		users:    users,
		admins:   make(map[string]struct{}),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "orders")
	}
	return s
}

// List возвращает заказы текущего пользователя, новые первыми.
func (s *Service) List(ctx context.Context, id domain.Identity, page, limit int) (domain.OrderPage, error) {
	if !id.IsAuthenticated() {
		return domain.OrderPage{}, domain.ErrUnauthorized
	}
	return s.list(ctx, domain.OrderFilter{UserID: id.UserID(), Page: page, Limit: limit})
}

// Get возвращает заказ владельцу или администратору.
func (s *Service) Get(ctx context.Context, id domain.Identity, orderID string) (Details, error) {
	if !id.IsAuthenticated() {
		return Details{}, domain.ErrUnauthorized
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return Details{}, err
	}
	if order.UserID != id.UserID() {
		admin, err := s.IsAdmin(ctx, id)
		if err != nil {
			return Details{}, err
		}
		if !admin {
			return Details{}, domain.ErrForbidden
		}
	}

	events, err := s.timeline.List(ctx, order.ID)
	if err != nil {
		return Details{}, err
	}
	return Details{Order: order, Timeline: events}, nil
}

// AdminList возвращает страницу всех заказов с фильтром по статусу.
func (s *Service) AdminList(ctx context.Context, id domain.Identity, status string, page, limit int) (domain.OrderPage, error) {
	if err := s.requireAdmin(ctx, id); err != nil {
		return domain.OrderPage{}, err
	}
	filter := domain.OrderFilter{Page: page, Limit: limit}
	if strings.TrimSpace(status) != "" {
		parsed, ok := domain.ParseOrderStatus(status)
		if !ok {
			return domain.OrderPage{}, fieldError("status", "is not a valid order status")
		}
		filter.Status = parsed
	}
	return s.list(ctx, filter)
}

// AdminUpdate применяет изменение статуса, статуса оплаты и трек-номера.
// Каждое изменение пишет событие timeline; смена статуса пишет ещё и
// order.status_changed в outbox.
func (s *Service) AdminUpdate(ctx context.Context, id domain.Identity, orderID string, req UpdateRequest) (domain.Order, error) {
	if err := s.requireAdmin(ctx, id); err != nil {
		return domain.Order{}, err
	}
	if err := validateUpdate(req); err != nil {
		return domain.Order{}, err
	}

	var lastErr error
	for attempt := 1; attempt <= maxSaveAttempts; attempt++ {
		order, err := s.orders.Get(ctx, orderID)
		if err != nil {
			return domain.Order{}, err
		}
		if req.ExpectedVersion != nil && *req.ExpectedVersion != order.Version {
			return domain.Order{}, domain.ErrOrderVersionConflict
		}

		updated, mutation, err := s.applyUpdate(order, req, id)
		if err != nil {
			return domain.Order{}, err
		}
		if len(mutation.Timeline) == 0 {
			return order, nil
		}

		err = s.orders.Save(ctx, mutation)
		if err == nil {
			updated.Version++
			if updated.Status != order.Status {
				s.metrics.RecordStatusChange(string(order.Status), string(updated.Status))
			}
			s.metrics.RecordEvents(len(mutation.Timeline), len(mutation.Outbox))
			s.logger.WithFields(log.Fields{
				"order_id": order.ID,
				"admin":    id.UserID(),
				"from":     order.Status,
				"to":       updated.Status,
				"version":  updated.Version,
			}).Info("order updated")
			return updated, nil
		}
		if !domain.IsVersionConflict(err) || req.ExpectedVersion != nil {
			return domain.Order{}, err
		}
		lastErr = err
		s.logger.WithField("order_id", orderID).WithField("attempt", attempt).Debug("order version conflict, retrying")
	}
	return domain.Order{}, fmt.Errorf("update order %s: %w", orderID, lastErr)
}

// IsAdmin проверяет права администратора.
func (s *Service) IsAdmin(ctx context.Context, id domain.Identity) (bool, error) {
	if !id.IsAuthenticated() {
		return false, nil
	}
	if _, ok := s.admins[id.UserID()]; ok {
		return true, nil
	}
	user, err := s.users.Get(ctx, id.UserID())
	if errors.Is(err, domain.ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return user.IsAdmin(), nil
}

func (s *Service) requireAdmin(ctx context.Context, id domain.Identity) error {
	if !id.IsAuthenticated() {
		return domain.ErrUnauthorized
	}
	admin, err := s.IsAdmin(ctx, id)
	if err != nil {
		return err
	}
	if !admin {
		return domain.ErrForbidden
	}
	return nil
}

func (s *Service) list(ctx context.Context, filter domain.OrderFilter) (domain.OrderPage, error) {
	filter = filter.Normalize()
	items, total, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.OrderPage{}, err
	}
	return domain.OrderPage{Orders: items, Total: total, Page: filter.Page, Limit: filter.Limit}, nil
}

func (s *Service) applyUpdate(order domain.Order, req UpdateRequest, id domain.Identity) (domain.Order, domain.OrderMutation, error) {
	now := s.now()
	updated := order
	mutation := domain.OrderMutation{}
	actor := id.UserID()

	if req.Status != nil {
		next, _ := domain.ParseOrderStatus(*req.Status)
		if next != order.Status {
			if !order.Status.CanTransitionTo(next) {
				return domain.Order{}, domain.OrderMutation{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidStatusTransition, order.Status, next)
			}
			updated.Status = next
			mutation.Timeline = append(mutation.Timeline, domain.NewTimelineEvent(
				order.ID, domain.TimelineStatusChanged, actor,
				fmt.Sprintf("%s -> %s", order.Status, next), now,
			))
		}
	}
	if req.PaymentStatus != nil {
		next, _ := domain.ParsePaymentStatus(*req.PaymentStatus)
		if next != order.PaymentStatus {
			updated.PaymentStatus = next
			mutation.Timeline = append(mutation.Timeline, domain.NewTimelineEvent(
				order.ID, domain.TimelinePaymentStatusChanged, actor,
				fmt.Sprintf("%s -> %s", order.PaymentStatus, next), now,
			))
		}
	}
	if req.TrackingNumber != nil {
		tracking := strings.TrimSpace(*req.TrackingNumber)
		if tracking != order.TrackingNumber {
			updated.TrackingNumber = tracking
			mutation.Timeline = append(mutation.Timeline, domain.NewTimelineEvent(
				order.ID, domain.TimelineTrackingAssigned, actor, tracking, now,
			))
		}
	}

	if updated.Status != order.Status {
		msg, err := domain.NewOrderStatusChangedMessage(withVersion(updated, order.Version+1), order.Status, now)
		if err != nil {
			return domain.Order{}, domain.OrderMutation{}, err
		}
		mutation.Outbox = append(mutation.Outbox, msg)
	}

	updated.UpdatedAt = now
	mutation.Order = updated
	return updated, mutation, nil
}

func withVersion(order domain.Order, version int64) domain.Order {
	order.Version = version
	return order
}

func validateUpdate(req UpdateRequest) error {
	verr := &domain.ValidationError{}
	if req.Status == nil && req.PaymentStatus == nil && req.TrackingNumber == nil {
		verr.Add("body", "at least one of status, paymentStatus, trackingNumber is required")
	}
	if req.Status != nil {
		if _, ok := domain.ParseOrderStatus(*req.Status); !ok {
			verr.Add("status", "is not a valid order status")
		}
	}
	if req.PaymentStatus != nil {
		if _, ok := domain.ParsePaymentStatus(*req.PaymentStatus); !ok {
			verr.Add("paymentStatus", "is not a valid payment status")
		}
	}
	if req.TrackingNumber != nil && utf8.RuneCountInString(strings.TrimSpace(*req.TrackingNumber)) > maxTrackingNumber {
		verr.Add("trackingNumber", "is too long")
	}
	return verr.OrNil()
}

func fieldError(field, message string) error {
	verr := &domain.ValidationError{}
	verr.Add(field, message)
	return verr
}
