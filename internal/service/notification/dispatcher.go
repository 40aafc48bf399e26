// Package notification отправляет покупателю подтверждения заказов.
// Отправка best-effort: оформление заказа не ждёт её и не откатывается.
package notification

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const defaultTimeout = 5 * time.Second

// FailureRecorder считает неудачные отправки.
type FailureRecorder interface {
	NotificationFailed(reason string)
}

// DispatcherOptions задаёт параметры Dispatcher.
type DispatcherOptions struct {
	Logger   *log.Entry
	Timeout  time.Duration
	Failures FailureRecorder
}

// Option настраивает Dispatcher.
type Option func(*DispatcherOptions)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *DispatcherOptions) {
		opts.Logger = logger
	}
}

// WithTimeout ограничивает время одной отправки.
func WithTimeout(timeout time.Duration) Option {
	return func(opts *DispatcherOptions) {
		opts.Timeout = timeout
	}
}

// WithFailureRecorder подключает учёт ошибок отправки.
func WithFailureRecorder(recorder FailureRecorder) Option {
	return func(opts *DispatcherOptions) {
		opts.Failures = recorder
	}
}

// Dispatcher отправляет подтверждения асинхронно, отвязав их от отмены запроса.
type Dispatcher struct {
	sender   domain.Notifier
	logger   *log.Entry
	timeout  time.Duration
	failures FailureRecorder
	wg       sync.WaitGroup
}

// NewDispatcher создаёт Dispatcher поверх конкретного канала доставки.
func NewDispatcher(sender domain.Notifier, options ...Option) *Dispatcher {
	opts := DispatcherOptions{Timeout: defaultTimeout}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "notification-dispatcher")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Dispatcher{
		sender:   sender,
		logger:   opts.Logger,
		timeout:  opts.Timeout,
		failures: opts.Failures,
	}
}

// Dispatch ставит подтверждение в отправку и сразу возвращается.
func (d *Dispatcher) Dispatch(ctx context.Context, msg domain.OrderConfirmation) {
	if d == nil || d.sender == nil {
		return
	}
	if msg.Email == "" {
		d.logger.WithField("order_id", msg.OrderID).Debug("no email for order confirmation, skipping")
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		if err := d.sender.SendOrderConfirmation(sendCtx, msg); err != nil {
			d.logger.WithError(err).WithFields(log.Fields{
				"order_id":     msg.OrderID,
				"order_number": msg.OrderNumber,
			}).Warn("order confirmation failed")
			if d.failures != nil {
				d.failures.NotificationFailed("send_error")
			}
			return
		}
		d.logger.WithField("order_number", msg.OrderNumber).Debug("order confirmation sent")
	}()
}

// Wait дожидается отправок, запущенных до вызова. Используется при остановке.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
