package notification

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// LogSender пишет подтверждение в лог вместо реальной доставки. Канал по
// умолчанию, когда Kafka не настроена.
type LogSender struct {
	logger *log.Entry
}

var _ domain.Notifier = (*LogSender)(nil)

// NewLogSender создаёт LogSender.
func NewLogSender(logger *log.Entry) *LogSender {
	if logger == nil {
		logger = log.WithField("component", "notification-log")
	}
	return &LogSender{logger: logger}
}

// SendOrderConfirmation логирует подтверждение.
func (s *LogSender) SendOrderConfirmation(ctx context.Context, msg domain.OrderConfirmation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.WithFields(log.Fields{
		"order_id":     msg.OrderID,
		"order_number": msg.OrderNumber,
		"email":        maskEmail(msg.Email),
		"total":        domain.FormatAmount(msg.Total),
		"currency":     msg.Currency,
	}).Info("order confirmation")
	return nil
}

func maskEmail(email string) string {
	for i := 0; i < len(email); i++ {
		if email[i] == '@' {
			if i <= 1 {
				return "*" + email[i:]
			}
			return email[:1] + "***" + email[i:]
		}
	}
	return "***"
}
