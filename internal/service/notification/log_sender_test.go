package notification

import (
	"context"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestLogSender_LogsMaskedConfirmation(t *testing.T) {
	t.Parallel()
	logger, hook := test.NewNullLogger()
	sender := NewLogSender(log.NewEntry(logger))

	err := sender.SendOrderConfirmation(context.Background(), domain.OrderConfirmation{
		OrderID:     "order-1",
		Email:       "buyer@example.com",
		OrderNumber: "ORD-1-ABC",
		Total:       1299,
		Currency:    "INR",
	})
	require.NoError(t, err)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	require.Equal(t, "order confirmation", entry.Message)
	require.Equal(t, "b***@example.com", entry.Data["email"])
	require.Equal(t, "ORD-1-ABC", entry.Data["order_number"])
	require.Equal(t, domain.FormatAmount(1299), entry.Data["total"])
}

func TestLogSender_CancelledContext(t *testing.T) {
	t.Parallel()
	logger, hook := test.NewNullLogger()
	sender := NewLogSender(log.NewEntry(logger))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sender.SendOrderConfirmation(ctx, domain.OrderConfirmation{OrderID: "order-1"}), context.Canceled)
	require.Empty(t, hook.AllEntries())
}
