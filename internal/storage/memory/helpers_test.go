package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func seedProduct(t *testing.T, catalog domain.CatalogRepository, id string, price int64, stock int) domain.Product {
	t.Helper()

	product := domain.Product{
		ID:            id,
		Slug:          id,
		Name:          "Product " + id,
		Category:      "general",
		Price:         price,
		StockQuantity: stock,
		Active:        true,
	}
	if err := catalog.UpsertProduct(context.Background(), product); err != nil {
		t.Fatalf("seed product %s: %v", id, err)
	}
	return product
}

func newPlacement(userID string, lines ...domain.OrderItem) domain.OrderMutation {
	now := time.Now().UTC()
	var subtotal int64
	for i := range lines {
		lines[i].Subtotal = lines[i].UnitPrice * int64(lines[i].Quantity)
		subtotal += lines[i].Subtotal
	}
	order := domain.Order{
		OrderNumber:    domain.NewOrderNumber(now),
		UserID:         userID,
		Status:         domain.OrderStatusPending,
		PaymentStatus:  domain.PaymentStatusPending,
		PaymentMethod:  domain.DefaultPaymentMethod,
		ShippingMethod: domain.ShippingStandard,
		Currency:       "INR",
		Subtotal:       subtotal,
		ShippingCost:   299,
		Total:          subtotal + 299,
		Address:        &domain.Address{UserID: userID, FirstName: "A", City: "Pune"},
		Items:          lines,
		CreatedAt:      now,
	}
	return domain.OrderMutation{
		Order: order,
		Outbox: []domain.OutboxMessage{{
			AggregateType: domain.AggregateOrder,
			EventType:     domain.EventOrderPlaced,
			Payload:       []byte(`{}`),
		}},
		Timeline: []domain.TimelineEvent{{Type: domain.TimelineOrderPlaced, Occurred: now}},
	}
}

type repos struct {
	store    *memory.Store
	catalog  domain.CatalogRepository
	carts    domain.CartRepository
	orders   domain.OrderRepository
	outbox   *memory.OutboxRepository
	timeline domain.TimelineRepository
}

func newRepos() repos {
	store := memory.NewStore()
	return repos{
		store:    store,
		catalog:  memory.NewCatalogRepository(store),
		carts:    memory.NewCartRepository(store),
		orders:   memory.NewOrderRepository(store),
		outbox:   memory.NewOutboxRepository(store),
		timeline: memory.NewTimelineRepository(store),
	}
}
