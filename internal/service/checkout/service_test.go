package checkout_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

type env struct {
	store    *memory.Store
	catalog  domain.CatalogRepository
	carts    domain.CartRepository
	orders   domain.OrderRepository
	users    domain.UserRepository
	outbox   *memory.OutboxRepository
	timeline domain.TimelineRepository
}

func newEnv(t *testing.T) env {
	t.Helper()
	store := memory.NewStore()
	e := env{
		store:    store,
		catalog:  memory.NewCatalogRepository(store),
		carts:    memory.NewCartRepository(store),
		orders:   memory.NewOrderRepository(store),
		users:    memory.NewUserRepository(store),
		outbox:   memory.NewOutboxRepository(store),
		timeline: memory.NewTimelineRepository(store),
	}
	return e
}

func (e env) service(t *testing.T, opts ...checkout.Option) *checkout.Service {
	t.Helper()
	svc, err := checkout.NewService(e.catalog, e.carts, e.orders, e.users, opts...)
	require.NoError(t, err)
	return svc
}

func (e env) product(t *testing.T, id string, price int64, stock int) {
	t.Helper()
	require.NoError(t, e.catalog.UpsertProduct(context.Background(), domain.Product{
		ID: id, Slug: id, Name: "Product " + id, Category: "general",
		Price: price, StockQuantity: stock, Active: true,
	}))
}

func (e env) user(t *testing.T, id string) domain.Identity {
	t.Helper()
	require.NoError(t, e.users.Upsert(context.Background(), domain.User{
		ID: id, Email: id + "@example.com", EmailVerified: true,
	}))
	return domain.Authenticated(id, "")
}

func (e env) fill(t *testing.T, owner, productID string, qty int) domain.Cart {
	t.Helper()
	ctx := context.Background()
	cart, err := e.carts.GetOrCreateCart(ctx, owner)
	require.NoError(t, err)
	_, err = e.carts.AddItem(ctx, cart.ID, productID, qty)
	require.NoError(t, err)
	return cart
}

func (e env) stock(t *testing.T, id string) int {
	t.Helper()
	p, err := e.catalog.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.StockQuantity
}

func (e env) orderCount(t *testing.T) int {
	t.Helper()
	_, total, err := e.orders.List(context.Background(), domain.OrderFilter{})
	require.NoError(t, err)
	return total
}

func input(method domain.ShippingMethod) domain.CheckoutInput {
	return domain.CheckoutInput{
		Address: domain.Address{
			FirstName: "Asha", LastName: "Rao", Street: "1 MG Road", City: "Pune",
			State: "MH", PostalCode: "411001", Country: "IN", Phone: "+91 98765 43210",
		},
		ShippingMethod: method,
		PaymentMethod:  domain.DefaultPaymentMethod,
	}
}

type recordingDispatcher struct {
	mu   sync.Mutex
	msgs []domain.OrderConfirmation
}

func (d *recordingDispatcher) Dispatch(_ context.Context, msg domain.OrderConfirmation) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.msgs = append(d.msgs, msg)
}

func TestPlaceOrder_CreatesOrderAndClearsCart(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.product(t, "P", 1000, 5)
	id := e.user(t, "u1")
	cart := e.fill(t, "u1", "P", 2)
	dispatcher := &recordingDispatcher{}

	res, err := e.service(t, checkout.WithDispatcher(dispatcher)).PlaceOrder(context.Background(), id, input(domain.ShippingStandard))
	require.NoError(t, err)
	require.Equal(t, int64(2299), res.Total)
	require.Regexp(t, `^ORD-\d+-[0-9A-F]{9}$`, res.OrderNumber)
	require.Equal(t, 3, e.stock(t, "P"))

	found, err := e.carts.FindCart(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, cart.ID, found.ID)
	require.Empty(t, found.Items)

	order, err := e.orders.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	require.Equal(t, int64(2000), order.Subtotal)
	require.Equal(t, int64(299), order.ShippingCost)
	require.Equal(t, domain.OrderStatusPending, order.Status)
	require.Equal(t, domain.PaymentStatusPending, order.PaymentStatus)
	require.NotNil(t, order.Address)
	require.Equal(t, "Pune", order.Address.City)

	totals, err := order.RecomputeTotals()
	require.NoError(t, err)
	require.Equal(t, order.Totals(), totals)

	pending := e.outbox.AllPending()
	require.Len(t, pending, 1)
	require.Equal(t, domain.EventOrderPlaced, pending[0].EventType)
	require.Equal(t, res.OrderID, pending[0].AggregateID)

	events, err := e.timeline.List(context.Background(), res.OrderID)
	require.NoError(t, err)
	require.Len(t, events, 1)

	require.Len(t, dispatcher.msgs, 1)
	require.Equal(t, "u1@example.com", dispatcher.msgs[0].Email)
	require.Equal(t, res.OrderNumber, dispatcher.msgs[0].OrderNumber)
}

func TestPlaceOrder_InsufficientStockLeavesEverythingUntouched(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.product(t, "P", 1000, 1)
	id := e.user(t, "u1")
	e.fill(t, "u1", "P", 2)

	_, err := e.service(t).PlaceOrder(context.Background(), id, input(domain.ShippingStandard))
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	stockErr, ok := domain.IsStockError(err)
	require.True(t, ok)
	require.Equal(t, "P", stockErr.ProductID)

	require.Equal(t, 1, e.stock(t, "P"))
	require.Zero(t, e.orderCount(t))
	cart, err := e.carts.FindCart(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	require.Equal(t, 2, cart.Items[0].Quantity)
	require.Empty(t, e.outbox.AllPending())
}

func TestPlaceOrder_ConcurrentRequestsDoNotOversell(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.product(t, "P", 1000, 5)
	svc := e.service(t)

	first := e.user(t, "u1")
	second := e.user(t, "u2")
	e.fill(t, "u1", "P", 3)
	e.fill(t, "u2", "P", 3)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []domain.Identity{first, second} {
		wg.Add(1)
		go func(i int, id domain.Identity) {
			defer wg.Done()
			_, errs[i] = svc.PlaceOrder(context.Background(), id, input(domain.ShippingStandard))
		}(i, id)
	}
	wg.Wait()

	succeeded, rejected := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrInsufficientStock):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, rejected)
	require.Equal(t, 2, e.stock(t, "P"))
	require.Equal(t, 1, e.orderCount(t))
}

func TestPlaceOrder_ManyBuyersSingleUnit(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.product(t, "P", 100, 5)
	svc := e.service(t)

	const buyers = 20
	ids := make([]domain.Identity, buyers)
	for i := range ids {
		userID := "buyer-" + string(rune('a'+i))
		ids[i] = e.user(t, userID)
		e.fill(t, userID, "P", 1)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	placed := 0
	for _, id := range ids {
		wg.Add(1)
		go func(id domain.Identity) {
			defer wg.Done()
			if _, err := svc.PlaceOrder(context.Background(), id, input(domain.ShippingExpress)); err == nil {
				mu.Lock()
				placed++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	require.Equal(t, 5, placed)
	require.Zero(t, e.stock(t, "P"))
}

type forbiddenCarts struct {
	domain.CartRepository
}

type forbiddenCatalog struct {
	domain.CatalogRepository
}

type forbiddenOrders struct {
	domain.OrderRepository
}

func TestPlaceOrder_UnauthenticatedTouchesNoStore(t *testing.T) {
	t.Parallel()

	svc, err := checkout.NewService(forbiddenCatalog{}, forbiddenCarts{}, forbiddenOrders{}, nil)
	require.NoError(t, err)

	for _, id := range []domain.Identity{domain.Anonymous(), domain.Guest("guest_1")} {
		_, err := svc.PlaceOrder(context.Background(), id, input(domain.ShippingStandard))
		require.ErrorIs(t, err, domain.ErrUnauthorized)
	}
}

func TestPlaceOrder_EmptyCart(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.product(t, "P", 1000, 5)
	id := e.user(t, "u1")
	_, err := e.carts.GetOrCreateCart(context.Background(), "u1")
	require.NoError(t, err)

	_, err = e.service(t).PlaceOrder(context.Background(), id, input(domain.ShippingStandard))
	require.ErrorIs(t, err, domain.ErrEmptyCart)
	require.Equal(t, 5, e.stock(t, "P"))
	require.Zero(t, e.orderCount(t))
}

func TestPlaceOrder_UsesGuestCartAfterLogin(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.product(t, "P", 500, 5)
	e.user(t, "u1")
	guestCart := e.fill(t, "guest_abc", "P", 1)

	res, err := e.service(t).PlaceOrder(context.Background(), domain.Authenticated("u1", "guest_abc"), input(domain.ShippingOvernight))
	require.NoError(t, err)
	require.Equal(t, int64(500+999), res.Total)

	cart, err := e.carts.FindCart(context.Background(), "guest_abc")
	require.NoError(t, err)
	require.Equal(t, guestCart.ID, cart.ID)
	require.Empty(t, cart.Items)
}

func TestPlaceOrder_InactiveProduct(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.product(t, "P", 1000, 5)
	id := e.user(t, "u1")
	e.fill(t, "u1", "P", 1)
	require.NoError(t, e.catalog.UpsertProduct(context.Background(), domain.Product{
		ID: "P", Slug: "P", Name: "Product P", Category: "general", Price: 1000, StockQuantity: 5, Active: false,
	}))

	_, err := e.service(t).PlaceOrder(context.Background(), id, input(domain.ShippingStandard))
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	require.Equal(t, 5, e.stock(t, "P"))
}

func TestPlaceOrder_FreezesPricesAndAppliesTax(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.product(t, "P", 1000, 5)
	id := e.user(t, "u1")
	e.fill(t, "u1", "P", 1)

	res, err := e.service(t, checkout.WithTaxRateBps(1800)).PlaceOrder(context.Background(), id, input(domain.ShippingStandard))
	require.NoError(t, err)
	require.Equal(t, int64(1000+299+180), res.Total)

	e.product(t, "P", 5000, 4)

	order, err := e.orders.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	require.Equal(t, int64(1000), order.Items[0].UnitPrice)
	require.Equal(t, int64(180), order.Tax)
	require.Equal(t, int64(1800), order.TaxRateBps)
	totals, err := order.RecomputeTotals()
	require.NoError(t, err)
	require.Equal(t, order.Total, totals.Total)
}

func TestNewService_RejectsTaxRate(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	_, err := checkout.NewService(e.catalog, e.carts, e.orders, e.users, checkout.WithTaxRateBps(10001))
	require.ErrorIs(t, err, domain.ErrTaxRateInvalid)
}

type failingOrders struct {
	domain.OrderRepository
	err error
}

func (f failingOrders) PlaceOrder(context.Context, domain.OrderMutation) error {
	return f.err
}

func TestPlaceOrder_StoreFailureKeepsCart(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.product(t, "P", 1000, 5)
	id := e.user(t, "u1")
	e.fill(t, "u1", "P", 2)

	boom := errors.New("connection reset")
	svc, err := checkout.NewService(e.catalog, e.carts, failingOrders{err: boom}, e.users)
	require.NoError(t, err)

	_, err = svc.PlaceOrder(context.Background(), id, input(domain.ShippingStandard))
	require.ErrorIs(t, err, boom)

	cart, err := e.carts.FindCart(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	require.Equal(t, 5, e.stock(t, "P"))
}

// hookedOrders вызывает before перед записью заказа, чтобы воспроизвести
// изменения корзины между снимком и транзакцией.
type hookedOrders struct {
	domain.OrderRepository
	before func()
}

func (h hookedOrders) PlaceOrder(ctx context.Context, m domain.OrderMutation) error {
	h.before()
	return h.OrderRepository.PlaceOrder(ctx, m)
}

func TestPlaceOrder_ConcurrentCheckoutsOfOneCart(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.product(t, "P", 1000, 10)
	id := e.user(t, "u1")
	e.fill(t, "u1", "P", 2)

	// оба оформления снимают корзину и только потом идут в транзакцию
	var barrier sync.WaitGroup
	barrier.Add(2)
	orders := hookedOrders{OrderRepository: e.orders, before: func() {
		barrier.Done()
		barrier.Wait()
	}}
	svc, err := checkout.NewService(e.catalog, e.carts, orders, e.users)
	require.NoError(t, err)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.PlaceOrder(context.Background(), id, input(domain.ShippingStandard))
		}(i)
	}
	wg.Wait()

	placed, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			placed++
		case errors.Is(err, domain.ErrCartChanged):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, placed)
	require.Equal(t, 1, conflicts)
	require.Equal(t, 1, e.orderCount(t))
	require.Equal(t, 8, e.stock(t, "P"))
}

func TestPlaceOrder_ItemAddedDuringCheckoutStaysInCart(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.product(t, "P", 1000, 10)
	e.product(t, "Q", 500, 10)
	id := e.user(t, "u1")
	cart := e.fill(t, "u1", "P", 2)

	orders := hookedOrders{OrderRepository: e.orders, before: func() {
		_, err := e.carts.AddItem(context.Background(), cart.ID, "Q", 1)
		require.NoError(t, err)
	}}
	svc, err := checkout.NewService(e.catalog, e.carts, orders, e.users)
	require.NoError(t, err)

	res, err := svc.PlaceOrder(context.Background(), id, input(domain.ShippingStandard))
	require.NoError(t, err)

	order, err := e.orders.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	require.Len(t, order.Items, 1)
	require.Equal(t, "P", order.Items[0].ProductID)

	left, err := e.carts.FindCart(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, left.Items, 1)
	require.Equal(t, "Q", left.Items[0].ProductID)
	require.Equal(t, 10, e.stock(t, "Q"))
}

func TestPlaceOrder_QuantityChangedDuringCheckoutRollsBack(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.product(t, "P", 1000, 10)
	id := e.user(t, "u1")
	cart := e.fill(t, "u1", "P", 2)

	orders := hookedOrders{OrderRepository: e.orders, before: func() {
		_, err := e.carts.AddItem(context.Background(), cart.ID, "P", 1)
		require.NoError(t, err)
	}}
	svc, err := checkout.NewService(e.catalog, e.carts, orders, e.users)
	require.NoError(t, err)

	_, err = svc.PlaceOrder(context.Background(), id, input(domain.ShippingStandard))
	require.ErrorIs(t, err, domain.ErrCartChanged)

	require.Zero(t, e.orderCount(t))
	require.Equal(t, 10, e.stock(t, "P"))
	left, err := e.carts.FindCart(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, left.Items, 1)
	require.Equal(t, 3, left.Items[0].Quantity)
	require.Empty(t, e.outbox.AllPending())
}

func TestPlaceOrder_CancelledContext(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.product(t, "P", 1000, 5)
	id := e.user(t, "u1")
	e.fill(t, "u1", "P", 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	_, err := e.service(t).PlaceOrder(ctx, id, input(domain.ShippingStandard))
	require.Error(t, err)
	require.Equal(t, 5, e.stock(t, "P"))
	require.Zero(t, e.orderCount(t))
}
