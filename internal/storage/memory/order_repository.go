package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// orderRepositoryInMemory — in-memory реализация OrderRepository поверх общего Store.
type orderRepositoryInMemory struct {
	store *Store
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepositoryInMemory{store: store}
}

// PlaceOrder сначала проверяет снимок корзины и все списания, затем
// применяет изменения целиком под одной блокировкой.
func (r *orderRepositoryInMemory) PlaceOrder(ctx context.Context, m domain.OrderMutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	order := cloneOrder(m.Order)
	if order.ID == "" {
		order.ID = uuid.NewString()
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, exists := r.store.orders[order.ID]; exists {
		return domain.ErrOrderAlreadyExists
	}
	if _, exists := r.store.orderNumbers[order.OrderNumber]; exists {
		return domain.ErrOrderAlreadyExists
	}

	if err := r.store.checkCartConsumptionLocked(m.Cart); err != nil {
		return err
	}

	requested := make(map[string]int, len(order.Items))
	for _, item := range order.Items {
		if item.Quantity <= 0 {
			return domain.ErrItemQtyInvalid
		}
		requested[item.ProductID] += item.Quantity
	}
	productIDs := make([]string, 0, len(requested))
	for id := range requested {
		productIDs = append(productIDs, id)
	}
	sort.Strings(productIDs)

	for _, id := range productIDs {
		product, ok := r.store.products[id]
		if !ok {
			return &domain.StockError{Err: domain.ErrInsufficientStock, ProductID: id, Requested: requested[id]}
		}
		if !product.Orderable(requested[id]) {
			return domain.NewInsufficientStock(product, requested[id])
		}
	}

	for _, id := range productIDs {
		if err := r.store.decrementStockLocked(id, requested[id]); err != nil {
			// недостижимо: остатки проверены под той же блокировкой
			return err
		}
	}

	now := r.store.now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = order.CreatedAt
	if order.Version == 0 {
		order.Version = 1
	}
	if order.Address != nil {
		if order.Address.ID == "" {
			order.Address.ID = uuid.NewString()
		}
		if order.Address.CreatedAt.IsZero() {
			order.Address.CreatedAt = now
		}
	}
	for i := range order.Items {
		if order.Items[i].ID == "" {
			order.Items[i].ID = uuid.NewString()
		}
		order.Items[i].OrderID = order.ID
		order.Items[i].CreatedAt = order.CreatedAt
	}

	r.store.consumeCartLocked(m.Cart)
	r.store.orders[order.ID] = order
	r.store.orderNumbers[order.OrderNumber] = order.ID
	r.store.recordEventsLocked(m.Outbox, m.Timeline)
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(ctx context.Context, id string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	order, ok := r.store.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// List возвращает страницу заказов, новые первыми.
func (r *orderRepositoryInMemory) List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	filter = filter.Normalize()

	r.store.mu.RLock()
	result := make([]domain.Order, 0)
	for _, order := range r.store.orders {
		if filter.UserID != "" && order.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		result = append(result, cloneOrder(order))
	}
	r.store.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	total := len(result)
	start := filter.Offset()
	if start >= total {
		return []domain.Order{}, total, nil
	}
	end := start + filter.Limit
	if end > total {
		end = total
	}
	return result[start:end], total, nil
}

// Save перезаписывает изменяемые поля заказа, проверяя версию (optimistic locking).
func (r *orderRepositoryInMemory) Save(ctx context.Context, m domain.OrderMutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	current, ok := r.store.orders[m.Order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != m.Order.Version {
		return domain.ErrOrderVersionConflict
	}

	current.Status = m.Order.Status
	current.PaymentStatus = m.Order.PaymentStatus
	current.TrackingNumber = m.Order.TrackingNumber
	current.UpdatedAt = r.store.now()
	current.Version++
	r.store.orders[current.ID] = current

	r.store.recordEventsLocked(m.Outbox, m.Timeline)
	return nil
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
