package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Store хранит состояние витрины в памяти (для разработки/тестов).
// Все репозитории одного Store разделяют мьютекс, поэтому оформление заказа
// атомарно относительно остатков, корзин, outbox и timeline.
type Store struct {
	mu sync.RWMutex

	products map[string]domain.Product
	slugs    map[string]string

	carts      map[string]domain.Cart
	cartOwners map[string]string
	cartItems  map[string]*cartItemRecord

	orders       map[string]domain.Order
	orderNumbers map[string]string

	users    map[string]domain.User
	sessions map[string]domain.Session

	outbox   map[string]*outboxRecord
	timeline map[string][]domain.TimelineEvent

	seq int64
	now func() time.Time
}

type cartItemRecord struct {
	item domain.CartItem
	seq  int64
}

// NewStore создаёт пустое in-memory хранилище.
func NewStore() *Store {
	return &Store{
		products:     make(map[string]domain.Product),
		slugs:        make(map[string]string),
		carts:        make(map[string]domain.Cart),
		cartOwners:   make(map[string]string),
		cartItems:    make(map[string]*cartItemRecord),
		orders:       make(map[string]domain.Order),
		orderNumbers: make(map[string]string),
		users:        make(map[string]domain.User),
		sessions:     make(map[string]domain.Session),
		outbox:       make(map[string]*outboxRecord),
		timeline:     make(map[string][]domain.TimelineEvent),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Ping всегда успешен; метод нужен для health-check наравне с PostgreSQL.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) nextSeq() int64 {
	s.seq++
	return s.seq
}

// cartLocked собирает корзину с позициями в порядке добавления.
func (s *Store) cartLocked(cartID string) domain.Cart {
	cart := s.carts[cartID]
	records := make([]*cartItemRecord, 0)
	for _, rec := range s.cartItems {
		if rec.item.CartID == cartID {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].seq < records[j].seq })

	cart.Items = make([]domain.CartItem, 0, len(records))
	for _, rec := range records {
		cart.Items = append(cart.Items, rec.item)
	}
	return cart
}

// decrementStockLocked — условное списание: только если товар активен и остатка хватает.
func (s *Store) decrementStockLocked(productID string, qty int) error {
	product, ok := s.products[productID]
	if !ok {
		return &domain.StockError{Err: domain.ErrInsufficientStock, ProductID: productID, Requested: qty}
	}
	if !product.Orderable(qty) {
		return domain.NewInsufficientStock(product, qty)
	}
	product.StockQuantity -= qty
	product.UpdatedAt = s.now()
	s.products[productID] = product
	return nil
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = append([]domain.OrderItem(nil), src.Items...)
	if src.Address != nil {
		addr := *src.Address
		dst.Address = &addr
	}
	return dst
}

func (s *Store) deleteCartItemsLocked(cartID string) int {
	removed := 0
	for id, rec := range s.cartItems {
		if rec.item.CartID == cartID {
			delete(s.cartItems, id)
			removed++
		}
	}
	return removed
}

// checkCartConsumptionLocked убеждается, что каждая позиция снимка ещё лежит
// в той же корзине с тем же количеством.
func (s *Store) checkCartConsumptionLocked(c *domain.CartConsumption) error {
	if c == nil {
		return nil
	}
	for _, it := range c.Items {
		rec, ok := s.cartItems[it.ID]
		if !ok || rec.item.CartID != c.CartID || rec.item.Quantity != it.Quantity {
			return domain.ErrCartChanged
		}
	}
	return nil
}

// consumeCartLocked удаляет позиции снимка; позиции, добавленные после
// снимка, остаются в корзине.
func (s *Store) consumeCartLocked(c *domain.CartConsumption) {
	if c == nil {
		return
	}
	for _, it := range c.Items {
		delete(s.cartItems, it.ID)
	}
}
