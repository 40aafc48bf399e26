package domain

import "context"

// CatalogRepository — хранилище товаров.
type CatalogRepository interface {
	// GetProduct возвращает товар по id или ErrProductNotFound.
	GetProduct(ctx context.Context, id string) (Product, error)
	// GetProductBySlug возвращает активный товар по slug или ErrProductNotFound.
	GetProductBySlug(ctx context.Context, slug string) (Product, error)
	// GetProducts возвращает найденные товары по id; отсутствующих в map нет.
	GetProducts(ctx context.Context, ids []string) (map[string]Product, error)
	// ListProducts возвращает страницу активных товаров и общее количество.
	ListProducts(ctx context.Context, filter ProductFilter) ([]Product, int, error)
	// UpsertProduct создаёт или обновляет товар.
	UpsertProduct(ctx context.Context, product Product) error
	// DecrementStock уменьшает остаток только если его хватает; иначе *StockError.
	DecrementStock(ctx context.Context, productID string, qty int) error
}

// CartRepository — хранилище корзин. Каждая мутация атомарна сама по себе.
type CartRepository interface {
	// FindCart возвращает корзину владельца с позициями или ErrCartNotFound.
	FindCart(ctx context.Context, ownerKey string) (Cart, error)
	// GetOrCreateCart возвращает корзину владельца, создавая пустую при необходимости.
	GetOrCreateCart(ctx context.Context, ownerKey string) (Cart, error)
	// AddItem увеличивает количество товара в корзине или создаёт позицию.
	AddItem(ctx context.Context, cartID, productID string, qty int) (CartItem, error)
	// SetItemQuantity задаёт количество; qty должен быть > 0.
	SetItemQuantity(ctx context.Context, cartID, itemID string, qty int) (CartItem, error)
	// RemoveItem удаляет позицию или возвращает ErrCartItemNotFound.
	RemoveItem(ctx context.Context, cartID, itemID string) error
	// DeleteItems очищает корзину и возвращает количество удалённых позиций.
	DeleteItems(ctx context.Context, cartID string) (int, error)
	// MergeCarts переносит позиции корзины from в корзину to (с ограничением
	// по остатку) и удаляет корзину from. Возвращает итоговую корзину to.
	MergeCarts(ctx context.Context, fromOwnerKey, toOwnerKey string) (Cart, error)
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// PlaceOrder одной транзакцией сохраняет адрес, заказ, позиции, условно
	// списывает остатки и пишет события outbox/timeline. При нехватке остатка
	// возвращает *StockError, ничего не сохранив.
	PlaceOrder(ctx context.Context, m OrderMutation) error
	// Get возвращает заказ с позициями и адресом или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// List возвращает страницу заказов (новые первыми) и общее количество.
	List(ctx context.Context, filter OrderFilter) ([]Order, int, error)
	// Save обновляет статус, статус оплаты и трек-номер с optimistic locking
	// и пишет события той же транзакцией.
	Save(ctx context.Context, m OrderMutation) error
}

// UserRepository — учётные записи покупателей.
type UserRepository interface {
	Get(ctx context.Context, id string) (User, error)
	Upsert(ctx context.Context, user User) error
}

// SessionRepository — сессии, выданные сервисом аутентификации.
type SessionRepository interface {
	// Lookup возвращает действующую сессию или ErrSessionNotFound.
	Lookup(ctx context.Context, token string) (Session, error)
	Create(ctx context.Context, session Session) error
}
