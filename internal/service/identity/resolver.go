// Package identity определяет, чья корзина участвует в запросе.
package identity

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Resolution — результат разрешения корзины.
type Resolution struct {
	Identity domain.Identity
	// OwnerKey — ключ найденной корзины (может быть гостевым и у аутентифицированного пользователя).
	OwnerKey string
	Cart     domain.Cart
}

// Authenticated — есть ли у запроса пользователь.
func (r Resolution) Authenticated() bool {
	return r.Identity.IsAuthenticated()
}

// Resolver ищет корзину по идентичности запроса. Только чтение.
type Resolver struct {
	carts  domain.CartRepository
	logger *log.Entry
}

// NewResolver создаёт Resolver.
func NewResolver(carts domain.CartRepository, logger *log.Entry) *Resolver {
	if logger == nil {
		logger = log.WithField("component", "identity-resolver")
	}
	return &Resolver{carts: carts, logger: logger}
}

// ResolveCart возвращает первую непустую корзину по ключам идентичности:
// сначала пользователя, затем гостевую. Если непустой корзины нет —
// domain.ErrEmptyCart.
func (r *Resolver) ResolveCart(ctx context.Context, id domain.Identity) (Resolution, error) {
	for _, key := range id.CartKeys() {
		cart, err := r.carts.FindCart(ctx, key)
		if errors.Is(err, domain.ErrCartNotFound) {
			continue
		}
		if err != nil {
			return Resolution{}, err
		}
		if cart.IsEmpty() {
			continue
		}
		if key != id.OwnerKey() {
			r.logger.WithField("identity", id.String()).Debug("falling back to guest cart")
		}
		return Resolution{Identity: id, OwnerKey: key, Cart: cart}, nil
	}
	return Resolution{Identity: id}, domain.ErrEmptyCart
}

// FindCart ищет корзину так же, как ResolveCart, но пустая корзина не ошибка:
// возвращает корзину владельца (возможно пустую) или ErrCartNotFound.
func (r *Resolver) FindCart(ctx context.Context, id domain.Identity) (Resolution, error) {
	res, err := r.ResolveCart(ctx, id)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, domain.ErrEmptyCart) {
		return Resolution{}, err
	}

	owner := id.OwnerKey()
	if owner == "" {
		return Resolution{Identity: id}, domain.ErrCartNotFound
	}
	cart, err := r.carts.FindCart(ctx, owner)
	if err != nil {
		return Resolution{Identity: id}, err
	}
	return Resolution{Identity: id, OwnerKey: owner, Cart: cart}, nil
}
