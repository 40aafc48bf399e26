package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type cartRepositoryInMemory struct {
	store *Store
}

// NewCartRepository создаёт in-memory реализацию CartRepository.
func NewCartRepository(store *Store) domain.CartRepository {
	return &cartRepositoryInMemory{store: store}
}

func (r *cartRepositoryInMemory) FindCart(ctx context.Context, ownerKey string) (domain.Cart, error) {
	if err := ctx.Err(); err != nil {
		return domain.Cart{}, err
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	cartID, ok := r.store.cartOwners[ownerKey]
	if !ok || ownerKey == "" {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	return r.store.cartLocked(cartID), nil
}

func (r *cartRepositoryInMemory) GetOrCreateCart(ctx context.Context, ownerKey string) (domain.Cart, error) {
	if err := ctx.Err(); err != nil {
		return domain.Cart{}, err
	}
	if ownerKey == "" {
		return domain.Cart{}, domain.ErrGuestTokenRequired
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.cartLocked(r.getOrCreateLocked(ownerKey)), nil
}

func (r *cartRepositoryInMemory) getOrCreateLocked(ownerKey string) string {
	if cartID, ok := r.store.cartOwners[ownerKey]; ok {
		return cartID
	}
	now := r.store.now()
	cart := domain.Cart{
		ID:        uuid.NewString(),
		OwnerKey:  ownerKey,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.store.carts[cart.ID] = cart
	r.store.cartOwners[ownerKey] = cart.ID
	return cart.ID
}

func (r *cartRepositoryInMemory) AddItem(ctx context.Context, cartID, productID string, qty int) (domain.CartItem, error) {
	if err := ctx.Err(); err != nil {
		return domain.CartItem{}, err
	}
	if qty <= 0 {
		return domain.CartItem{}, domain.ErrQuantityInvalid
	}
	if qty > domain.MaxCartLineQty {
		return domain.CartItem{}, domain.ErrQuantityTooLarge
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.carts[cartID]; !ok {
		return domain.CartItem{}, domain.ErrCartNotFound
	}

	now := r.store.now()
	for _, rec := range r.store.cartItems {
		if rec.item.CartID == cartID && rec.item.ProductID == productID {
			total, ok := domain.CartLineQuantity(rec.item.Quantity, qty)
			if !ok {
				return domain.CartItem{}, domain.ErrQuantityTooLarge
			}
			rec.item.Quantity = total
			rec.item.UpdatedAt = now
			r.touchCartLocked(cartID, now)
			return rec.item, nil
		}
	}

	item := domain.CartItem{
		ID:        uuid.NewString(),
		CartID:    cartID,
		ProductID: productID,
		Quantity:  qty,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.store.cartItems[item.ID] = &cartItemRecord{item: item, seq: r.store.nextSeq()}
	r.touchCartLocked(cartID, now)
	return item, nil
}

func (r *cartRepositoryInMemory) SetItemQuantity(ctx context.Context, cartID, itemID string, qty int) (domain.CartItem, error) {
	if err := ctx.Err(); err != nil {
		return domain.CartItem{}, err
	}
	if qty <= 0 {
		return domain.CartItem{}, domain.ErrQuantityInvalid
	}
	if qty > domain.MaxCartLineQty {
		return domain.CartItem{}, domain.ErrQuantityTooLarge
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	rec, ok := r.store.cartItems[itemID]
	if !ok || rec.item.CartID != cartID {
		return domain.CartItem{}, domain.ErrCartItemNotFound
	}
	now := r.store.now()
	rec.item.Quantity = qty
	rec.item.UpdatedAt = now
	r.touchCartLocked(cartID, now)
	return rec.item, nil
}

func (r *cartRepositoryInMemory) RemoveItem(ctx context.Context, cartID, itemID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	rec, ok := r.store.cartItems[itemID]
	if !ok || rec.item.CartID != cartID {
		return domain.ErrCartItemNotFound
	}
	delete(r.store.cartItems, itemID)
	r.touchCartLocked(cartID, r.store.now())
	return nil
}

func (r *cartRepositoryInMemory) DeleteItems(ctx context.Context, cartID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.deleteCartItemsLocked(cartID), nil
}

func (r *cartRepositoryInMemory) MergeCarts(ctx context.Context, fromOwnerKey, toOwnerKey string) (domain.Cart, error) {
	if err := ctx.Err(); err != nil {
		return domain.Cart{}, err
	}
	if toOwnerKey == "" {
		return domain.Cart{}, domain.ErrUserRequired
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	fromID, ok := r.store.cartOwners[fromOwnerKey]
	if !ok || fromOwnerKey == "" {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	toID := r.getOrCreateLocked(toOwnerKey)
	if fromID == toID {
		return r.store.cartLocked(toID), nil
	}

	from := r.store.cartLocked(fromID)
	to := r.store.cartLocked(toID)
	now := r.store.now()

	for _, src := range from.Items {
		product, ok := r.store.products[src.ProductID]
		if !ok || !product.Active {
			continue
		}
		existing := to.QuantityOf(src.ProductID)
		target := min(existing+src.Quantity, product.StockQuantity, domain.MaxCartLineQty)
		if target <= existing {
			continue
		}
		if existing > 0 {
			for _, rec := range r.store.cartItems {
				if rec.item.CartID == toID && rec.item.ProductID == src.ProductID {
					rec.item.Quantity = target
					rec.item.UpdatedAt = now
					break
				}
			}
			continue
		}
		item := domain.CartItem{
			ID:        uuid.NewString(),
			CartID:    toID,
			ProductID: src.ProductID,
			Quantity:  target,
			CreatedAt: now,
			UpdatedAt: now,
		}
		r.store.cartItems[item.ID] = &cartItemRecord{item: item, seq: r.store.nextSeq()}
	}

	r.store.deleteCartItemsLocked(fromID)
	delete(r.store.carts, fromID)
	delete(r.store.cartOwners, fromOwnerKey)
	r.touchCartLocked(toID, now)

	return r.store.cartLocked(toID), nil
}

func (r *cartRepositoryInMemory) touchCartLocked(cartID string, now time.Time) {
	if cart, ok := r.store.carts[cartID]; ok {
		cart.UpdatedAt = now
		r.store.carts[cartID] = cart
	}
}

var _ domain.CartRepository = (*cartRepositoryInMemory)(nil)
