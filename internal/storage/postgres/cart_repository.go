package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type cartRepository struct {
	db *sql.DB
}

// NewCartRepository создаёт PostgreSQL-реализацию CartRepository.
func NewCartRepository(store *Store) domain.CartRepository {
	return &cartRepository{db: store.DB()}
}

func (r *cartRepository) FindCart(ctx context.Context, ownerKey string) (domain.Cart, error) {
	if ownerKey == "" {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	return loadCart(ctx, r.db, ownerKey)
}

func (r *cartRepository) GetOrCreateCart(ctx context.Context, ownerKey string) (domain.Cart, error) {
	if ownerKey == "" {
		return domain.Cart{}, domain.ErrGuestTokenRequired
	}
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	if err := ensureCart(ctx, r.db, ownerKey); err != nil {
		return domain.Cart{}, err
	}
	return loadCart(ctx, r.db, ownerKey)
}

func (r *cartRepository) AddItem(ctx context.Context, cartID, productID string, qty int) (domain.CartItem, error) {
	if qty <= 0 {
		return domain.CartItem{}, domain.ErrQuantityInvalid
	}
	if qty > domain.MaxCartLineQty {
		return domain.CartItem{}, domain.ErrQuantityTooLarge
	}
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	item := domain.CartItem{CartID: cartID, ProductID: productID}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO cart_items (id, cart_id, product_id, quantity, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$5)
		ON CONFLICT (cart_id, product_id) DO UPDATE SET
			quantity = cart_items.quantity + EXCLUDED.quantity,
			updated_at = EXCLUDED.updated_at
		WHERE cart_items.quantity + EXCLUDED.quantity <= $6
		RETURNING id, quantity, created_at, updated_at
	`, uuid.NewString(), cartID, productID, qty, now, domain.MaxCartLineQty).
		Scan(&item.ID, &item.Quantity, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		// Конфликт без обновления: сумма вышла бы за предел позиции.
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CartItem{}, domain.ErrQuantityTooLarge
		}
		return domain.CartItem{}, fmt.Errorf("upsert cart item: %w", err)
	}

	if err := touchCart(ctx, r.db, cartID, now); err != nil {
		return domain.CartItem{}, err
	}
	return item, nil
}

func (r *cartRepository) SetItemQuantity(ctx context.Context, cartID, itemID string, qty int) (domain.CartItem, error) {
	if qty <= 0 {
		return domain.CartItem{}, domain.ErrQuantityInvalid
	}
	if qty > domain.MaxCartLineQty {
		return domain.CartItem{}, domain.ErrQuantityTooLarge
	}
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	item := domain.CartItem{ID: itemID, CartID: cartID}
	err := r.db.QueryRowContext(ctx, `
		UPDATE cart_items
		SET quantity = $3, updated_at = $4
		WHERE id = $1 AND cart_id = $2
		RETURNING product_id, quantity, created_at, updated_at
	`, itemID, cartID, qty, now).
		Scan(&item.ProductID, &item.Quantity, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CartItem{}, domain.ErrCartItemNotFound
		}
		return domain.CartItem{}, fmt.Errorf("update cart item: %w", err)
	}

	if err := touchCart(ctx, r.db, cartID, now); err != nil {
		return domain.CartItem{}, err
	}
	return item, nil
}

func (r *cartRepository) RemoveItem(ctx context.Context, cartID, itemID string) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM cart_items WHERE id = $1 AND cart_id = $2`, itemID, cartID)
	if err != nil {
		return fmt.Errorf("delete cart item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for cart item delete: %w", err)
	}
	if affected == 0 {
		return domain.ErrCartItemNotFound
	}
	return touchCart(ctx, r.db, cartID, time.Now().UTC())
}

func (r *cartRepository) DeleteItems(ctx context.Context, cartID string) (int, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID)
	if err != nil {
		return 0, fmt.Errorf("clear cart: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected for cart clear: %w", err)
	}
	return int(affected), nil
}

// MergeCarts переносит позиции одной транзакцией. Строки товаров блокируются
// FOR SHARE, чтобы ограничение по остатку считалось от согласованного значения.
func (r *cartRepository) MergeCarts(ctx context.Context, fromOwnerKey, toOwnerKey string) (domain.Cart, error) {
	if toOwnerKey == "" {
		return domain.Cart{}, domain.ErrUserRequired
	}
	if fromOwnerKey == "" {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		from, err := loadCart(ctx, tx, fromOwnerKey)
		if err != nil {
			return err
		}
		if err := ensureCart(ctx, tx, toOwnerKey); err != nil {
			return err
		}
		to, err := loadCart(ctx, tx, toOwnerKey)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		for _, src := range from.Items {
			var (
				stock  int
				active bool
			)
			err := tx.QueryRowContext(ctx,
				`SELECT stock_quantity, active FROM products WHERE id = $1 FOR SHARE`, src.ProductID).
				Scan(&stock, &active)
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			if err != nil {
				return fmt.Errorf("lock product for merge: %w", err)
			}
			if !active {
				continue
			}

			existing := to.QuantityOf(src.ProductID)
			target := min(existing+src.Quantity, stock, domain.MaxCartLineQty)
			if target <= existing {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO cart_items (id, cart_id, product_id, quantity, created_at, updated_at)
				VALUES ($1,$2,$3,$4,$5,$5)
				ON CONFLICT (cart_id, product_id) DO UPDATE SET
					quantity = EXCLUDED.quantity,
					updated_at = EXCLUDED.updated_at
			`, uuid.NewString(), to.ID, src.ProductID, target, now); err != nil {
				return fmt.Errorf("merge cart item: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM carts WHERE id = $1`, from.ID); err != nil {
			return fmt.Errorf("delete merged cart: %w", err)
		}
		return touchCart(ctx, tx, to.ID, now)
	})
	if err != nil {
		return domain.Cart{}, err
	}

	return loadCart(ctx, r.db, toOwnerKey)
}

func ensureCart(ctx context.Context, q queryer, ownerKey string) error {
	now := time.Now().UTC()
	if _, err := q.ExecContext(ctx, `
		INSERT INTO carts (id, owner_key, created_at, updated_at)
		VALUES ($1,$2,$3,$3)
		ON CONFLICT (owner_key) DO NOTHING
	`, uuid.NewString(), ownerKey, now); err != nil {
		return fmt.Errorf("create cart: %w", err)
	}
	return nil
}

func loadCart(ctx context.Context, q queryer, ownerKey string) (domain.Cart, error) {
	cart := domain.Cart{OwnerKey: ownerKey}
	err := q.QueryRowContext(ctx,
		`SELECT id, created_at, updated_at FROM carts WHERE owner_key = $1`, ownerKey).
		Scan(&cart.ID, &cart.CreatedAt, &cart.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Cart{}, domain.ErrCartNotFound
		}
		return domain.Cart{}, fmt.Errorf("select cart: %w", err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, product_id, quantity, created_at, updated_at
		FROM cart_items
		WHERE cart_id = $1
		ORDER BY created_at ASC, id ASC
	`, cart.ID)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("select cart items: %w", err)
	}
	defer rows.Close()

	cart.Items = make([]domain.CartItem, 0)
	for rows.Next() {
		item := domain.CartItem{CartID: cart.ID}
		if err := rows.Scan(&item.ID, &item.ProductID, &item.Quantity, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return domain.Cart{}, fmt.Errorf("scan cart item: %w", err)
		}
		cart.Items = append(cart.Items, item)
	}
	if err := rows.Err(); err != nil {
		return domain.Cart{}, fmt.Errorf("iterate cart items: %w", err)
	}
	return cart, nil
}

func touchCart(ctx context.Context, q queryer, cartID string, now time.Time) error {
	if _, err := q.ExecContext(ctx, `UPDATE carts SET updated_at = $2 WHERE id = $1`, cartID, now); err != nil {
		return fmt.Errorf("touch cart: %w", err)
	}
	return nil
}

var _ domain.CartRepository = (*cartRepository)(nil)
