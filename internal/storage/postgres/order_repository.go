package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const orderColumns = `o.id, o.order_number, o.user_id, o.status, o.payment_status, o.payment_method,
	o.shipping_method, o.currency, o.subtotal, o.shipping_cost, o.tax_rate_bps, o.tax, o.total,
	o.tracking_number, o.version, o.created_at, o.updated_at,
	a.id, a.user_id, a.first_name, a.last_name, a.street, a.city, a.state, a.postal_code,
	a.country, a.phone, a.created_at`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

// PlaceOrder выполняет оформление одной транзакцией. Остатки списываются в
// порядке id товара, чтобы параллельные заказы брали блокировки строк
// в одинаковом порядке.
func (r *orderRepository) PlaceOrder(ctx context.Context, m domain.OrderMutation) error {
	order := m.Order
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if order.Address == nil {
		return errors.New("order address is required")
	}
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.Version == 0 {
		order.Version = 1
	}

	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		// Позиции корзины удаляются первыми: строки блокируются, и
		// параллельное оформление той же корзины ждёт и получает ErrCartChanged.
		if err := consumeCart(ctx, tx, m.Cart); err != nil {
			return err
		}

		addr := *order.Address
		if addr.ID == "" {
			addr.ID = uuid.NewString()
		}
		if addr.UserID == "" {
			addr.UserID = order.UserID
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO addresses (
				id, user_id, first_name, last_name, street, city, state, postal_code, country, phone, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`,
			addr.ID, addr.UserID, addr.FirstName, addr.LastName, addr.Street, addr.City,
			addr.State, addr.PostalCode, addr.Country, addr.Phone, order.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert address: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO orders (
				id, order_number, user_id, status, payment_status, payment_method, shipping_method,
				currency, subtotal, shipping_cost, tax_rate_bps, tax, total, tracking_number,
				address_id, version, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$17)
		`,
			order.ID, order.OrderNumber, order.UserID, string(order.Status), string(order.PaymentStatus),
			order.PaymentMethod, string(order.ShippingMethod), order.Currency, order.Subtotal,
			order.ShippingCost, order.TaxRateBps, order.Tax, order.Total, order.TrackingNumber,
			addr.ID, order.Version, order.CreatedAt,
		); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrOrderAlreadyExists
			}
			return fmt.Errorf("insert order: %w", err)
		}

		requested := make(map[string]int, len(order.Items))
		for _, item := range order.Items {
			itemID := item.ID
			if itemID == "" {
				itemID = uuid.NewString()
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO order_items (
					id, order_id, product_id, product_name, quantity, unit_price, subtotal, created_at
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			`,
				itemID, order.ID, item.ProductID, item.ProductName, item.Quantity,
				item.UnitPrice, item.Subtotal, order.CreatedAt,
			); err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
			requested[item.ProductID] += item.Quantity
		}

		productIDs := make([]string, 0, len(requested))
		for id := range requested {
			productIDs = append(productIDs, id)
		}
		sort.Strings(productIDs)
		for _, id := range productIDs {
			if err := decrementStock(ctx, tx, id, requested[id]); err != nil {
				return err
			}
		}

		return writeOrderEvents(ctx, tx, m.Outbox, m.Timeline)
	})
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders o
		JOIN addresses a ON a.id = o.address_id
		WHERE o.id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	items, err := r.loadItems(ctx, []string{order.ID})
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items[order.ID]
	return order, nil
}

func (r *orderRepository) List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, int, error) {
	filter = filter.Normalize()

	where := []string{"TRUE"}
	args := make([]any, 0, 4)
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		where = append(where, fmt.Sprintf("o.user_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("o.status = $%d", len(args)))
	}
	whereSQL := strings.Join(where, " AND ")

	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders o WHERE `+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset())
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM orders o
		JOIN addresses a ON a.id = o.address_id
		WHERE %s
		ORDER BY o.created_at DESC, o.id DESC
		LIMIT $%d OFFSET $%d
	`, orderColumns, whereSQL, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, filter.Limit)
	ids := make([]string, 0, filter.Limit)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate order rows: %w", err)
	}

	items, err := r.loadItems(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, total, nil
}

// Save обновляет статусы заказа, если версия совпадает с сохранённой.
func (r *orderRepository) Save(ctx context.Context, m domain.OrderMutation) error {
	order := m.Order

	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET status = $1,
			    payment_status = $2,
			    tracking_number = $3,
			    version = version + 1,
			    updated_at = $4
			WHERE id = $5
			  AND version = $6
		`,
			string(order.Status), string(order.PaymentStatus), order.TrackingNumber,
			time.Now().UTC(), order.ID, order.Version,
		)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			exists, err := orderExists(ctx, tx, order.ID)
			if err != nil {
				return err
			}
			if !exists {
				return domain.ErrOrderNotFound
			}
			return domain.ErrOrderVersionConflict
		}

		return writeOrderEvents(ctx, tx, m.Outbox, m.Timeline)
	})
}

func (r *orderRepository) loadItems(ctx context.Context, orderIDs []string) (map[string][]domain.OrderItem, error) {
	result := make(map[string][]domain.OrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return result, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, product_name, quantity, unit_price, subtotal, created_at
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY created_at ASC, id ASC
	`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName,
			&item.Quantity, &item.UnitPrice, &item.Subtotal, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		result[item.OrderID] = append(result[item.OrderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return result, nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order                                      domain.Order
		addr                                       domain.Address
		status, paymentStatus, shippingMethodValue string
	)
	err := row.Scan(
		&order.ID, &order.OrderNumber, &order.UserID, &status, &paymentStatus, &order.PaymentMethod,
		&shippingMethodValue, &order.Currency, &order.Subtotal, &order.ShippingCost, &order.TaxRateBps,
		&order.Tax, &order.Total, &order.TrackingNumber, &order.Version, &order.CreatedAt, &order.UpdatedAt,
		&addr.ID, &addr.UserID, &addr.FirstName, &addr.LastName, &addr.Street, &addr.City, &addr.State,
		&addr.PostalCode, &addr.Country, &addr.Phone, &addr.CreatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.PaymentStatus = domain.PaymentStatus(paymentStatus)
	order.ShippingMethod = domain.ShippingMethod(shippingMethodValue)
	order.Address = &addr
	return order, nil
}

func orderExists(ctx context.Context, tx *sql.Tx, orderID string) (bool, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

func writeOrderEvents(ctx context.Context, q queryer, outbox []domain.OutboxMessage, timeline []domain.TimelineEvent) error {
	for _, msg := range outbox {
		if _, err := enqueueOutbox(ctx, q, msg); err != nil {
			return err
		}
	}
	for _, event := range timeline {
		if err := appendTimeline(ctx, q, event); err != nil {
			return err
		}
	}
	return nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)

// consumeCart удаляет позиции снимка, сверяя количество. Если удалено
// меньше строк, чем в снимке, корзина изменилась и транзакция откатывается.
func consumeCart(ctx context.Context, q queryer, c *domain.CartConsumption) error {
	if c == nil || len(c.Items) == 0 {
		return nil
	}
	ids := c.ItemIDs()
	quantities := make([]int64, 0, len(c.Items))
	for _, it := range c.Items {
		quantities = append(quantities, int64(it.Quantity))
	}

	res, err := q.ExecContext(ctx, `
		DELETE FROM cart_items ci
		USING unnest($2::text[], $3::bigint[]) AS snap(id, quantity)
		WHERE ci.cart_id = $1 AND ci.id = snap.id AND ci.quantity = snap.quantity
	`, c.CartID, ids, quantities)
	if err != nil {
		return fmt.Errorf("consume cart %s: %w", c.CartID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("consume cart %s: %w", c.CartID, err)
	}
	if n != int64(len(ids)) {
		return domain.ErrCartChanged
	}
	return nil
}
