package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const productColumns = `id, slug, name, description, category, price, stock_quantity, active, created_at, updated_at`

type catalogRepository struct {
	db *sql.DB
}

// NewCatalogRepository создаёт PostgreSQL-реализацию CatalogRepository.
func NewCatalogRepository(store *Store) domain.CatalogRepository {
	return &catalogRepository{db: store.DB()}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Slug, &p.Name, &p.Description, &p.Category,
		&p.Price, &p.StockQuantity, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *catalogRepository) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	product, err := scanProduct(r.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return product, nil
}

func (r *catalogRepository) GetProductBySlug(ctx context.Context, slug string) (domain.Product, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	product, err := scanProduct(r.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE slug = $1 AND active`,
		strings.ToLower(strings.TrimSpace(slug))))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product by slug: %w", err)
	}
	return product, nil
}

func (r *catalogRepository) GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		result[product.ID] = product
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return result, nil
}

func (r *catalogRepository) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, int, error) {
	filter = filter.Normalize()

	where := []string{"active"}
	args := make([]any, 0, 6)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.Category != "" {
		where = append(where, "LOWER(category) = LOWER("+arg(filter.Category)+")")
	}
	if filter.Search != "" {
		p := arg("%" + filter.Search + "%")
		where = append(where, "(name ILIKE "+p+" OR description ILIKE "+p+")")
	}
	if filter.MinPrice > 0 {
		where = append(where, "price >= "+arg(filter.MinPrice))
	}
	if filter.MaxPrice > 0 {
		where = append(where, "price <= "+arg(filter.MaxPrice))
	}
	whereSQL := strings.Join(where, " AND ")

	orderBy := "created_at DESC, id"
	switch filter.Sort {
	case domain.ProductSortPriceAsc:
		orderBy = "price ASC, id"
	case domain.ProductSortPriceDesc:
		orderBy = "price DESC, id"
	case domain.ProductSortName:
		orderBy = "name ASC, id"
	}

	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products WHERE `+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}

	limitArg := arg(filter.Limit)
	offsetArg := arg(filter.Offset())
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE `+whereSQL+
			` ORDER BY `+orderBy+` LIMIT `+limitArg+` OFFSET `+offsetArg, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, filter.Limit)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate products: %w", err)
	}
	return products, total, nil
}

func (r *catalogRepository) UpsertProduct(ctx context.Context, product domain.Product) error {
	if product.ID == "" || product.Slug == "" {
		return errors.New("product id and slug are required")
	}

	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	createdAt := product.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			slug = EXCLUDED.slug,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			price = EXCLUDED.price,
			stock_quantity = EXCLUDED.stock_quantity,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`,
		product.ID, strings.ToLower(product.Slug), product.Name, product.Description, product.Category,
		product.Price, product.StockQuantity, product.Active, createdAt, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %q", domain.ErrProductSlugTaken, product.Slug)
		}
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

func (r *catalogRepository) DecrementStock(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return domain.ErrQuantityInvalid
	}
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	return decrementStock(ctx, r.db, productID, qty)
}

// decrementStock — условное списание одним UPDATE: строка меняется, только
// если товар активен и остатка хватает. Ноль затронутых строк означает
// нехватку, детали для ошибки читаются отдельным запросом.
func decrementStock(ctx context.Context, q queryer, productID string, qty int) error {
	res, err := q.ExecContext(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity - $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND active
		  AND stock_quantity >= $2
	`, productID, qty)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for stock decrement: %w", err)
	}
	if affected == 1 {
		return nil
	}

	product, err := scanProduct(q.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, productID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.StockError{Err: domain.ErrInsufficientStock, ProductID: productID, Requested: qty}
		}
		return fmt.Errorf("load product after failed decrement: %w", err)
	}
	return domain.NewInsufficientStock(product, qty)
}

var _ domain.CatalogRepository = (*catalogRepository)(nil)
