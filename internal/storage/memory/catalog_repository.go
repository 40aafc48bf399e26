package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type catalogRepositoryInMemory struct {
	store *Store
}

// NewCatalogRepository создаёт in-memory реализацию CatalogRepository.
func NewCatalogRepository(store *Store) domain.CatalogRepository {
	return &catalogRepositoryInMemory{store: store}
}

func (r *catalogRepositoryInMemory) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, err
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	product, ok := r.store.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

func (r *catalogRepositoryInMemory) GetProductBySlug(ctx context.Context, slug string) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, err
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	id, ok := r.store.slugs[strings.ToLower(strings.TrimSpace(slug))]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	product := r.store.products[id]
	if !product.Active {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

func (r *catalogRepositoryInMemory) GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if product, ok := r.store.products[id]; ok {
			result[id] = product
		}
	}
	return result, nil
}

func (r *catalogRepositoryInMemory) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	filter = filter.Normalize()

	r.store.mu.RLock()
	matched := make([]domain.Product, 0)
	for _, product := range r.store.products {
		if filter.Matches(product) {
			matched = append(matched, product)
		}
	}
	r.store.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		switch filter.Sort {
		case domain.ProductSortPriceAsc:
			if a.Price != b.Price {
				return a.Price < b.Price
			}
		case domain.ProductSortPriceDesc:
			if a.Price != b.Price {
				return a.Price > b.Price
			}
		case domain.ProductSortName:
			if a.Name != b.Name {
				return a.Name < b.Name
			}
		default:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
		}
		return a.ID < b.ID
	})

	total := len(matched)
	start := filter.Offset()
	if start >= total {
		return []domain.Product{}, total, nil
	}
	end := start + filter.Limit
	if end > total {
		end = total
	}
	return append([]domain.Product(nil), matched[start:end]...), total, nil
}

func (r *catalogRepositoryInMemory) UpsertProduct(ctx context.Context, product domain.Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if product.ID == "" || product.Slug == "" {
		return fmt.Errorf("product id and slug are required")
	}
	if product.Price < 0 || product.StockQuantity < 0 {
		return fmt.Errorf("product price and stock must be non-negative")
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	slug := strings.ToLower(product.Slug)
	if owner, ok := r.store.slugs[slug]; ok && owner != product.ID {
		return fmt.Errorf("%w: %q", domain.ErrProductSlugTaken, product.Slug)
	}

	now := r.store.now()
	if existing, ok := r.store.products[product.ID]; ok {
		product.CreatedAt = existing.CreatedAt
		if existing.Slug != product.Slug {
			delete(r.store.slugs, strings.ToLower(existing.Slug))
		}
	} else if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now

	r.store.products[product.ID] = product
	r.store.slugs[slug] = product.ID
	return nil
}

func (r *catalogRepositoryInMemory) DecrementStock(ctx context.Context, productID string, qty int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if qty <= 0 {
		return domain.ErrQuantityInvalid
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.store.decrementStockLocked(productID, qty)
}

var _ domain.CatalogRepository = (*catalogRepositoryInMemory)(nil)
