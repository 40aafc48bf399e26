package domain

import (
	"strings"
	"time"
)

// Product — товар каталога. Цены хранятся целыми единицами валюты магазина.
type Product struct {
	ID            string
	Slug          string
	Name          string
	Description   string
	Category      string
	Price         int64
	StockQuantity int
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Orderable сообщает, можно ли заказать qty единиц товара прямо сейчас.
func (p Product) Orderable(qty int) bool {
	return p.Active && qty > 0 && p.StockQuantity >= qty
}

// ProductSort задаёт порядок выдачи каталога.
type ProductSort string

const (
	ProductSortNewest    ProductSort = "newest"
	ProductSortPriceAsc  ProductSort = "price_asc"
	ProductSortPriceDesc ProductSort = "price_desc"
	ProductSortName      ProductSort = "name"
)

// Valid проверяет, что порядок сортировки поддерживается.
func (s ProductSort) Valid() bool {
	switch s {
	case ProductSortNewest, ProductSortPriceAsc, ProductSortPriceDesc, ProductSortName:
		return true
	default:
		return false
	}
}

const (
	DefaultPageLimit = 12
	MaxPageLimit     = 100
)

// ProductFilter описывает выборку активных товаров.
type ProductFilter struct {
	Category string
	Search   string
	// MinPrice/MaxPrice: 0 — без ограничения.
	MinPrice int64
	MaxPrice int64
	Sort     ProductSort
	Page     int
	Limit    int
}

// Normalize подставляет значения по умолчанию и ограничивает пагинацию.
func (f ProductFilter) Normalize() ProductFilter {
	f.Category = strings.TrimSpace(f.Category)
	f.Search = strings.TrimSpace(f.Search)
	if !f.Sort.Valid() {
		f.Sort = ProductSortNewest
	}
	f.Page, f.Limit = NormalizePage(f.Page, f.Limit)
	if f.MinPrice < 0 {
		f.MinPrice = 0
	}
	if f.MaxPrice < 0 {
		f.MaxPrice = 0
	}
	return f
}

// Offset возвращает смещение для текущей страницы.
func (f ProductFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// NormalizePage приводит номер страницы и размер к допустимым значениям.
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return page, limit
}

// Matches проверяет товар против фильтра (используется in-memory хранилищем).
func (f ProductFilter) Matches(p Product) bool {
	if !p.Active {
		return false
	}
	if f.Category != "" && !strings.EqualFold(p.Category, f.Category) {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(p.Name), needle) &&
			!strings.Contains(strings.ToLower(p.Description), needle) {
			return false
		}
	}
	if f.MinPrice > 0 && p.Price < f.MinPrice {
		return false
	}
	if f.MaxPrice > 0 && p.Price > f.MaxPrice {
		return false
	}
	return true
}
