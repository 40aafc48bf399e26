package httpsvc

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/catalog"
)

type createProductRequest struct {
	Slug          string `json:"slug"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Category      string `json:"category"`
	Price         *int64 `json:"price"`
	StockQuantity *int   `json:"stockQuantity"`
	Active        *bool  `json:"active"`
}

type updateProductRequest struct {
	Slug          *string `json:"slug"`
	Name          *string `json:"name"`
	Description   *string `json:"description"`
	Category      *string `json:"category"`
	Price         *int64  `json:"price"`
	StockQuantity *int    `json:"stockQuantity"`
	Active        *bool   `json:"active"`
}

// listProducts — GET /products?category=&search=&minPrice=&maxPrice=&sort=&page=&limit=
func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	filter, err := parseProductFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	products, total, err := s.deps.Catalog.ListProducts(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}

	items := make([]productJSON, 0, len(products))
	for _, p := range products {
		items = append(items, toProductJSON(p))
	}
	pages := 0
	if filter.Limit > 0 {
		pages = (total + filter.Limit - 1) / filter.Limit
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"products": items,
		"pagination": paginationJSON{
			Page:  filter.Page,
			Limit: filter.Limit,
			Total: total,
			Pages: pages,
		},
	})
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	product, err := s.deps.Catalog.GetProductBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"product": toProductJSON(product)})
}

func parseProductFilter(r *http.Request) (domain.ProductFilter, error) {
	q := r.URL.Query()
	verr := &domain.ValidationError{}

	filter := domain.ProductFilter{
		Category: q.Get("category"),
		Search:   q.Get("search"),
	}

	if raw := strings.TrimSpace(q.Get("sort")); raw != "" {
		sort := domain.ProductSort(strings.ReplaceAll(strings.ToLower(raw), "-", "_"))
		if !sort.Valid() {
			verr.Add("sort", "must be one of newest, price_asc, price_desc, name")
		}
		filter.Sort = sort
	}

	var err error
	if filter.MinPrice, err = queryAmount(r, "minPrice"); err != nil {
		verr.Add("minPrice", "must be a non-negative integer")
	}
	if filter.MaxPrice, err = queryAmount(r, "maxPrice"); err != nil {
		verr.Add("maxPrice", "must be a non-negative integer")
	}
	if filter.MinPrice > 0 && filter.MaxPrice > 0 && filter.MinPrice > filter.MaxPrice {
		verr.Add("minPrice", "must not exceed maxPrice")
	}
	if filter.Page, err = queryInt(r, "page", 1); err != nil {
		verr.Add("page", "must be an integer")
	}
	if filter.Limit, err = queryInt(r, "limit", domain.DefaultPageLimit); err != nil {
		verr.Add("limit", "must be an integer")
	}

	if err := verr.OrNil(); err != nil {
		return domain.ProductFilter{}, err
	}
	return filter.Normalize(), nil
}

// adminCreateProduct — POST /admin/products. price и stockQuantity обязательны.
func (s *Server) adminCreateProduct(w http.ResponseWriter, r *http.Request) {
	if s.deps.Products == nil {
		writeError(w, r, domain.ErrForbidden)
		return
	}
	raw, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req createProductRequest
	if err := decodeJSON(raw, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Price == nil {
		writeError(w, r, fieldRequired("price"))
		return
	}
	if req.StockQuantity == nil {
		writeError(w, r, fieldRequired("stockQuantity"))
		return
	}

	product, err := s.deps.Products.Create(r.Context(), IdentityFrom(r.Context()), catalog.ProductInput{
		Slug:          req.Slug,
		Name:          req.Name,
		Description:   req.Description,
		Category:      req.Category,
		Price:         *req.Price,
		StockQuantity: *req.StockQuantity,
		Active:        req.Active,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]any{"product": toProductJSON(product)})
}

// adminUpdateProduct — PATCH /admin/products/{productID}; active=false снимает товар с продажи.
func (s *Server) adminUpdateProduct(w http.ResponseWriter, r *http.Request) {
	if s.deps.Products == nil {
		writeError(w, r, domain.ErrForbidden)
		return
	}
	raw, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req updateProductRequest
	if err := decodeJSON(raw, &req); err != nil {
		writeError(w, r, err)
		return
	}

	product, err := s.deps.Products.Update(r.Context(), IdentityFrom(r.Context()), chi.URLParam(r, "productID"), catalog.ProductPatch{
		Slug:          req.Slug,
		Name:          req.Name,
		Description:   req.Description,
		Category:      req.Category,
		Price:         req.Price,
		StockQuantity: req.StockQuantity,
		Active:        req.Active,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"product": toProductJSON(product)})
}
