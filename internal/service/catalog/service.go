// Package catalog — административное ведение каталога: создание товаров,
// изменение цены, остатка и снятие с продажи.
package catalog

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	maxNameLength        = 200
	maxDescriptionLength = 5000
	maxCategoryLength    = 64
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// AdminChecker решает, есть ли у запроса права администратора.
type AdminChecker interface {
	IsAdmin(ctx context.Context, id domain.Identity) (bool, error)
}

// ProductInput — поля нового товара. Active по умолчанию true.
type ProductInput struct {
	Slug          string
	Name          string
	Description   string
	Category      string
	Price         int64
	StockQuantity int
	Active        *bool
}

// ProductPatch — частичное изменение товара; nil означает «не менять».
type ProductPatch struct {
	Slug          *string
	Name          *string
	Description   *string
	Category      *string
	Price         *int64
	StockQuantity *int
	Active        *bool
}

// Service — запись каталога от имени администратора.
type Service struct {
	catalog domain.CatalogRepository
	admins  AdminChecker
	logger  *log.Entry
}

// NewService создаёт сервис каталога.
func NewService(catalog domain.CatalogRepository, admins AdminChecker, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "catalog")
	}
	return &Service{catalog: catalog, admins: admins, logger: logger}
}

// Create добавляет товар с новым идентификатором.
func (s *Service) Create(ctx context.Context, id domain.Identity, in ProductInput) (domain.Product, error) {
	if err := s.requireAdmin(ctx, id); err != nil {
		return domain.Product{}, err
	}

	product := domain.Product{
		ID:            uuid.NewString(),
		Slug:          normalizeSlug(in.Slug),
		Name:          strings.TrimSpace(in.Name),
		Description:   strings.TrimSpace(in.Description),
		Category:      strings.TrimSpace(in.Category),
		Price:         in.Price,
		StockQuantity: in.StockQuantity,
		Active:        true,
	}
	if in.Active != nil {
		product.Active = *in.Active
	}
	if err := validateProduct(product); err != nil {
		return domain.Product{}, err
	}

	if err := s.catalog.UpsertProduct(ctx, product); err != nil {
		return domain.Product{}, err
	}
	s.logger.WithFields(log.Fields{
		"product_id": product.ID,
		"slug":       product.Slug,
		"admin":      id.UserID(),
	}).Info("product created")
	return s.catalog.GetProduct(ctx, product.ID)
}

// Update применяет частичное изменение. Active=false снимает товар с
// продажи: он пропадает из выдачи, но существующие заказы не меняются.
func (s *Service) Update(ctx context.Context, id domain.Identity, productID string, patch ProductPatch) (domain.Product, error) {
	if err := s.requireAdmin(ctx, id); err != nil {
		return domain.Product{}, err
	}

	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	before := product

	if patch.Slug != nil {
		product.Slug = normalizeSlug(*patch.Slug)
	}
	if patch.Name != nil {
		product.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Description != nil {
		product.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Category != nil {
		product.Category = strings.TrimSpace(*patch.Category)
	}
	if patch.Price != nil {
		product.Price = *patch.Price
	}
	if patch.StockQuantity != nil {
		product.StockQuantity = *patch.StockQuantity
	}
	if patch.Active != nil {
		product.Active = *patch.Active
	}
	if err := validateProduct(product); err != nil {
		return domain.Product{}, err
	}
	if product == before {
		return product, nil
	}

	if err := s.catalog.UpsertProduct(ctx, product); err != nil {
		return domain.Product{}, err
	}
	s.logger.WithFields(log.Fields{
		"product_id": product.ID,
		"admin":      id.UserID(),
		"price":      product.Price,
		"stock":      product.StockQuantity,
		"active":     product.Active,
	}).Info("product updated")
	return s.catalog.GetProduct(ctx, product.ID)
}

func (s *Service) requireAdmin(ctx context.Context, id domain.Identity) error {
	if !id.IsAuthenticated() {
		return domain.ErrUnauthorized
	}
	if s.admins == nil {
		return domain.ErrForbidden
	}
	admin, err := s.admins.IsAdmin(ctx, id)
	if err != nil {
		return err
	}
	if !admin {
		return domain.ErrForbidden
	}
	return nil
}

func validateProduct(p domain.Product) error {
	verr := &domain.ValidationError{}
	switch {
	case p.Slug == "":
		verr.Add("slug", "is required")
	case !slugPattern.MatchString(p.Slug):
		verr.Add("slug", "must contain lowercase letters, digits and single hyphens")
	}
	switch n := utf8.RuneCountInString(p.Name); {
	case n == 0:
		verr.Add("name", "is required")
	case n > maxNameLength:
		verr.Add("name", "is too long")
	}
	if utf8.RuneCountInString(p.Description) > maxDescriptionLength {
		verr.Add("description", "is too long")
	}
	switch n := utf8.RuneCountInString(p.Category); {
	case n == 0:
		verr.Add("category", "is required")
	case n > maxCategoryLength:
		verr.Add("category", "is too long")
	}
	if p.Price < 0 {
		verr.Add("price", "must be a non-negative integer")
	}
	if p.StockQuantity < 0 {
		verr.Add("stockQuantity", "must be a non-negative integer")
	}
	return verr.OrNil()
}

func normalizeSlug(slug string) string {
	return strings.ToLower(strings.TrimSpace(slug))
}
