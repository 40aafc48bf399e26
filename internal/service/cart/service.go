// Package cart реализует операции корзины: просмотр, добавление, изменение
// количества, удаление позиций, очистку и перенос гостевой корзины.
package cart

import (
	"context"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/identity"
)

// Line — позиция корзины с актуальными данными товара.
type Line struct {
	ItemID    string
	ProductID string
	Slug      string
	Name      string
	Price     int64
	Quantity  int
	Subtotal  int64
	// Available — товар активен и остатка хватает на Quantity.
	Available bool
}

// View — корзина в том виде, как её видит покупатель.
type View struct {
	CartID    string
	Lines     []Line
	ItemCount int
	Subtotal  int64
}

// AddResult — результат добавления товара.
type AddResult struct {
	Identity domain.Identity
	Item     domain.CartItem
	// GuestTokenIssued — для анонимного запроса выпущен новый гостевой токен,
	// его нужно отдать клиенту в cookie.
	GuestTokenIssued bool
}

// Service — операции корзины. Каждая мутация атомарна сама по себе.
type Service struct {
	carts    domain.CartRepository
	catalog  domain.CatalogRepository
	users    domain.UserRepository
	resolver *identity.Resolver
	logger   *log.Entry
}

// NewService создаёт сервис корзины.
func NewService(
	carts domain.CartRepository,
	catalog domain.CatalogRepository,
	users domain.UserRepository,
	resolver *identity.Resolver,
	logger *log.Entry,
) *Service {
	if logger == nil {
		logger = log.WithField("component", "cart")
	}
	if resolver == nil {
		resolver = identity.NewResolver(carts, logger)
	}
	return &Service{carts: carts, catalog: catalog, users: users, resolver: resolver, logger: logger}
}

// Get возвращает корзину запроса. Отсутствие корзины — пустой View, не ошибка.
func (s *Service) Get(ctx context.Context, id domain.Identity) (View, error) {
	res, err := s.resolver.FindCart(ctx, id)
	if errors.Is(err, domain.ErrCartNotFound) {
		return View{Lines: []Line{}}, nil
	}
	if err != nil {
		return View{}, err
	}
	return s.buildView(ctx, res.Cart)
}

// Add увеличивает количество товара в корзине владельца или добавляет позицию.
// Анонимному запросу выпускается гостевой токен.
func (s *Service) Add(ctx context.Context, id domain.Identity, productID string, qty int) (AddResult, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return AddResult{}, validationError("productId", domain.ErrProductIDRequired)
	}
	if qty <= 0 {
		return AddResult{}, validationError("quantity", domain.ErrQuantityInvalid)
	}
	if qty > domain.MaxCartLineQty {
		return AddResult{}, validationError("quantity", domain.ErrQuantityTooLarge)
	}

	if id.IsAuthenticated() {
		user, err := s.users.Get(ctx, id.UserID())
		if errors.Is(err, domain.ErrUserNotFound) {
			return AddResult{}, domain.ErrUnauthorized
		}
		if err != nil {
			return AddResult{}, err
		}
		if !user.EmailVerified {
			return AddResult{}, domain.ErrEmailNotVerified
		}
	}

	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return AddResult{}, err
	}
	if !product.Active {
		return AddResult{}, domain.ErrProductNotFound
	}

	issued := false
	if id.OwnerKey() == "" {
		id = id.WithGuestToken(domain.NewGuestToken())
		issued = true
	}

	cart, err := s.carts.GetOrCreateCart(ctx, id.OwnerKey())
	if err != nil {
		return AddResult{}, err
	}
	want, ok := domain.CartLineQuantity(cart.QuantityOf(productID), qty)
	if !ok {
		return AddResult{}, validationError("quantity", domain.ErrQuantityTooLarge)
	}
	if product.StockQuantity < want {
		return AddResult{}, outOfStock(product, want)
	}

	item, err := s.carts.AddItem(ctx, cart.ID, productID, qty)
	if errors.Is(err, domain.ErrQuantityTooLarge) {
		return AddResult{}, validationError("quantity", err)
	}
	if err != nil {
		return AddResult{}, err
	}

	s.logger.WithFields(log.Fields{
		"identity":   id.String(),
		"product_id": productID,
		"quantity":   item.Quantity,
	}).Debug("cart item added")

	return AddResult{Identity: id, Item: item, GuestTokenIssued: issued}, nil
}

// Update задаёт количество позиции; 0 удаляет позицию.
func (s *Service) Update(ctx context.Context, id domain.Identity, itemID string, qty int) error {
	if qty < 0 {
		return validationError("quantity", domain.ErrQuantityNegative)
	}
	if qty > domain.MaxCartLineQty {
		return validationError("quantity", domain.ErrQuantityTooLarge)
	}
	cart, item, err := s.findItem(ctx, id, itemID)
	if err != nil {
		return err
	}
	if qty == 0 {
		return s.carts.RemoveItem(ctx, cart.ID, item.ID)
	}

	product, err := s.catalog.GetProduct(ctx, item.ProductID)
	if err != nil {
		return err
	}
	if !product.Active {
		return domain.ErrProductNotFound
	}
	if product.StockQuantity < qty {
		return outOfStock(product, qty)
	}

	_, err = s.carts.SetItemQuantity(ctx, cart.ID, item.ID, qty)
	return err
}

// Remove удаляет позицию из корзины запроса.
func (s *Service) Remove(ctx context.Context, id domain.Identity, itemID string) error {
	cart, item, err := s.findItem(ctx, id, itemID)
	if err != nil {
		return err
	}
	return s.carts.RemoveItem(ctx, cart.ID, item.ID)
}

// Clear удаляет все позиции корзины запроса и возвращает их количество.
func (s *Service) Clear(ctx context.Context, id domain.Identity) (int, error) {
	res, err := s.resolver.FindCart(ctx, id)
	if errors.Is(err, domain.ErrCartNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return s.carts.DeleteItems(ctx, res.Cart.ID)
}

// Merge переносит гостевую корзину в корзину пользователя с ограничением по остатку.
func (s *Service) Merge(ctx context.Context, id domain.Identity) (View, error) {
	if !id.IsAuthenticated() {
		return View{}, domain.ErrUnauthorized
	}
	if id.GuestToken() == "" {
		return View{}, domain.ErrMergeRequiresGuestCart
	}

	merged, err := s.carts.MergeCarts(ctx, id.GuestToken(), id.UserID())
	if errors.Is(err, domain.ErrCartNotFound) {
		return View{}, domain.ErrMergeRequiresGuestCart
	}
	if err != nil {
		return View{}, err
	}

	s.logger.WithFields(log.Fields{
		"identity": id.String(),
		"items":    len(merged.Items),
	}).Info("guest cart merged")

	return s.buildView(ctx, merged)
}

func (s *Service) findItem(ctx context.Context, id domain.Identity, itemID string) (domain.Cart, domain.CartItem, error) {
	res, err := s.resolver.FindCart(ctx, id)
	if errors.Is(err, domain.ErrCartNotFound) {
		return domain.Cart{}, domain.CartItem{}, domain.ErrCartItemNotFound
	}
	if err != nil {
		return domain.Cart{}, domain.CartItem{}, err
	}
	item, ok := res.Cart.FindItem(itemID)
	if !ok {
		return domain.Cart{}, domain.CartItem{}, domain.ErrCartItemNotFound
	}
	return res.Cart, item, nil
}

func (s *Service) buildView(ctx context.Context, cart domain.Cart) (View, error) {
	view := View{CartID: cart.ID, Lines: make([]Line, 0, len(cart.Items))}
	if cart.IsEmpty() {
		return view, nil
	}

	products, err := s.catalog.GetProducts(ctx, cart.ProductIDs())
	if err != nil {
		return View{}, err
	}
	for _, item := range cart.Items {
		product, ok := products[item.ProductID]
		if !ok {
			continue
		}
		cl := domain.CartLine{Item: item, Product: product}
		line := Line{
			ItemID:    item.ID,
			ProductID: product.ID,
			Slug:      product.Slug,
			Name:      product.Name,
			Price:     product.Price,
			Quantity:  item.Quantity,
			Subtotal:  cl.Subtotal(),
			Available: product.Orderable(item.Quantity),
		}
		view.Lines = append(view.Lines, line)
		view.ItemCount += item.Quantity
		view.Subtotal += line.Subtotal
	}
	return view, nil
}

func outOfStock(product domain.Product, requested int) *domain.StockError {
	return &domain.StockError{
		Err:         domain.ErrOutOfStock,
		ProductID:   product.ID,
		ProductName: product.Name,
		Requested:   requested,
		Available:   product.StockQuantity,
	}
}

func validationError(field string, cause error) error {
	verr := &domain.ValidationError{}
	verr.Add(field, cause.Error())
	return verr
}
