// Package httpsvc — HTTP API магазина: каталог, корзина, оформление заказа,
// заказы покупателя и административные операции.
package httpsvc

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/ratelimit"
	"github.com/vladislavdragonenkov/storefront/internal/service/cart"
	"github.com/vladislavdragonenkov/storefront/internal/service/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/orders"
)

const (
	defaultIdempotencyTTL = 24 * time.Hour
	maxBodyBytes          = 1 << 20
)

// Deps — сервисы и хранилища, которые обслуживает API.
type Deps struct {
	Catalog  domain.CatalogRepository
	Products *catalog.Service
	Carts    *cart.Service
	Checkout *checkout.Service
	Orders   *orders.Service
	Sessions domain.SessionRepository

	// Idempotency — nil отключает обработку заголовка Idempotency-Key.
	Idempotency domain.IdempotencyRepository
	// Limiter — nil отключает rate limiting.
	Limiter *ratelimit.Limiter
}

// Config — параметры HTTP слоя.
type Config struct {
	IdempotencyTTL time.Duration
	SecureCookies  bool
}

// Server собирает маршруты API поверх сервисов.
type Server struct {
	deps   Deps
	cfg    Config
	logger *log.Entry
	now    func() time.Time
}

// NewServer создаёт HTTP слой.
func NewServer(deps Deps, cfg Config, logger *log.Entry) *Server {
	if logger == nil {
		logger = log.WithField("component", "http")
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = defaultIdempotencyTTL
	}
	return &Server{deps: deps, cfg: cfg, logger: logger, now: time.Now}
}

// Handler возвращает роутер со всеми маршрутами и middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestContext)
	r.Use(s.logRequests)
	r.Use(s.recoverPanics)
	r.Use(s.authenticate)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Group(func(r chi.Router) {
		r.Use(s.limit(ratelimit.PolicyAPI))

		r.Get("/products", s.listProducts)
		r.Get("/products/{slug}", s.getProduct)

		r.Get("/cart", s.getCart)
		r.Post("/cart/items", s.addCartItem)
		r.Patch("/cart/items/{itemID}", s.updateCartItem)
		r.Delete("/cart/items/{itemID}", s.removeCartItem)
		r.Post("/cart/clear", s.clearCart)

		r.Get("/orders", s.listOrders)
		r.Get("/orders/{orderID}", s.getOrder)

		r.Get("/admin/orders", s.adminListOrders)
		r.Patch("/admin/orders/{orderID}", s.adminUpdateOrder)
		r.Post("/admin/products", s.adminCreateProduct)
		r.Patch("/admin/products/{productID}", s.adminUpdateProduct)
	})

	r.With(s.limit(ratelimit.PolicyCheckout)).Post("/checkout", s.placeOrder)
	r.With(s.limit(ratelimit.PolicyStrict)).Post("/cart/merge", s.mergeCart)

	return r
}
