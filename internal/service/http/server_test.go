package httpsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/ratelimit"
	"github.com/vladislavdragonenkov/storefront/internal/service/cart"
	"github.com/vladislavdragonenkov/storefront/internal/service/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/orders"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

type testEnv struct {
	t           *testing.T
	catalog     domain.CatalogRepository
	carts       domain.CartRepository
	users       domain.UserRepository
	sessions    domain.SessionRepository
	idempotency domain.IdempotencyRepository
	server      *Server
	handler     http.Handler
}

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return log.NewEntry(logger)
}

func newTestEnv(t *testing.T, limiter *ratelimit.Limiter) *testEnv {
	t.Helper()
	store := memory.NewStore()
	logger := quietLogger()

	e := &testEnv{
		t:           t,
		catalog:     memory.NewCatalogRepository(store),
		carts:       memory.NewCartRepository(store),
		users:       memory.NewUserRepository(store),
		sessions:    memory.NewSessionRepository(store),
		idempotency: memory.NewIdempotencyRepository(),
	}
	orderRepo := memory.NewOrderRepository(store)
	timeline := memory.NewTimelineRepository(store)

	checkoutSvc, err := checkout.NewService(e.catalog, e.carts, orderRepo, e.users, checkout.WithLogger(logger))
	require.NoError(t, err)

	ordersSvc := orders.NewService(orderRepo, timeline, e.users, orders.WithLogger(logger))

	e.server = NewServer(Deps{
		Catalog:     e.catalog,
		Products:    catalog.NewService(e.catalog, ordersSvc, logger),
		Carts:       cart.NewService(e.carts, e.catalog, e.users, nil, logger),
		Checkout:    checkoutSvc,
		Orders:      ordersSvc,
		Sessions:    e.sessions,
		Idempotency: e.idempotency,
		Limiter:     limiter,
	}, Config{}, logger)
	e.handler = e.server.Handler()
	return e
}

func (e *testEnv) product(id string, price int64, stock int) {
	e.t.Helper()
	require.NoError(e.t, e.catalog.UpsertProduct(context.Background(), domain.Product{
		ID:            id,
		Slug:          id,
		Name:          "Product " + id,
		Category:      "general",
		Price:         price,
		StockQuantity: stock,
		Active:        true,
	}))
}

// login создаёт пользователя с подтверждённым email и сессию для него.
func (e *testEnv) login(userID string, role domain.UserRole) string {
	e.t.Helper()
	ctx := context.Background()
	if role == "" {
		role = domain.UserRoleCustomer
	}
	require.NoError(e.t, e.users.Upsert(ctx, domain.User{
		ID:            userID,
		Email:         userID + "@example.com",
		EmailVerified: true,
		Role:          role,
	}))
	token := "session-" + userID
	require.NoError(e.t, e.sessions.Create(ctx, domain.Session{
		Token:     token,
		UserID:    userID,
		ExpiresAt: time.Now().Add(time.Hour),
	}))
	return token
}

type requestOption func(*http.Request)

func bearer(token string) requestOption {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withCookie(name, value string) requestOption {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: name, Value: value}) }
}

func withHeader(key, value string) requestOption {
	return func(r *http.Request) { r.Header.Set(key, value) }
}

func (e *testEnv) do(method, path string, body any, opts ...requestOption) *httptest.ResponseRecorder {
	e.t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(e.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), "body: %s", rec.Body.String())
}

func responseCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestListProducts(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, nil)
	e.product("a", 300, 5)
	e.product("b", 100, 5)
	e.product("c", 200, 5)

	rec := e.do(http.MethodGet, "/products?sort=price_asc&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Products   []productJSON  `json:"products"`
			Pagination paginationJSON `json:"pagination"`
		} `json:"data"`
	}
	decode(t, rec, &resp)
	require.True(t, resp.Success)
	require.Len(t, resp.Data.Products, 2)
	require.Equal(t, "b", resp.Data.Products[0].ID)
	require.Equal(t, "c", resp.Data.Products[1].ID)
	require.Equal(t, paginationJSON{Page: 1, Limit: 2, Total: 3, Pages: 2}, resp.Data.Pagination)

	rec = e.do(http.MethodGet, "/products?minPrice=150&maxPrice=250", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &resp)
	require.Len(t, resp.Data.Products, 1)
	require.Equal(t, "c", resp.Data.Products[0].ID)
}

func TestListProductsRejectsInvalidQuery(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, nil)

	rec := e.do(http.MethodGet, "/products?sort=random&page=x&minPrice=-1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorBody
	decode(t, rec, &body)
	fields := make([]string, 0, len(body.Fields))
	for _, f := range body.Fields {
		fields = append(fields, f.Field)
	}
	require.ElementsMatch(t, []string{"sort", "page", "minPrice"}, fields)
}

func TestGetProduct(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, nil)
	e.product("lamp", 1500, 2)

	rec := e.do(http.MethodGet, "/products/lamp", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(http.MethodGet, "/products/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	var body errorBody
	decode(t, rec, &body)
	require.Equal(t, domain.ErrProductNotFound.Error(), body.Error)
}

func TestAddToCartIssuesGuestCookie(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, nil)
	e.product("p1", 1000, 5)

	rec := e.do(http.MethodPost, "/cart/items", map[string]any{"productId": "p1", "quantity": 2})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	cookie := responseCookie(rec, GuestCookie)
	require.NotNil(t, cookie, "guest cookie must be issued")
	require.True(t, strings.HasPrefix(cookie.Value, domain.GuestTokenPrefix))
	require.True(t, cookie.HttpOnly)
	require.Equal(t, "/", cookie.Path)
	require.Equal(t, int((30 * 24 * time.Hour).Seconds()), cookie.MaxAge)

	// второй запрос с тем же cookie не выпускает новый токен
	rec = e.do(http.MethodPost, "/cart/items", map[string]any{"productId": "p1"}, withCookie(GuestCookie, cookie.Value))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Nil(t, responseCookie(rec, GuestCookie))

	rec = e.do(http.MethodGet, "/cart", nil, withCookie(GuestCookie, cookie.Value))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data struct {
			Cart cartJSON `json:"cart"`
		} `json:"data"`
	}
	decode(t, rec, &resp)
	require.Len(t, resp.Data.Cart.Items, 1)
	require.Equal(t, 3, resp.Data.Cart.Items[0].Quantity)
	require.Equal(t, int64(3000), resp.Data.Cart.Subtotal)
}

func TestAddToCartErrors(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, nil)
	e.product("p1", 1000, 1)

	tests := []struct {
		name    string
		body    any
		want    int
		message string
	}{
		{"missing product id", map[string]any{"quantity": 1}, http.StatusBadRequest, "Invalid request"},
		{"zero quantity", map[string]any{"productId": "p1", "quantity": 0}, http.StatusBadRequest, "Invalid request"},
		{"unknown product", map[string]any{"productId": "nope"}, http.StatusNotFound, domain.ErrProductNotFound.Error()},
		{"over stock", map[string]any{"productId": "p1", "quantity": 2}, http.StatusBadRequest, "Product p1 is out of stock or has insufficient quantity"},
		{"malformed json", "{", http.StatusBadRequest, "Invalid request"},
		{"quantity over line limit", map[string]any{"productId": "p1", "quantity": domain.MaxCartLineQty + 1}, http.StatusBadRequest, "Invalid request"},
		{"quantity overflows int", map[string]any{"productId": "p1", "quantity": math.MaxInt}, http.StatusBadRequest, "Invalid request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(http.MethodPost, "/cart/items", tt.body)
			require.Equal(t, tt.want, rec.Code, rec.Body.String())
			var body errorBody
			decode(t, rec, &body)
			require.Equal(t, tt.message, body.Error)
		})
	}
}

func TestAddToCartRequiresVerifiedEmail(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, nil)
	e.product("p1", 1000, 5)
	token := e.login("u1", "")
	require.NoError(t, e.users.Upsert(context.Background(), domain.User{ID: "u1", Email: "u1@example.com"}))

	rec := e.do(http.MethodPost, "/cart/items", map[string]any{"productId": "p1"}, bearer(token))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUpdateAndRemoveCartItem(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, nil)
	e.product("p1", 1000, 5)
	token := e.login("u1", "")

	rec := e.do(http.MethodPost, "/cart/items", map[string]any{"productId": "p1"}, bearer(token))
	require.Equal(t, http.StatusCreated, rec.Code)
	var added struct {
		Data struct {
			Item struct {
				ID string `json:"id"`
			} `json:"item"`
		} `json:"data"`
	}
	decode(t, rec, &added)
	itemPath := "/cart/items/" + added.Data.Item.ID

	rec = e.do(http.MethodPatch, itemPath, map[string]any{"quantity": 4}, bearer(token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(http.MethodPatch, itemPath, map[string]any{}, bearer(token))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodPatch, "/cart/items/unknown", map[string]any{"quantity": 1}, bearer(token))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(http.MethodDelete, itemPath, nil, bearer(token))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data struct {
			Cart cartJSON `json:"cart"`
		} `json:"data"`
	}
	decode(t, rec, &resp)
	require.Empty(t, resp.Data.Cart.Items)

	// чужая позиция не видна
	other := e.login("u2", "")
	rec = e.do(http.MethodDelete, itemPath, nil, bearer(other))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClearCartExpiresGuestCookie(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, nil)
	e.product("p1", 1000, 5)

	rec := e.do(http.MethodPost, "/cart/items", map[string]any{"productId": "p1"})
	guest := responseCookie(rec, GuestCookie).Value

	rec = e.do(http.MethodPost, "/cart/clear", nil, withCookie(GuestCookie, guest))
	require.Equal(t, http.StatusOK, rec.Code)
	cookie := responseCookie(rec, GuestCookie)
	require.NotNil(t, cookie)
	require.Less(t, cookie.MaxAge, 0)

	rec = e.do(http.MethodGet, "/cart", nil, withCookie(GuestCookie, guest))
	var resp struct {
		Data struct {
			Cart cartJSON `json:"cart"`
		} `json:"data"`
	}
	decode(t, rec, &resp)
	require.Empty(t, resp.Data.Cart.Items)
}

func TestMergeCart(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, nil)
	e.product("p1", 1000, 3)
	token := e.login("u1", "")

	rec := e.do(http.MethodPost, "/cart/items", map[string]any{"productId": "p1", "quantity": 2})
	guest := responseCookie(rec, GuestCookie).Value
	rec = e.do(http.MethodPost, "/cart/items", map[string]any{"productId": "p1", "quantity": 2}, bearer(token))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = e.do(http.MethodPost, "/cart/merge", nil, bearer(token), withCookie(GuestCookie, guest))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Data struct {
			Cart cartJSON `json:"cart"`
		} `json:"data"`
	}
	decode(t, rec, &resp)
	require.Len(t, resp.Data.Cart.Items, 1)
	require.Equal(t, 3, resp.Data.Cart.Items[0].Quantity, "merged quantity is capped at stock")
	require.Less(t, responseCookie(rec, GuestCookie).MaxAge, 0)

	rec = e.do(http.MethodPost, "/cart/merge", nil, bearer(token))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.do(http.MethodPost, "/cart/merge", nil, withCookie(GuestCookie, guest))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticateIdentity(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, nil)
	token := e.login("u1", "")

	var got domain.Identity
	probe := e.server.authenticate(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = IdentityFrom(r.Context())
	}))

	tests := []struct {
		name string
		opts []requestOption
		want string
	}{
		{"anonymous", nil, "anonymous"},
		{"bearer", []requestOption{bearer(token)}, "user:u1"},
		{"session cookie", []requestOption{withCookie(SessionCookie, token)}, "user:u1"},
		{"unknown session", []requestOption{bearer("nope")}, "anonymous"},
		{"guest", []requestOption{withCookie(GuestCookie, "guest_0123456789")}, "guest:guest_01234567"},
		{"guest cookie without prefix", []requestOption{withCookie(GuestCookie, "u1")}, "anonymous"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		for _, opt := range tt.opts {
			opt(req)
		}
		probe.ServeHTTP(httptest.NewRecorder(), req)
		require.Equal(t, tt.want, got.String(), tt.name)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	bearer(token)(req)
	withCookie(GuestCookie, "guest_abc")(req)
	probe.ServeHTTP(httptest.NewRecorder(), req)
	require.True(t, got.IsAuthenticated())
	require.Equal(t, "guest_abc", got.GuestToken())
}

type failingSessions struct{ domain.SessionRepository }

func (failingSessions) Lookup(context.Context, string) (domain.Session, error) {
	return domain.Session{}, errors.New("connection reset")
}

func TestAuthenticateSessionStoreFailure(t *testing.T) {
	t.Parallel()
	s := NewServer(Deps{Sessions: failingSessions{}}, Config{}, quietLogger())
	called := false
	h := s.authenticate(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	bearer("token")(req)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.False(t, called)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "connection reset")
}

func TestRequestIDAndRecover(t *testing.T) {
	t.Parallel()
	s := NewServer(Deps{}, Config{}, quietLogger())
	h := s.requestContext(s.recoverPanics(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "req-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "req-1", rec.Header().Get(HeaderRequestID))
	require.JSONEq(t, `{"error":"Internal server error"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, rec.Header().Get(HeaderRequestID))
}

func TestRateLimitedMerge(t *testing.T) {
	t.Parallel()
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), quietLogger())
	e := newTestEnv(t, limiter)

	for i := 0; i < int(ratelimit.PolicyStrict.Limit); i++ {
		rec := e.do(http.MethodPost, "/cart/merge", nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i+1)
		require.Equal(t, fmt.Sprint(ratelimit.PolicyStrict.Limit), rec.Header().Get(ratelimit.HeaderLimit))
	}

	rec := e.do(http.MethodPost, "/cart/merge", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get(ratelimit.HeaderRetryAfter))

	// другие маршруты считаются по своей политике
	rec = e.do(http.MethodGet, "/products", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, fmt.Sprint(ratelimit.PolicyAPI.Limit), rec.Header().Get(ratelimit.HeaderLimit))
}

func TestNotFoundIsJSON(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, nil)

	rec := e.do(http.MethodGet, "/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	rec = e.do(http.MethodPut, "/checkout", nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
