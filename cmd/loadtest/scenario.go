package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	guestCookie          = "cart_session"
)

// apiClient — минимальный клиент HTTP API магазина.
type apiClient struct {
	http    *http.Client
	baseURL string
	timeout time.Duration
}

type apiRequest struct {
	method  string
	path    string
	body    any
	token   string
	cookies []*http.Cookie
	headers map[string]string
}

type apiResponse struct {
	status  int
	body    []byte
	cookies []*http.Cookie
}

func newAPIClient(baseURL string, timeout time.Duration, concurrency int) *apiClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = concurrency
	return &apiClient{
		http:    &http.Client{Transport: transport},
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
	}
}

func (c *apiClient) do(req apiRequest) (apiResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	var body io.Reader
	if req.body != nil {
		raw, err := json.Marshal(req.body)
		if err != nil {
			return apiResponse{}, err
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, body)
	if err != nil {
		return apiResponse{}, err
	}
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.token)
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}
	for _, cookie := range req.cookies {
		httpReq.AddCookie(cookie)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return apiResponse{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apiResponse{status: resp.StatusCode}, err
	}
	return apiResponse{status: resp.StatusCode, body: raw, cookies: resp.Cookies()}, nil
}

// call выполняет шаг и записывает его результат. Успех — ожидаемый статус.
func (c *apiClient) call(col *collector, step string, want int, req apiRequest) (apiResponse, error) {
	start := time.Now()
	resp, err := c.do(req)
	ok := err == nil && resp.status == want
	col.record(step, time.Since(start), resp.status, ok)
	if err != nil {
		return resp, fmt.Errorf("%s: %w", step, err)
	}
	if !ok {
		return resp, fmt.Errorf("%s: unexpected status %d", step, resp.status)
	}
	return resp, nil
}

type scenarioRunner struct {
	client *apiClient
	cfg    config
	runID  string
	col    *collector
}

func (s *scenarioRunner) run(index int) error {
	start := time.Now()
	var err error
	defer func() {
		status := http.StatusOK
		if err != nil {
			status = 0
		}
		s.col.record(scenarioStep, time.Since(start), status, err == nil)
	}()

	switch s.cfg.mode {
	case modeBrowse:
		err = s.browse(index)
	case modeCart:
		err = s.guestCart()
	case modeCheckout:
		err = s.checkout(index)
	default:
		err = fmt.Errorf("unsupported mode %s", s.cfg.mode)
	}
	return err
}

func (s *scenarioRunner) browse(index int) error {
	page := index%5 + 1
	_, err := s.client.call(s.col, "ListProducts", http.StatusOK, apiRequest{
		method: http.MethodGet,
		path:   fmt.Sprintf("/products?page=%d&limit=12", page),
	})
	return err
}

// guestCart кладёт товар в гостевую корзину и читает её с выданной cookie.
func (s *scenarioRunner) guestCart() error {
	resp, err := s.client.call(s.col, "AddToCart", http.StatusCreated, apiRequest{
		method: http.MethodPost,
		path:   "/cart/items",
		body:   map[string]any{"productId": s.cfg.productID, "quantity": s.cfg.quantity},
	})
	if err != nil {
		return err
	}

	var cookies []*http.Cookie
	for _, cookie := range resp.cookies {
		if cookie.Name == guestCookie {
			cookies = append(cookies, cookie)
		}
	}
	_, err = s.client.call(s.col, "GetCart", http.StatusOK, apiRequest{
		method:  http.MethodGet,
		path:    "/cart",
		cookies: cookies,
	})
	return err
}

// checkout наполняет корзину пользователя и оформляет заказ с уникальным
// ключом идемпотентности.
func (s *scenarioRunner) checkout(index int) error {
	token := s.cfg.tokens[index%len(s.cfg.tokens)]
	if _, err := s.client.call(s.col, "AddToCart", http.StatusCreated, apiRequest{
		method: http.MethodPost,
		path:   "/cart/items",
		token:  token,
		body:   map[string]any{"productId": s.cfg.productID, "quantity": s.cfg.quantity},
	}); err != nil {
		return err
	}

	_, err := s.client.call(s.col, "Checkout", http.StatusOK, apiRequest{
		method:  http.MethodPost,
		path:    "/checkout",
		token:   token,
		body:    checkoutBody(),
		headers: map[string]string{headerIdempotencyKey: fmt.Sprintf("lt-checkout-%s-%d", s.runID, index)},
	})
	return err
}

func checkoutBody() map[string]any {
	return map[string]any{
		"shippingAddress": map[string]string{
			"firstName":  "Load",
			"lastName":   "Test",
			"street":     "1 Test Street",
			"city":       "Pune",
			"state":      "MH",
			"postalCode": "411001",
			"country":    "IN",
			"phone":      "+91 90000 00000",
		},
		"shippingMethod": "STANDARD",
		"paymentMethod":  "card",
	}
}
