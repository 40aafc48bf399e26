package httpsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	// HeaderIdempotentReplay отмечает ответ, отданный из кэша идемпотентности.
	HeaderIdempotentReplay = "Idempotent-Replayed"
)

type orderRefJSON struct {
	ID          string `json:"id"`
	OrderNumber string `json:"orderNumber"`
}

type checkoutResponse struct {
	Order    orderRefJSON `json:"order"`
	Amount   int64        `json:"amount"`
	Currency string       `json:"currency"`
}

// placeOrder — POST /checkout. С заголовком Idempotency-Key первый ответ
// сохраняется и отдаётся повторно на запросы с тем же телом.
func (s *Server) placeOrder(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !IdentityFrom(r.Context()).IsAuthenticated() {
		writeError(w, r, domain.ErrUnauthorized)
		return
	}

	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if key == "" || s.deps.Idempotency == nil {
		status, body := s.checkout(r, raw)
		writeRaw(w, status, body)
		return
	}
	if err := domain.ValidateIdempotencyKey(key); err != nil {
		writeError(w, r, err)
		return
	}

	s.withIdempotency(w, r, key, raw, func() (int, []byte) {
		return s.checkout(r, raw)
	})
}

// checkout выполняет оформление и возвращает статус и готовое тело ответа.
func (s *Server) checkout(r *http.Request, raw []byte) (int, []byte) {
	ctx := r.Context()
	logger := requestLogger(r)

	var req domain.CheckoutRequest
	if err := decodeJSON(raw, &req); err != nil {
		return encodeError(logger, err)
	}
	input, err := domain.ValidateCheckoutRequest(req)
	if err != nil {
		return encodeError(logger, err)
	}

	result, err := s.deps.Checkout.PlaceOrder(ctx, IdentityFrom(ctx), input)
	if err != nil {
		return encodeError(logger, err)
	}

	body, err := json.Marshal(successBody{
		Success: true,
		Data: checkoutResponse{
			Order:    orderRefJSON{ID: result.OrderID, OrderNumber: result.OrderNumber},
			Amount:   result.Total,
			Currency: result.Currency,
		},
	})
	if err != nil {
		return encodeError(logger, fmt.Errorf("encode checkout response: %w", err))
	}
	return http.StatusOK, body
}

// withIdempotency резервирует ключ, выполняет handler и сохраняет ответ.
// 4xx сохраняются как failed и отдаются повторно; после 5xx ключ
// освобождается, чтобы клиент мог повторить запрос.
func (s *Server) withIdempotency(w http.ResponseWriter, r *http.Request, key string, raw []byte, handler func() (int, []byte)) {
	logger := requestLogger(r).WithField("idempotency_key", key)
	repo := s.deps.Idempotency

	hash := domain.IdempotencyRequestHash(r.Method+" "+r.URL.Path, IdentityFrom(r.Context()).OwnerKey(), raw)
	record, err := repo.CreateProcessing(r.Context(), key, hash, s.now().UTC().Add(s.cfg.IdempotencyTTL))
	if err != nil {
		s.replayIdempotency(w, r, err, record)
		return
	}

	status, body := handler()

	storeCtx := context.WithoutCancel(r.Context())
	switch {
	case status >= http.StatusInternalServerError:
		if err := repo.Delete(storeCtx, key); err != nil {
			logger.WithError(err).Warn("failed to release idempotency key")
		}
	case status >= http.StatusBadRequest:
		if err := repo.MarkFailed(storeCtx, key, body, status); err != nil {
			logger.WithError(err).Warn("failed to store idempotency failure response")
		}
	default:
		if err := repo.MarkDone(storeCtx, key, body, status); err != nil {
			logger.WithError(err).Warn("failed to store idempotent success response")
		}
	}

	writeRaw(w, status, body)
}

func (s *Server) replayIdempotency(w http.ResponseWriter, r *http.Request, createErr error, record domain.IdempotencyRecord) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		writeError(w, r, createErr)
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch {
		case record.Status == domain.IdempotencyStatusProcessing:
			writeError(w, r, createErr)
		case record.Replayable():
			requestLogger(r).WithFields(log.Fields{
				"idempotency_key": record.Key,
				"status":          record.HTTPStatus,
			}).Info("replaying idempotent response")
			w.Header().Set(HeaderIdempotentReplay, "true")
			writeRaw(w, record.HTTPStatus, record.ResponseBody)
		default:
			writeError(w, r, fmt.Errorf("idempotency record %s has no stored response (status %q)", record.Key, record.Status))
		}
	default:
		writeError(w, r, fmt.Errorf("create idempotency record: %w", createErr))
	}
}
