package httpsvc

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const internalErrorMessage = "Internal server error"

type errorBody struct {
	Error  string              `json:"error"`
	Fields []domain.FieldError `json:"fields,omitempty"`
}

type successBody struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// statusFor сопоставляет доменную ошибку HTTP статусу и тексту для клиента.
// Неизвестные ошибки превращаются в 500 без подробностей.
func statusFor(err error) (int, errorBody) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest, errorBody{Error: "Invalid request", Fields: verr.Fields}
	}
	if stockErr, ok := domain.IsStockError(err); ok {
		return http.StatusBadRequest, errorBody{Error: stockErr.Error()}
	}

	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrShippingMethodInvalid):
		return http.StatusBadRequest, errorBody{Error: err.Error()}
	case errors.Is(err, domain.ErrEmptyCart):
		return http.StatusBadRequest, errorBody{Error: "Cart is empty"}
	case errors.Is(err, domain.ErrInsufficientStock), errors.Is(err, domain.ErrOutOfStock):
		return http.StatusBadRequest, errorBody{Error: err.Error()}
	case errors.Is(err, domain.ErrMergeRequiresGuestCart):
		return http.StatusBadRequest, errorBody{Error: err.Error()}
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, errorBody{Error: "Unauthorized"}
	case errors.Is(err, domain.ErrEmailNotVerified):
		return http.StatusForbidden, errorBody{Error: err.Error()}
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, errorBody{Error: "Forbidden"}
	case errors.Is(err, domain.ErrProductNotFound):
		return http.StatusNotFound, errorBody{Error: err.Error()}
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, errorBody{Error: "Order not found"}
	case errors.Is(err, domain.ErrCartItemNotFound):
		return http.StatusNotFound, errorBody{Error: "Cart item not found"}
	case errors.Is(err, domain.ErrInvalidStatusTransition),
		errors.Is(err, domain.ErrCartChanged),
		errors.Is(err, domain.ErrProductSlugTaken):
		return http.StatusConflict, errorBody{Error: err.Error()}
	case domain.IsVersionConflict(err):
		return http.StatusConflict, errorBody{Error: "Order was modified concurrently, reload and retry"}
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		return http.StatusConflict, errorBody{Error: "A request with this Idempotency-Key is already being processed"}
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return http.StatusUnprocessableEntity, errorBody{Error: "Idempotency-Key was already used with a different request"}
	default:
		return http.StatusInternalServerError, errorBody{Error: internalErrorMessage}
	}
}

// encodeError возвращает статус и сериализованное тело ошибки. 5xx
// логируются с причиной, клиент видит только общий текст.
func encodeError(logger *log.Entry, err error) (int, []byte) {
	status, body := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.WithError(err).Error("request failed")
	}
	raw, mErr := json.Marshal(body)
	if mErr != nil {
		return http.StatusInternalServerError, []byte(`{"error":"` + internalErrorMessage + `"}`)
	}
	return status, raw
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, raw := encodeError(requestLogger(r), err)
	writeRaw(w, status, raw)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, successBody{Success: true, Data: data})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		log.WithError(err).Error("failed to encode response")
		writeRaw(w, http.StatusInternalServerError, []byte(`{"error":"`+internalErrorMessage+`"}`))
		return
	}
	writeRaw(w, status, raw)
}

func writeRaw(w http.ResponseWriter, status int, raw []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}
