package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// MaxIdempotencyKeyLen — предел длины заголовка Idempotency-Key.
const MaxIdempotencyKeyLen = 255

// IdempotencyStatus описывает жизненный цикл ключа идемпотентности.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing означает, что запрос принят и ещё обрабатывается.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone означает, что запрос завершён и ответ сохранён.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed означает, что обработка завершилась ошибкой, ответ тоже сохранён.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// IdempotencyRecord хранит состояние обработки запроса с Idempotency-Key.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// Completed — ответ сохранён и его можно отдать повторно.
func (r IdempotencyRecord) Completed() bool {
	return r.Status == IdempotencyStatusDone || r.Status == IdempotencyStatusFailed
}

// Expired проверяет TTL записи.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.TTLAt.IsZero() && !r.TTLAt.After(now)
}

// Replayable — сохранённый ответ полон и его можно вернуть клиенту.
func (r IdempotencyRecord) Replayable() bool {
	return r.Completed() && r.HTTPStatus > 0 && len(r.ResponseBody) > 0
}

// ValidateIdempotencyKey проверяет ключ клиента: непустой, не длиннее
// MaxIdempotencyKeyLen, только печатные ASCII-символы.
func ValidateIdempotencyKey(key string) error {
	switch {
	case key == "":
		return ErrIdempotencyKeyRequired
	case len(key) > MaxIdempotencyKeyLen:
		verr := &ValidationError{}
		verr.Add("Idempotency-Key", "is too long")
		return verr
	}
	for i := 0; i < len(key); i++ {
		if key[i] < 0x20 || key[i] > 0x7e {
			verr := &ValidationError{}
			verr.Add("Idempotency-Key", "must contain printable ASCII characters only")
			return verr
		}
	}
	return nil
}

// IdempotencyRequestHash — sha256 от маршрута, владельца и тела запроса.
// Ключ, повторённый другим покупателем, даёт расхождение хэша.
func IdempotencyRequestHash(route, owner string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(route))
	h.Write([]byte{':'})
	h.Write([]byte(owner))
	h.Write([]byte{':'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
