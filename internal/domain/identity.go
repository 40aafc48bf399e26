package domain

import (
	"strings"

	"github.com/google/uuid"
)

// GuestTokenPrefix отличает гостевые ключи корзин от id пользователей.
const GuestTokenPrefix = "guest_"

// Identity — кто делает запрос: гость с токеном корзины или аутентифицированный
// пользователь (возможно, ещё с гостевым cookie от сессии до входа).
// Строится один раз на запрос и передаётся дальше без повторного разбора cookie.
type Identity struct {
	userID     string
	guestToken string
}

// Anonymous — запрос без сессии и без гостевого cookie.
func Anonymous() Identity {
	return Identity{}
}

// Guest создаёт гостевую идентичность.
func Guest(token string) Identity {
	return Identity{guestToken: strings.TrimSpace(token)}
}

// Authenticated создаёт идентичность пользователя; guestToken может быть пустым.
func Authenticated(userID, guestToken string) Identity {
	return Identity{userID: strings.TrimSpace(userID), guestToken: strings.TrimSpace(guestToken)}
}

// NewGuestToken выпускает новый гостевой ключ корзины.
func NewGuestToken() string {
	return GuestTokenPrefix + uuid.NewString()
}

// IsAuthenticated сообщает, есть ли у запроса пользователь.
func (id Identity) IsAuthenticated() bool {
	return id.userID != ""
}

// IsAnonymous — ни пользователя, ни гостевого токена.
func (id Identity) IsAnonymous() bool {
	return id.userID == "" && id.guestToken == ""
}

// UserID возвращает id пользователя ("" для гостя).
func (id Identity) UserID() string {
	return id.userID
}

// GuestToken возвращает гостевой токен ("" если cookie не было).
func (id Identity) GuestToken() string {
	return id.guestToken
}

// WithGuestToken возвращает копию с заменённым гостевым токеном.
func (id Identity) WithGuestToken(token string) Identity {
	id.guestToken = strings.TrimSpace(token)
	return id
}

// OwnerKey — ключ корзины, в которую пишут мутации: пользователь важнее гостя.
func (id Identity) OwnerKey() string {
	if id.userID != "" {
		return id.userID
	}
	return id.guestToken
}

// CartKeys — ключи для поиска корзины в порядке предпочтения.
func (id Identity) CartKeys() []string {
	keys := make([]string, 0, 2)
	if id.userID != "" {
		keys = append(keys, id.userID)
	}
	if id.guestToken != "" && id.guestToken != id.userID {
		keys = append(keys, id.guestToken)
	}
	return keys
}

// String для логов: не раскрываем гостевой токен целиком.
func (id Identity) String() string {
	switch {
	case id.userID != "":
		return "user:" + id.userID
	case id.guestToken != "":
		token := id.guestToken
		if len(token) > len(GuestTokenPrefix)+8 {
			token = token[:len(GuestTokenPrefix)+8]
		}
		return "guest:" + token
	default:
		return "anonymous"
	}
}
