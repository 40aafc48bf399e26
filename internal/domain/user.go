package domain

import "time"

// UserRole — роль пользователя магазина.
type UserRole string

const (
	UserRoleCustomer UserRole = "CUSTOMER"
	UserRoleAdmin    UserRole = "ADMIN"
)

// User — учётная запись. Пароли и вход живут во внешнем сервисе аутентификации.
type User struct {
	ID            string
	Email         string
	Name          string
	EmailVerified bool
	Role          UserRole
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsAdmin сообщает, есть ли у пользователя права администратора.
func (u User) IsAdmin() bool {
	return u.Role == UserRoleAdmin
}

// Session — сессия, выданная сервисом аутентификации.
type Session struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired проверяет срок действия сессии.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
