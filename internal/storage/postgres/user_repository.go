package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type userRepository struct {
	db *sql.DB
}

// NewUserRepository создаёт PostgreSQL-реализацию UserRepository.
func NewUserRepository(store *Store) domain.UserRepository {
	return &userRepository{db: store.DB()}
}

func (r *userRepository) Get(ctx context.Context, id string) (domain.User, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	var (
		user domain.User
		role string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, name, email_verified, role, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id).Scan(&user.ID, &user.Email, &user.Name, &user.EmailVerified, &role, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("select user: %w", err)
	}
	user.Role = domain.UserRole(role)
	return user, nil
}

func (r *userRepository) Upsert(ctx context.Context, user domain.User) error {
	if user.ID == "" {
		return domain.ErrUserRequired
	}
	if user.Role == "" {
		user.Role = domain.UserRoleCustomer
	}

	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, email_verified, role, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$6)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			email_verified = EXCLUDED.email_verified,
			role = EXCLUDED.role,
			updated_at = EXCLUDED.updated_at
	`, user.ID, user.Email, user.Name, user.EmailVerified, string(user.Role), now); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

type sessionRepository struct {
	db *sql.DB
}

// NewSessionRepository создаёт PostgreSQL-реализацию SessionRepository.
func NewSessionRepository(store *Store) domain.SessionRepository {
	return &sessionRepository{db: store.DB()}
}

func (r *sessionRepository) Lookup(ctx context.Context, token string) (domain.Session, error) {
	if token == "" {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	var session domain.Session
	err := r.db.QueryRowContext(ctx, `
		SELECT token, user_id, expires_at, created_at
		FROM sessions
		WHERE token = $1 AND expires_at > NOW()
	`, token).Scan(&session.Token, &session.UserID, &session.ExpiresAt, &session.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Session{}, domain.ErrSessionNotFound
		}
		return domain.Session{}, fmt.Errorf("select session: %w", err)
	}
	return session, nil
}

func (r *sessionRepository) Create(ctx context.Context, session domain.Session) error {
	if session.Token == "" || session.UserID == "" {
		return domain.ErrSessionNotFound
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}

	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (token, user_id, expires_at, created_at)
		VALUES ($1,$2,$3,$4)
	`, session.Token, session.UserID, session.ExpiresAt, session.CreatedAt); err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrUserNotFound
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

var (
	_ domain.UserRepository    = (*userRepository)(nil)
	_ domain.SessionRepository = (*sessionRepository)(nil)
)
