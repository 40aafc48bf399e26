package memory

import (
	"context"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type userRepositoryInMemory struct {
	store *Store
}

// NewUserRepository создаёт in-memory реализацию UserRepository.
func NewUserRepository(store *Store) domain.UserRepository {
	return &userRepositoryInMemory{store: store}
}

func (r *userRepositoryInMemory) Get(ctx context.Context, id string) (domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, err
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	user, ok := r.store.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}

func (r *userRepositoryInMemory) Upsert(ctx context.Context, user domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(user.ID) == "" {
		return domain.ErrUserRequired
	}
	if user.Role == "" {
		user.Role = domain.UserRoleCustomer
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	now := r.store.now()
	if existing, ok := r.store.users[user.ID]; ok {
		user.CreatedAt = existing.CreatedAt
	} else if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	r.store.users[user.ID] = user
	return nil
}

type sessionRepositoryInMemory struct {
	store *Store
}

// NewSessionRepository создаёт in-memory реализацию SessionRepository.
func NewSessionRepository(store *Store) domain.SessionRepository {
	return &sessionRepositoryInMemory{store: store}
}

func (r *sessionRepositoryInMemory) Lookup(ctx context.Context, token string) (domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return domain.Session{}, err
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	session, ok := r.store.sessions[token]
	if !ok || token == "" || session.Expired(r.store.now()) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (r *sessionRepositoryInMemory) Create(ctx context.Context, session domain.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if session.Token == "" || session.UserID == "" {
		return domain.ErrSessionNotFound
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.users[session.UserID]; !ok {
		return domain.ErrUserNotFound
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = r.store.now()
	}
	r.store.sessions[session.Token] = session
	return nil
}

var (
	_ domain.UserRepository    = (*userRepositoryInMemory)(nil)
	_ domain.SessionRepository = (*sessionRepositoryInMemory)(nil)
)
