package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func TestSessionRepository_LookupRespectsExpiry(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	users := memory.NewUserRepository(store)
	sessions := memory.NewSessionRepository(store)

	if err := users.Upsert(ctx, domain.User{ID: "user-1", Email: "a@example.com", EmailVerified: true}); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	user, err := users.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.Role != domain.UserRoleCustomer {
		t.Fatalf("expected default role CUSTOMER, got %s", user.Role)
	}

	now := time.Now().UTC()
	if err := sessions.Create(ctx, domain.Session{Token: "live", UserID: "user-1", ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := sessions.Create(ctx, domain.Session{Token: "stale", UserID: "user-1", ExpiresAt: now.Add(-time.Hour)}); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := sessions.Create(ctx, domain.Session{Token: "orphan", UserID: "nobody", ExpiresAt: now.Add(time.Hour)}); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	if s, err := sessions.Lookup(ctx, "live"); err != nil || s.UserID != "user-1" {
		t.Fatalf("lookup live: %+v, %v", s, err)
	}
	if _, err := sessions.Lookup(ctx, "stale"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for expired session, got %v", err)
	}
}
