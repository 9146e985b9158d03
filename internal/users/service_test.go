package users

import (
	"context"
	"errors"
	"testing"

	"github.com/gogotex/authsession/internal/models"
)

// fakeRepo wraps the memory repository and records the last write.
type fakeRepo struct {
	*MemoryUserRepository
	lastCreate *models.User
	lastUpdate *models.User
	createErr  error
}

func newFakeRepo() *fakeRepo { return &fakeRepo{MemoryUserRepository: NewMemoryUserRepository()} }

func (f *fakeRepo) Create(ctx context.Context, u *models.User) error {
	f.lastCreate = u
	if f.createErr != nil {
		return f.createErr
	}
	return f.MemoryUserRepository.Create(ctx, u)
}

func (f *fakeRepo) Update(ctx context.Context, u *models.User) error {
	f.lastUpdate = u
	return f.MemoryUserRepository.Update(ctx, u)
}

func TestCreateLocal(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	ctx := context.Background()

	u, err := svc.CreateLocal(ctx, "Alice", "  Alice@Example.com ", "hash")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Email != "alice@example.com" {
		t.Fatalf("email not normalized: %q", u.Email)
	}
	if u.ID == "" || u.Role != models.RoleUser || u.Provider != models.ProviderLocal {
		t.Fatalf("unexpected user: %+v", u)
	}
	if u.CreatedAt.IsZero() || u.UpdatedAt.IsZero() {
		t.Fatalf("expected timestamps to be set")
	}

	if _, err := svc.CreateLocal(ctx, "Other", "ALICE@example.com", "hash"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestCreateLocal_DuplicateOnInsert(t *testing.T) {
	repo := newFakeRepo()
	repo.createErr = ErrDuplicate
	svc := NewService(repo)
	if _, err := svc.CreateLocal(context.Background(), "Bob", "bob@example.com", "h"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken from racing insert, got %v", err)
	}
}

func TestUpsertFromClaims(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	ctx := context.Background()
	claims := map[string]interface{}{
		"sub":   "sub-123",
		"email": "x@example.com",
		"name":  "X User",
	}

	u, err := svc.UpsertFromClaims(ctx, claims)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u == nil {
		t.Fatal("expected user, got nil")
	}
	if u.Sub != "sub-123" || u.Email != "x@example.com" || u.Name != "X User" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if u.Provider != models.ProviderOIDC || u.PasswordHash != "" {
		t.Fatalf("federated users have no password: %+v", u)
	}
	if repo.lastCreate == nil {
		t.Fatal("expected repository Create to be called")
	}

	// second login with the same subject returns the same user
	again, err := svc.UpsertFromClaims(ctx, claims)
	if err != nil || again == nil || again.ID != u.ID {
		t.Fatalf("expected same user, got %+v err=%v", again, err)
	}

	// missing sub => returns nil
	u2, err := svc.UpsertFromClaims(ctx, map[string]interface{}{"email": "y@e.com"})
	if err != nil {
		t.Fatalf("unexpected error on missing sub: %v", err)
	}
	if u2 != nil {
		t.Fatalf("expected nil when sub missing, got: %v", u2)
	}
}

func TestUpsertFromClaims_LinksExistingEmail(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	ctx := context.Background()

	local, err := svc.CreateLocal(ctx, "Carol", "carol@example.com", "hash")
	if err != nil {
		t.Fatalf("create local: %v", err)
	}

	u, err := svc.UpsertFromClaims(ctx, map[string]interface{}{"sub": "g-1", "email": "Carol@Example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.ID != local.ID {
		t.Fatalf("expected the local account to be linked, got new id %s", u.ID)
	}
	if repo.lastUpdate == nil || u.Sub != "g-1" || u.Provider != models.ProviderOIDC {
		t.Fatalf("expected link update, got %+v", u)
	}

	bySub, _ := repo.GetBySub(ctx, "g-1")
	if bySub == nil || bySub.ID != local.ID {
		t.Fatalf("linked user not found by sub")
	}
}
