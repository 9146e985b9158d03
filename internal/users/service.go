package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gogotex/authsession/internal/models"
	"github.com/gogotex/authsession/internal/password"
	"github.com/google/uuid"
)

// ErrEmailTaken is returned when registering an email that already has an account.
var ErrEmailTaken = errors.New("email already registered")

// Service encapsulates user-related business logic
type Service struct {
	repo UserRepository
}

func NewService(r UserRepository) *Service {
	return &Service{repo: r}
}

// CreateLocal registers a password user. Email is normalized before the uniqueness check.
func (s *Service) CreateLocal(ctx context.Context, name, email, passwordHash string) (*models.User, error) {
	email = password.NormalizeEmail(email)
	existing, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}
	now := time.Now().UTC()
	u := &models.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		Role:         models.RoleUser,
		Provider:     models.ProviderLocal,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return u, nil
}

// UpsertFromClaims finds or creates a federated user from OIDC claims.
// A user is matched by subject first, then by email; an email match is
// linked to the subject and switched to the OIDC provider.
// Returns (nil, nil) when claims carry no sub or email.
func (s *Service) UpsertFromClaims(ctx context.Context, claims map[string]interface{}) (*models.User, error) {
	sub, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)
	email = password.NormalizeEmail(email)
	if sub == "" || email == "" {
		return nil, nil
	}
	if name == "" {
		name = email
	}

	u, err := s.repo.GetBySub(ctx, sub)
	if err != nil || u != nil {
		return u, err
	}

	u, err = s.repo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u != nil {
		u.Sub = sub
		u.Provider = models.ProviderOIDC
		if u.Name == "" {
			u.Name = name
		}
		if err := s.repo.Update(ctx, u); err != nil {
			return nil, fmt.Errorf("link federated user: %w", err)
		}
		return u, nil
	}

	now := time.Now().UTC()
	u = &models.User{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     email,
		Role:      models.RoleUser,
		Provider:  models.ProviderOIDC,
		Sub:       sub,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, fmt.Errorf("create federated user: %w", err)
	}
	return u, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (*models.User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.repo.GetByEmail(ctx, password.NormalizeEmail(email))
}
