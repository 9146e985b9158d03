package users

import (
	"context"
	"sync"
	"time"

	"github.com/gogotex/authsession/internal/models"
)

// MemoryUserRepository keeps users in process; used for development and tests.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	store map[string]*models.User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{store: make(map[string]*models.User)}
}

func (m *MemoryUserRepository) Create(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.store {
		if existing.Email == u.Email || (u.Sub != "" && existing.Sub == u.Sub) {
			return ErrDuplicate
		}
	}
	cp := *u
	m.store[u.ID] = &cp
	return nil
}

func (m *MemoryUserRepository) Update(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[u.ID]; !ok {
		return nil
	}
	u.UpdatedAt = time.Now().UTC()
	cp := *u
	m.store[u.ID] = &cp
	return nil
}

func (m *MemoryUserRepository) find(match func(*models.User) bool) *models.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.store {
		if match(u) {
			cp := *u
			return &cp
		}
	}
	return nil
}

func (m *MemoryUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.ID == id }), nil
}

func (m *MemoryUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.Email == email }), nil
}

func (m *MemoryUserRepository) GetBySub(ctx context.Context, sub string) (*models.User, error) {
	if sub == "" {
		return nil, nil
	}
	return m.find(func(u *models.User) bool { return u.Sub == sub }), nil
}
