package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryRepository is an in-process Store used for development and tests.
type MemoryRepository struct {
	mu       sync.Mutex
	byID     map[string]*RefreshRecord
	byDigest map[string]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:     make(map[string]*RefreshRecord),
		byDigest: make(map[string]string),
	}
}

func (m *MemoryRepository) Create(ctx context.Context, rec *RefreshRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(rec)
}

func (m *MemoryRepository) insertLocked(rec *RefreshRecord) error {
	if _, ok := m.byID[rec.ID]; ok {
		return fmt.Errorf("memory store: id %s: %w", rec.ID, ErrDuplicate)
	}
	if _, ok := m.byDigest[rec.TokenHash]; ok {
		return fmt.Errorf("memory store: token hash: %w", ErrDuplicate)
	}
	cp := *rec
	m.byID[rec.ID] = &cp
	m.byDigest[rec.TokenHash] = rec.ID
	return nil
}

func (m *MemoryRepository) FindActive(ctx context.Context, subjectID, digest string) (*RefreshRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byDigest[digest]
	if !ok {
		return nil, nil
	}
	rec := m.byID[id]
	if rec == nil || rec.Revoked || rec.SubjectID != subjectID {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryRepository) Revoke(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.byID[id]; ok {
		rec.Revoked = true
	}
	return nil
}

func (m *MemoryRepository) RevokeAllForSubject(ctx context.Context, subjectID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, rec := range m.byID {
		if rec.SubjectID == subjectID && !rec.Revoked {
			rec.Revoked = true
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepository) Rotate(ctx context.Context, oldID string, next *RefreshRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.byID[oldID]
	if !ok || old.Revoked {
		return ErrNotActive
	}
	if err := m.insertLocked(next); err != nil {
		return err
	}
	old.Revoked = true
	return nil
}

func (m *MemoryRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, rec := range m.byID {
		if !now.Before(rec.ExpiresAt) {
			delete(m.byID, id)
			delete(m.byDigest, rec.TokenHash)
			n++
		}
	}
	return n, nil
}

// Len reports the number of stored records.
func (m *MemoryRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}
