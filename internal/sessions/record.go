package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotActive is returned by Rotate when the record to replace is revoked or missing.
	ErrNotActive = errors.New("refresh record not active")
	// ErrDuplicate is returned when a record id or token hash already exists.
	ErrDuplicate = errors.New("refresh record already exists")
)

// RefreshRecord is the server-side state of one refresh token.
// The raw token is never stored, only its digest.
type RefreshRecord struct {
	ID               string    `bson:"_id" json:"id"`
	SubjectID        string    `bson:"subjectId" json:"subjectId"`
	TokenHash        string    `bson:"tokenHash" json:"tokenHash"`
	Revoked          bool      `bson:"revoked" json:"revoked"`
	ExpiresAt        time.Time `bson:"expiresAt" json:"expiresAt"`
	CreatedAt        time.Time `bson:"createdAt" json:"createdAt"`
	SessionStartedAt time.Time `bson:"sessionStartedAt" json:"sessionStartedAt"`
}

// NewRecord builds an unrevoked record. A zero startedAt means the session starts now.
func NewRecord(subjectID, digest string, expiresAt, now, startedAt time.Time) *RefreshRecord {
	if startedAt.IsZero() {
		startedAt = now
	}
	return &RefreshRecord{
		ID:               uuid.NewString(),
		SubjectID:        subjectID,
		TokenHash:        digest,
		ExpiresAt:        expiresAt.UTC(),
		CreatedAt:        now.UTC(),
		SessionStartedAt: startedAt.UTC(),
	}
}

// Store persists refresh records.
//
// Revoke is idempotent and never un-revokes. Rotate atomically revokes the
// active record oldID and creates next; when oldID is not active it returns
// ErrNotActive and creates nothing. FindActive returns (nil, nil) when no
// unrevoked record matches.
type Store interface {
	Create(ctx context.Context, rec *RefreshRecord) error
	FindActive(ctx context.Context, subjectID, digest string) (*RefreshRecord, error)
	Revoke(ctx context.Context, id string) error
	RevokeAllForSubject(ctx context.Context, subjectID string) (int64, error)
	Rotate(ctx context.Context, oldID string, next *RefreshRecord) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
