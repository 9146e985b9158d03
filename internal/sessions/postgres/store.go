// Package postgres stores refresh records in PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gogotex/authsession/internal/sessions"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store implements sessions.Store on the refresh_tokens table.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insert(ctx context.Context, q querier, rec *sessions.RefreshRecord) error {
	const op = "sessions.postgres.insert"
	_, err := q.Exec(ctx, `
		INSERT INTO refresh_tokens (id, subject_id, token_hash, revoked, expires_at, created_at, session_started_at)
		VALUES ($1, $2, $3, FALSE, $4, $5, $6)
	`, rec.ID, rec.SubjectID, rec.TokenHash, rec.ExpiresAt, rec.CreatedAt, rec.SessionStartedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%s: %w", op, sessions.ErrDuplicate)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, rec *sessions.RefreshRecord) error {
	return insert(ctx, s.pool, rec)
}

func (s *Store) FindActive(ctx context.Context, subjectID, digest string) (*sessions.RefreshRecord, error) {
	const op = "sessions.postgres.FindActive"
	var rec sessions.RefreshRecord
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, subject_id, token_hash, revoked, expires_at, created_at, session_started_at
		FROM refresh_tokens
		WHERE subject_id = $1 AND token_hash = $2 AND revoked = FALSE
	`, subjectID, digest).Scan(
		&rec.ID,
		&rec.SubjectID,
		&rec.TokenHash,
		&rec.Revoked,
		&rec.ExpiresAt,
		&rec.CreatedAt,
		&rec.SessionStartedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.SessionStartedAt = rec.SessionStartedAt.UTC()
	return &rec, nil
}

// validID reports whether id can name a row. Anything else matches nothing
// and is answered without a round trip, keeping the id = $1::uuid lookups on the primary key.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Revoke is idempotent: the WHERE clause never touches an already revoked row.
func (s *Store) Revoke(ctx context.Context, id string) error {
	const op = "sessions.postgres.Revoke"
	if !validID(id) {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE id = $1::uuid AND revoked = FALSE`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Store) RevokeAllForSubject(ctx context.Context, subjectID string) (int64, error) {
	const op = "sessions.postgres.RevokeAllForSubject"
	tag, err := s.pool.Exec(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE subject_id = $1 AND revoked = FALSE`, subjectID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return tag.RowsAffected(), nil
}

// Rotate revokes oldID and inserts next in one transaction. A concurrent
// rotation of the same row blocks on the row lock and then matches zero rows.
func (s *Store) Rotate(ctx context.Context, oldID string, next *sessions.RefreshRecord) error {
	const op = "sessions.postgres.Rotate"
	if !validID(oldID) {
		return sessions.ErrNotActive
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE id = $1::uuid AND revoked = FALSE`, oldID)
	if err != nil {
		return fmt.Errorf("%s: revoke: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return sessions.ErrNotActive
	}
	if err := insert(ctx, tx, next); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const op = "sessions.postgres.DeleteExpired"
	tag, err := s.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return tag.RowsAffected(), nil
}
