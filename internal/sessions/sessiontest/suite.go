// Package sessiontest holds a behavioural test suite shared by every sessions.Store backend.
package sessiontest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gogotex/authsession/internal/sessions"
	"github.com/stretchr/testify/require"
)

type Suite struct {
	// New returns an empty store.
	New func(t *testing.T) sessions.Store
	// Sweeps is false for backends that expire records natively and report 0 from DeleteExpired.
	Sweeps bool
}

func record(subject, digest string, ttl time.Duration) *sessions.RefreshRecord {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return sessions.NewRecord(subject, digest, now.Add(ttl), now, time.Time{})
}

func (s Suite) Run(t *testing.T) {
	t.Run("CreateFindRevoke", s.testCreateFindRevoke)
	t.Run("RevokeAllForSubject", s.testRevokeAll)
	t.Run("Rotate", s.testRotate)
	t.Run("ConcurrentRotate", s.testConcurrentRotate)
	t.Run("ConcurrentRevoke", s.testConcurrentRevoke)
	t.Run("DeleteExpired", s.testDeleteExpired)
}

func (s Suite) testCreateFindRevoke(t *testing.T) {
	ctx := context.Background()
	st := s.New(t)
	rec := record("sub-1", "digest-1", time.Hour)
	require.NoError(t, st.Create(ctx, rec))

	got, err := st.FindActive(ctx, "sub-1", "digest-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, rec.ID, got.ID)
	require.Equal(t, rec.SubjectID, got.SubjectID)
	require.False(t, got.Revoked)
	require.True(t, rec.ExpiresAt.Equal(got.ExpiresAt), "expiresAt %v != %v", rec.ExpiresAt, got.ExpiresAt)
	require.True(t, rec.SessionStartedAt.Equal(got.SessionStartedAt))

	other, err := st.FindActive(ctx, "sub-2", "digest-1")
	require.NoError(t, err)
	require.Nil(t, other)

	require.NoError(t, st.Revoke(ctx, rec.ID))
	got, err = st.FindActive(ctx, "sub-1", "digest-1")
	require.NoError(t, err)
	require.Nil(t, got)

	// idempotent, and unknown ids are not an error
	require.NoError(t, st.Revoke(ctx, rec.ID))
	require.NoError(t, st.Revoke(ctx, "does-not-exist"))
}

func (s Suite) testRevokeAll(t *testing.T) {
	ctx := context.Background()
	st := s.New(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, st.Create(ctx, record("sub-a", fmt.Sprintf("a-%d", i), time.Hour)))
	}
	require.NoError(t, st.Create(ctx, record("sub-b", "b-0", time.Hour)))

	n, err := st.RevokeAllForSubject(ctx, "sub-a")
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	for i := 0; i < 3; i++ {
		got, err := st.FindActive(ctx, "sub-a", fmt.Sprintf("a-%d", i))
		require.NoError(t, err)
		require.Nil(t, got)
	}
	got, err := st.FindActive(ctx, "sub-b", "b-0")
	require.NoError(t, err)
	require.NotNil(t, got)

	n, err = st.RevokeAllForSubject(ctx, "sub-a")
	require.NoError(t, err)
	require.EqualValues(t, 0, n)
}

func (s Suite) testRotate(t *testing.T) {
	ctx := context.Background()
	st := s.New(t)
	old := record("sub-r", "old", time.Hour)
	require.NoError(t, st.Create(ctx, old))

	next := record("sub-r", "next", time.Hour)
	require.NoError(t, st.Rotate(ctx, old.ID, next))

	got, err := st.FindActive(ctx, "sub-r", "old")
	require.NoError(t, err)
	require.Nil(t, got)
	got, err = st.FindActive(ctx, "sub-r", "next")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, next.ID, got.ID)

	// replaying the old record creates nothing
	again := record("sub-r", "again", time.Hour)
	err = st.Rotate(ctx, old.ID, again)
	require.True(t, errors.Is(err, sessions.ErrNotActive), "got %v", err)
	got, err = st.FindActive(ctx, "sub-r", "again")
	require.NoError(t, err)
	require.Nil(t, got)

	err = st.Rotate(ctx, "missing", record("sub-r", "orphan", time.Hour))
	require.ErrorIs(t, err, sessions.ErrNotActive)
}

func (s Suite) testConcurrentRotate(t *testing.T) {
	ctx := context.Background()
	st := s.New(t)
	old := record("sub-c", "shared", time.Hour)
	require.NoError(t, st.Create(ctx, old))

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = st.Rotate(ctx, old.ID, record("sub-c", fmt.Sprintf("next-%d", i), time.Hour))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, err, sessions.ErrNotActive)
	}
	require.Equal(t, 1, wins)

	active := 0
	for i := 0; i < n; i++ {
		got, err := st.FindActive(ctx, "sub-c", fmt.Sprintf("next-%d", i))
		require.NoError(t, err)
		if got != nil {
			active++
		}
	}
	require.Equal(t, 1, active)
}

func (s Suite) testConcurrentRevoke(t *testing.T) {
	ctx := context.Background()
	st := s.New(t)
	rec := record("sub-x", "x", time.Hour)
	require.NoError(t, st.Create(ctx, rec))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = st.Revoke(ctx, rec.ID)
		}(i)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	got, err := st.FindActive(ctx, "sub-x", "x")
	require.NoError(t, err)
	require.Nil(t, got)
}

func (s Suite) testDeleteExpired(t *testing.T) {
	ctx := context.Background()
	st := s.New(t)
	live := record("sub-e", "live", time.Hour)
	require.NoError(t, st.Create(ctx, live))

	n, err := st.DeleteExpired(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.EqualValues(t, 0, n)

	if !s.Sweeps {
		return
	}
	n, err = st.DeleteExpired(ctx, time.Now().UTC().Add(2*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	got, err := st.FindActive(ctx, "sub-e", "live")
	require.NoError(t, err)
	require.Nil(t, got)
}
