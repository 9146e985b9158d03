package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gogotex/authsession/internal/config"
	"github.com/gogotex/authsession/internal/models"
	"github.com/gogotex/authsession/internal/password"
	"github.com/gogotex/authsession/internal/sessions"
	"github.com/gogotex/authsession/internal/tokens"
	"github.com/gogotex/authsession/internal/users"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const goodPassword = "Str0ng!pass"

var t0 = time.Unix(1_700_000_000, 0).UTC()

type fixture struct {
	now      time.Time
	codec    *tokens.Codec
	store    *sessions.MemoryRepository
	userRepo *users.MemoryUserRepository
	users    *users.Service
	svc      *Service
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{now: t0, store: sessions.NewMemoryRepository(), userRepo: users.NewMemoryUserRepository()}
	f.codec = tokens.NewCodec(config.JWTConfig{
		AccessSecret:    "access-secret-32-bytes-xxxxxxxxxxxx",
		RefreshSecret:   "refresh-secret-32-bytes-xxxxxxxxxxx",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 30 * 24 * time.Hour,
	}, tokens.WithClock(func() time.Time { return f.now }))
	f.users = users.NewService(f.userRepo)
	f.svc = NewService(f.users, f.store, f.codec, password.NewHasher(bcrypt.MinCost), opts)
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func (f *fixture) register(t *testing.T, email string) *Result {
	t.Helper()
	res, err := f.svc.Register(context.Background(), "Alice", email, goodPassword)
	require.NoError(t, err)
	return res
}

func requireKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, KindOf(err), "error: %v", err)
}

func TestRegister(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	res := f.register(t, " Alice@Example.com ")
	require.Equal(t, "alice@example.com", res.Principal.Email)
	require.Equal(t, models.RoleUser, res.Principal.Role)
	require.NotEmpty(t, res.AccessToken)
	require.NotEmpty(t, res.RefreshToken)
	require.Equal(t, t0.Add(15*time.Minute), res.AccessExpiresAt)
	require.Equal(t, t0.Add(30*24*time.Hour), res.RefreshExpiresAt)

	access, err := f.codec.VerifyAccess(res.AccessToken)
	require.NoError(t, err)
	require.Equal(t, res.Principal, access.Principal())

	rec, err := f.store.FindActive(ctx, res.Principal.ID, f.codec.Digest(res.RefreshToken))
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.NotEqual(t, res.RefreshToken, rec.TokenHash)

	_, err = f.svc.Register(ctx, "Other", "alice@example.com", goodPassword)
	requireKind(t, err, KindEmailTaken)
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegister_PasswordPolicy(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.svc.Register(context.Background(), "Bob", "bob@example.com", "weakpass")
	requireKind(t, err, KindValidation)
	var ae *Error
	require.True(t, errors.As(err, &ae))
	require.Contains(t, ae.Details, "password")
	require.Equal(t, 0, f.store.Len())
}

func TestLogin(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	reg := f.register(t, "alice@example.com")

	res, err := f.svc.Login(ctx, "ALICE@example.com", goodPassword)
	require.NoError(t, err)
	require.Equal(t, reg.Principal, res.Principal)

	_, errWrong := f.svc.Login(ctx, "alice@example.com", "Wr0ng!pass")
	requireKind(t, errWrong, KindInvalidCredentials)
	_, errUnknown := f.svc.Login(ctx, "nobody@example.com", goodPassword)
	requireKind(t, errUnknown, KindInvalidCredentials)
	// identical client-facing error for unknown email and bad password
	require.Equal(t, errWrong.(*Error).Message, errUnknown.(*Error).Message)

	// logging in again leaves the earlier session usable
	_, err = f.svc.Rotate(ctx, reg.RefreshToken)
	require.NoError(t, err)
	_, err = f.svc.Rotate(ctx, res.RefreshToken)
	require.NoError(t, err)
}

func TestLogin_FederatedAccount(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	_, err := f.svc.LoginFederated(ctx, map[string]interface{}{"sub": "oidc-1", "email": "fed@example.com", "name": "Fed"})
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, "fed@example.com", goodPassword)
	requireKind(t, err, KindWrongProvider)
}

func TestRotate(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	first := f.register(t, "alice@example.com")

	f.advance(time.Minute)
	second, err := f.svc.Rotate(ctx, first.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)
	require.NotEqual(t, first.AccessToken, second.AccessToken)
	require.Equal(t, first.Principal, second.Principal)

	// the rotated token is dead
	_, err = f.svc.Rotate(ctx, first.RefreshToken)
	requireKind(t, err, KindUnauthorized)

	third, err := f.svc.Rotate(ctx, second.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, third.RefreshToken)
}

func TestRotate_Concurrent(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	first := f.register(t, "alice@example.com")

	const n = 10
	var wg sync.WaitGroup
	results := make([]*Result, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.Rotate(ctx, first.RefreshToken)
		}(i)
	}
	wg.Wait()

	wins := 0
	for i := range errs {
		if errs[i] == nil {
			wins++
			_, err := f.svc.Rotate(ctx, results[i].RefreshToken)
			require.NoError(t, err, "winner's token must stay usable")
			continue
		}
		requireKind(t, errs[i], KindUnauthorized)
	}
	require.Equal(t, 1, wins)
}

func TestRotate_InvalidAndExpired(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	res := f.register(t, "alice@example.com")

	_, err := f.svc.Rotate(ctx, "garbage")
	requireKind(t, err, KindUnauthorized)

	// access tokens are not refresh tokens
	_, err = f.svc.Rotate(ctx, res.AccessToken)
	requireKind(t, err, KindUnauthorized)

	f.advance(30 * 24 * time.Hour)
	_, err = f.svc.Rotate(ctx, res.RefreshToken)
	requireKind(t, err, KindUnauthorized)
	require.ErrorIs(t, err, tokens.ErrExpired)
}

func TestRotate_ReloadsPrincipal(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	res := f.register(t, "alice@example.com")

	u, err := f.userRepo.GetByID(ctx, res.Principal.ID)
	require.NoError(t, err)
	u.Name = "Alice Renamed"
	u.Role = models.RoleAdmin
	require.NoError(t, f.userRepo.Update(ctx, u))

	// the old access token keeps its snapshot
	old, err := f.codec.VerifyAccess(res.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "Alice", old.Name)

	next, err := f.svc.Rotate(ctx, res.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, "Alice Renamed", next.Principal.Name)
	require.Equal(t, models.RoleAdmin, next.Principal.Role)
}

func TestRotate_AfterLogout(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	res := f.register(t, "alice@example.com")

	require.NoError(t, f.svc.Logout(ctx, res.Principal.ID, res.RefreshToken))
	_, err := f.svc.Rotate(ctx, res.RefreshToken)
	requireKind(t, err, KindUnauthorized)
}

func TestLogout_NoOps(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	alice := f.register(t, "alice@example.com")
	bob, err := f.svc.Register(ctx, "Bob", "bob@example.com", goodPassword)
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, alice.Principal.ID, ""))
	require.NoError(t, f.svc.Logout(ctx, alice.Principal.ID, "garbage"))
	require.NoError(t, f.svc.Logout(ctx, "", "garbage"))

	// bob's token presented under alice's subject does nothing
	require.NoError(t, f.svc.Logout(ctx, alice.Principal.ID, bob.RefreshToken))
	_, err = f.svc.Rotate(ctx, bob.RefreshToken)
	require.NoError(t, err)

	// stale token: logging out twice succeeds
	require.NoError(t, f.svc.Logout(ctx, "", alice.RefreshToken))
	require.NoError(t, f.svc.Logout(ctx, "", alice.RefreshToken))
	_, err = f.svc.Rotate(ctx, alice.RefreshToken)
	requireKind(t, err, KindUnauthorized)
}

func TestLogoutAll(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	a := f.register(t, "alice@example.com")
	b, err := f.svc.Login(ctx, "alice@example.com", goodPassword)
	require.NoError(t, err)

	n, err := f.svc.LogoutAll(ctx, a.Principal.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	for _, tok := range []string{a.RefreshToken, b.RefreshToken} {
		_, err := f.svc.Rotate(ctx, tok)
		requireKind(t, err, KindUnauthorized)
	}
}

func TestReuse_WithoutContainment(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	first := f.register(t, "alice@example.com")
	second, err := f.svc.Rotate(ctx, first.RefreshToken)
	require.NoError(t, err)

	_, err = f.svc.Rotate(ctx, first.RefreshToken)
	requireKind(t, err, KindUnauthorized)

	// the legitimate successor is untouched
	_, err = f.svc.Rotate(ctx, second.RefreshToken)
	require.NoError(t, err)
}

func TestReuse_WithContainment(t *testing.T) {
	f := newFixture(t, Options{ReuseContainment: true})
	ctx := context.Background()
	first := f.register(t, "alice@example.com")
	second, err := f.svc.Rotate(ctx, first.RefreshToken)
	require.NoError(t, err)

	_, err = f.svc.Rotate(ctx, first.RefreshToken)
	requireKind(t, err, KindUnauthorized)

	_, err = f.svc.Rotate(ctx, second.RefreshToken)
	requireKind(t, err, KindUnauthorized)
}

func TestRotate_FullTTLByDefault(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	res := f.register(t, "alice@example.com")

	f.advance(10 * 24 * time.Hour)
	next, err := f.svc.Rotate(ctx, res.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, f.now.Add(30*24*time.Hour), next.RefreshExpiresAt)
}

func TestRotate_AbsoluteLifetimeCap(t *testing.T) {
	f := newFixture(t, Options{AbsoluteTTL: 15 * 24 * time.Hour})
	ctx := context.Background()
	res := f.register(t, "alice@example.com")
	require.Equal(t, t0.Add(15*24*time.Hour), res.RefreshExpiresAt)

	f.advance(10 * 24 * time.Hour)
	next, err := f.svc.Rotate(ctx, res.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, t0.Add(15*24*time.Hour), next.RefreshExpiresAt)

	rec, err := f.store.FindActive(ctx, next.Principal.ID, f.codec.Digest(next.RefreshToken))
	require.NoError(t, err)
	require.Equal(t, t0, rec.SessionStartedAt)
}

func TestRotate_AbsoluteLifetimeExceeded(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	res := f.register(t, "alice@example.com")

	// the cap is switched on after the session started
	capped := NewService(f.users, f.store, f.codec, password.NewHasher(bcrypt.MinCost), Options{AbsoluteTTL: 24 * time.Hour})
	f.advance(48 * time.Hour)
	_, err := capped.Rotate(ctx, res.RefreshToken)
	requireKind(t, err, KindUnauthorized)
	require.Contains(t, err.(*Error).Message, "lifetime")

	rec, err := f.store.FindActive(ctx, res.Principal.ID, f.codec.Digest(res.RefreshToken))
	require.NoError(t, err)
	require.Nil(t, rec, "record past the absolute lifetime is revoked")
}

func TestRotate_UserDeleted(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	res := f.register(t, "alice@example.com")

	svc := NewService(&missingUsers{Users: f.users}, f.store, f.codec, password.NewHasher(bcrypt.MinCost), Options{})
	_, err := svc.Rotate(ctx, res.RefreshToken)
	requireKind(t, err, KindUnauthorized)
}

func TestStoreFailure_IsInternal(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	res := f.register(t, "alice@example.com")

	svc := NewService(f.users, &failingStore{Store: f.store}, f.codec, password.NewHasher(bcrypt.MinCost), Options{})
	_, err := svc.Rotate(ctx, res.RefreshToken)
	requireKind(t, err, KindInternal)
	require.ErrorIs(t, err, errStoreDown)

	err = svc.Logout(ctx, res.Principal.ID, res.RefreshToken)
	requireKind(t, err, KindInternal)

	_, err = svc.Login(ctx, "alice@example.com", goodPassword)
	requireKind(t, err, KindInternal)
}

func TestIssueForSubjectAndMe(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	reg := f.register(t, "alice@example.com")

	res, err := f.svc.IssueForSubject(ctx, reg.Principal.ID)
	require.NoError(t, err)
	require.Equal(t, reg.Principal, res.Principal)

	_, err = f.svc.IssueForSubject(ctx, "nope")
	requireKind(t, err, KindUnauthorized)

	u, err := f.svc.Me(ctx, reg.Principal.ID)
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", u.Email)

	_, err = f.svc.Me(ctx, "nope")
	requireKind(t, err, KindUnauthorized)
}

func TestLoginFederated(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	res, err := f.svc.LoginFederated(ctx, map[string]interface{}{"sub": "g-1", "email": "g@example.com"})
	require.NoError(t, err)
	require.Equal(t, "g@example.com", res.Principal.Name)

	again, err := f.svc.LoginFederated(ctx, map[string]interface{}{"sub": "g-1", "email": "g@example.com"})
	require.NoError(t, err)
	require.Equal(t, res.Principal.ID, again.Principal.ID)

	_, err = f.svc.LoginFederated(ctx, map[string]interface{}{"email": "g@example.com"})
	requireKind(t, err, KindUnauthorized)
}

type missingUsers struct{ Users }

func (m *missingUsers) GetByID(ctx context.Context, id string) (*models.User, error) { return nil, nil }

var errStoreDown = errors.New("store down")

type failingStore struct{ sessions.Store }

func (f *failingStore) Create(ctx context.Context, rec *sessions.RefreshRecord) error {
	return errStoreDown
}

func (f *failingStore) FindActive(ctx context.Context, subjectID, digest string) (*sessions.RefreshRecord, error) {
	return nil, errStoreDown
}
