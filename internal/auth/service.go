// Package auth issues, rotates and revokes access/refresh token pairs.
//
// A refresh token moves through issued -> active -> rotated | revoked | expired.
// Terminal states never become active again: presenting a rotated or revoked
// token is treated as reuse and always fails.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/gogotex/authsession/internal/models"
	"github.com/gogotex/authsession/internal/password"
	"github.com/gogotex/authsession/internal/sessions"
	"github.com/gogotex/authsession/internal/tokens"
	"github.com/gogotex/authsession/internal/users"
	"github.com/gogotex/authsession/pkg/logger"
	"github.com/gogotex/authsession/pkg/metrics"
)

// Users is the principal storage the service depends on. *users.Service satisfies it.
type Users interface {
	CreateLocal(ctx context.Context, name, email, passwordHash string) (*models.User, error)
	UpsertFromClaims(ctx context.Context, claims map[string]interface{}) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

type PasswordHasher interface {
	Hash(plain string) (string, error)
	Compare(hash, plain string) error
}

type Options struct {
	// AbsoluteTTL caps every refresh record at session start + AbsoluteTTL. Zero disables the cap
	// and each rotation grants a full refresh TTL.
	AbsoluteTTL time.Duration
	// ReuseContainment revokes every session of a subject when a rotated or revoked token is presented.
	ReuseContainment bool
}

// Result is a freshly minted token pair and the principal it was minted for.
type Result struct {
	Principal        models.Principal
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

type Service struct {
	users  Users
	store  sessions.Store
	codec  *tokens.Codec
	hasher PasswordHasher
	opts   Options
}

func NewService(u Users, store sessions.Store, codec *tokens.Codec, hasher PasswordHasher, opts Options) *Service {
	return &Service{users: u, store: store, codec: codec, hasher: hasher, opts: opts}
}

// Register creates a local account and logs it in.
func (s *Service) Register(ctx context.Context, name, email, plain string) (res *Result, err error) {
	defer func() { observe("register", err) }()

	if perr := password.Validate(plain); perr != nil {
		return nil, Validation(map[string]string{"password": perr.Error()})
	}
	hash, err := s.hasher.Hash(plain)
	if err != nil {
		return nil, internal(err)
	}
	u, err := s.users.CreateLocal(ctx, name, email, hash)
	if err != nil {
		if errors.Is(err, users.ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		return nil, internal(err)
	}
	return s.issue(ctx, u)
}

// Login checks a password and opens a new session. Other sessions of the
// user are left alone.
func (s *Service) Login(ctx context.Context, email, plain string) (res *Result, err error) {
	defer func() { observe("login", err) }()

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, internal(err)
	}
	if u == nil {
		return nil, ErrInvalidCredentials
	}
	if u.Provider == models.ProviderOIDC || u.PasswordHash == "" {
		return nil, ErrWrongProvider
	}
	if cerr := s.hasher.Compare(u.PasswordHash, plain); cerr != nil {
		if errors.Is(cerr, password.ErrMismatch) {
			return nil, ErrInvalidCredentials
		}
		return nil, internal(cerr)
	}
	return s.issue(ctx, u)
}

// IssueForSubject mints a pair without a password check, for identity
// hand-offs that were authenticated elsewhere.
func (s *Service) IssueForSubject(ctx context.Context, subjectID string) (*Result, error) {
	u, err := s.users.GetByID(ctx, subjectID)
	if err != nil {
		return nil, internal(err)
	}
	if u == nil {
		return nil, unauthorized("User not found", nil)
	}
	return s.issue(ctx, u)
}

// LoginFederated maps verified identity-provider claims to a user and issues a pair.
func (s *Service) LoginFederated(ctx context.Context, claims map[string]interface{}) (res *Result, err error) {
	defer func() { observe("federated", err) }()

	u, err := s.users.UpsertFromClaims(ctx, claims)
	if err != nil {
		return nil, internal(err)
	}
	if u == nil {
		return nil, unauthorized("Identity token lacks subject or email", nil)
	}
	return s.issue(ctx, u)
}

func (s *Service) issue(ctx context.Context, u *models.User) (*Result, error) {
	now := s.codec.Now()
	expiresAt := now.Add(s.codec.RefreshTTL())
	if s.opts.AbsoluteTTL > 0 && s.opts.AbsoluteTTL < s.codec.RefreshTTL() {
		expiresAt = now.Add(s.opts.AbsoluteTTL)
	}
	return s.mint(ctx, u, expiresAt, func(rec *sessions.RefreshRecord) error {
		if err := s.store.Create(ctx, rec); err != nil {
			return internal(err)
		}
		return nil
	}, now, now)
}

// mint signs both tokens and persists the refresh record through save.
func (s *Service) mint(ctx context.Context, u *models.User, refreshUntil time.Time, save func(*sessions.RefreshRecord) error, now, startedAt time.Time) (*Result, error) {
	p := u.Principal()
	access, accessExp, err := s.codec.SignAccess(p)
	if err != nil {
		return nil, internal(err)
	}
	refresh, refreshExp, err := s.codec.SignRefreshUntil(u.ID, refreshUntil)
	if err != nil {
		return nil, internal(err)
	}
	rec := sessions.NewRecord(u.ID, s.codec.Digest(refresh), refreshExp, now, startedAt)
	if err := save(rec); err != nil {
		return nil, err
	}
	return &Result{
		Principal:        p,
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Rotate exchanges an active refresh token for a new pair. The old record is
// revoked and the new one created atomically, so at most one of two
// concurrent rotations of the same token succeeds.
func (s *Service) Rotate(ctx context.Context, oldRefresh string) (res *Result, err error) {
	defer func() { observe("rotate", err) }()

	claims, verr := s.codec.VerifyRefresh(oldRefresh)
	if verr != nil {
		return nil, unauthorized("Invalid refresh token", verr)
	}
	sub := claims.Subject
	rec, err := s.store.FindActive(ctx, sub, s.codec.Digest(oldRefresh))
	if err != nil {
		return nil, internal(err)
	}
	if rec == nil {
		s.reuseDetected(ctx, sub)
		return nil, unauthorized("Refresh token revoked/unknown", nil)
	}

	now := s.codec.Now()
	if !now.Before(rec.ExpiresAt) {
		return nil, unauthorized("Refresh token expired", nil)
	}
	refreshUntil := now.Add(s.codec.RefreshTTL())
	if s.opts.AbsoluteTTL > 0 {
		limit := rec.SessionStartedAt.Add(s.opts.AbsoluteTTL)
		if !now.Before(limit) {
			if rerr := s.store.Revoke(ctx, rec.ID); rerr != nil {
				logger.Warnf("auth: revoke record past absolute lifetime: %v", rerr)
			}
			return nil, unauthorized("Session lifetime exceeded", nil)
		}
		if limit.Before(refreshUntil) {
			refreshUntil = limit
		}
	}

	u, err := s.users.GetByID(ctx, sub)
	if err != nil {
		return nil, internal(err)
	}
	if u == nil {
		return nil, unauthorized("User not found", nil)
	}

	return s.mint(ctx, u, refreshUntil, func(next *sessions.RefreshRecord) error {
		if rerr := s.store.Rotate(ctx, rec.ID, next); rerr != nil {
			if errors.Is(rerr, sessions.ErrNotActive) {
				s.reuseDetected(ctx, sub)
				return unauthorized("Refresh token revoked/unknown", nil)
			}
			return internal(rerr)
		}
		return nil
	}, now, rec.SessionStartedAt)
}

func (s *Service) reuseDetected(ctx context.Context, subjectID string) {
	metrics.RefreshReuseDetected.Inc()
	if !s.opts.ReuseContainment {
		logger.Warnf("auth: inactive refresh token presented for subject %s", subjectID)
		return
	}
	n, err := s.store.RevokeAllForSubject(ctx, subjectID)
	if err != nil {
		logger.Errorf("auth: containment revoke for subject %s failed: %v", subjectID, err)
		return
	}
	logger.Warnf("auth: inactive refresh token presented for subject %s; revoked %d sessions", subjectID, n)
}

// Logout revokes the active record matching refreshToken. Unknown, stale or
// malformed tokens are a successful no-op. An empty subjectID is taken from
// the verified refresh token.
func (s *Service) Logout(ctx context.Context, subjectID, refreshToken string) (err error) {
	defer func() { observe("logout", err) }()

	if refreshToken == "" {
		return nil
	}
	if subjectID == "" {
		claims, verr := s.codec.VerifyRefresh(refreshToken)
		if verr != nil {
			return nil
		}
		subjectID = claims.Subject
	}
	rec, err := s.store.FindActive(ctx, subjectID, s.codec.Digest(refreshToken))
	if err != nil {
		return internal(err)
	}
	if rec == nil {
		return nil
	}
	if err := s.store.Revoke(ctx, rec.ID); err != nil {
		return internal(err)
	}
	return nil
}

// LogoutAll revokes every session of the subject.
func (s *Service) LogoutAll(ctx context.Context, subjectID string) (n int64, err error) {
	defer func() { observe("logout_all", err) }()

	n, err = s.store.RevokeAllForSubject(ctx, subjectID)
	if err != nil {
		return 0, internal(err)
	}
	return n, nil
}

// Me returns the current user record for an authenticated subject.
func (s *Service) Me(ctx context.Context, subjectID string) (*models.User, error) {
	u, err := s.users.GetByID(ctx, subjectID)
	if err != nil {
		return nil, internal(err)
	}
	if u == nil {
		return nil, unauthorized("User not found", nil)
	}
	return u, nil
}

func observe(op string, err error) {
	result := "ok"
	if err != nil {
		result = string(KindOf(err))
	}
	metrics.AuthOperations.WithLabelValues(op, result).Inc()
}
