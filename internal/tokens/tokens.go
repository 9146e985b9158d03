package tokens

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/gogotex/authsession/internal/config"
	"github.com/gogotex/authsession/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrExpired          = errors.New("token expired")
	ErrInvalidSignature = errors.New("invalid token")
	ErrNoSecret         = errors.New("tokens: signing secret not configured")
)

// AccessClaims is the payload of an access token.
type AccessClaims struct {
	Name  string      `json:"name"`
	Email string      `json:"email"`
	Role  models.Role `json:"role"`
	jwt.RegisteredClaims
}

func (c *AccessClaims) Principal() models.Principal {
	return models.Principal{ID: c.Subject, Name: c.Name, Email: c.Email, Role: c.Role}
}

// RefreshClaims is the payload of a refresh token. ID (jti) is random per token.
type RefreshClaims struct {
	jwt.RegisteredClaims
}

// Codec signs and verifies access/refresh JWTs. It never touches storage.
type Codec struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	digestKey     []byte
	now           func() time.Time
}

type Option func(*Codec)

// WithClock overrides the time source used for iat/exp and verification.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// WithDigestKey switches Digest from plain SHA-256 to HMAC-SHA256.
func WithDigestKey(key string) Option {
	return func(c *Codec) {
		if key != "" {
			c.digestKey = []byte(key)
		}
	}
}

func NewCodec(cfg config.JWTConfig, opts ...Option) *Codec {
	c := &Codec{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.AccessTokenTTL,
		refreshTTL:    cfg.RefreshTokenTTL,
		now:           time.Now,
	}
	if cfg.DigestKey != "" {
		c.digestKey = []byte(cfg.DigestKey)
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Codec) AccessTTL() time.Duration  { return c.accessTTL }
func (c *Codec) RefreshTTL() time.Duration { return c.refreshTTL }

// Now returns the codec clock so callers share one notion of time.
func (c *Codec) Now() time.Time { return c.now() }

// SignAccess creates a signed access token for the principal.
func (c *Codec) SignAccess(p models.Principal) (string, time.Time, error) {
	if len(c.accessSecret) == 0 {
		return "", time.Time{}, ErrNoSecret
	}
	now := c.now()
	exp := jwt.NewNumericDate(now.Add(c.accessTTL))
	claims := AccessClaims{
		Name:  p.Name,
		Email: p.Email,
		Role:  p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: exp,
			ID:        uuid.NewString(),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.accessSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access: %w", err)
	}
	return s, exp.Time, nil
}

// SignRefresh creates a refresh token expiring after the configured TTL.
func (c *Codec) SignRefresh(subjectID string) (string, time.Time, error) {
	return c.SignRefreshUntil(subjectID, c.now().Add(c.refreshTTL))
}

// SignRefreshUntil creates a refresh token with an explicit expiry.
func (c *Codec) SignRefreshUntil(subjectID string, expiresAt time.Time) (string, time.Time, error) {
	if len(c.refreshSecret) == 0 {
		return "", time.Time{}, ErrNoSecret
	}
	exp := jwt.NewNumericDate(expiresAt)
	claims := RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(c.now()),
			ExpiresAt: exp,
			ID:        uuid.NewString(),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.refreshSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign refresh: %w", err)
	}
	return s, exp.Time, nil
}

func (c *Codec) VerifyAccess(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.parse(raw, claims, c.accessSecret); err != nil {
		return nil, err
	}
	return claims, nil
}

func (c *Codec) VerifyRefresh(raw string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := c.parse(raw, claims, c.refreshSecret); err != nil {
		return nil, err
	}
	return claims, nil
}

func (c *Codec) parse(raw string, claims jwt.Claims, secret []byte) error {
	if len(secret) == 0 {
		return ErrNoSecret
	}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(c.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpired
		}
		return ErrInvalidSignature
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return ErrInvalidSignature
	}
	if sub, err := claims.GetSubject(); err != nil || sub == "" {
		return ErrInvalidSignature
	}
	return nil
}

// Digest returns the hex SHA-256 (or HMAC-SHA256 when keyed) of a raw token.
func (c *Codec) Digest(raw string) string {
	if len(c.digestKey) > 0 {
		m := hmac.New(sha256.New, c.digestKey)
		m.Write([]byte(raw))
		return hex.EncodeToString(m.Sum(nil))
	}
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
