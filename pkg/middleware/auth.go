package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gogotex/authsession/internal/models"
	"github.com/gogotex/authsession/internal/tokens"
	"github.com/gogotex/authsession/pkg/response"
)

const (
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"

	principalKey = "principal"
	claimsKey    = "claims"
)

// AccessVerifier is the minimal interface the middleware depends on. *tokens.Codec satisfies it.
type AccessVerifier interface {
	VerifyAccess(raw string) (*tokens.AccessClaims, error)
}

// AccessToken returns the bearer token from the Authorization header, falling
// back to the access_token cookie.
func AccessToken(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		scheme, tok, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	if v, err := c.Cookie(AccessCookie); err == nil {
		return v
	}
	return ""
}

// RequireAccess rejects requests without a valid access token. On success the
// principal and a claims map with "sub" are stored in the gin context.
func RequireAccess(ver AccessVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := AccessToken(c)
		if raw == "" {
			response.Fail(c, http.StatusUnauthorized, "UNAUTHORIZED", "Missing access token", nil)
			return
		}
		claims, err := ver.VerifyAccess(raw)
		if err != nil {
			response.Fail(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired access token", nil)
			return
		}
		setPrincipal(c, claims)
		c.Next()
	}
}

// OptionalAccess stores the principal when a valid access token is present and never aborts.
func OptionalAccess(ver AccessVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := AccessToken(c); raw != "" {
			if claims, err := ver.VerifyAccess(raw); err == nil {
				setPrincipal(c, claims)
			}
		}
		c.Next()
	}
}

func setPrincipal(c *gin.Context, claims *tokens.AccessClaims) {
	c.Set(principalKey, claims.Principal())
	c.Set(claimsKey, map[string]interface{}{
		"sub":   claims.Subject,
		"email": claims.Email,
		"role":  string(claims.Role),
	})
}

// PrincipalFrom returns the principal stored by RequireAccess or OptionalAccess.
func PrincipalFrom(c *gin.Context) (models.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return models.Principal{}, false
	}
	p, ok := v.(models.Principal)
	return p, ok
}
