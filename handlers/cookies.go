package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gogotex/authsession/internal/auth"
	"github.com/gogotex/authsession/internal/config"
	"github.com/gogotex/authsession/pkg/middleware"
)

const (
	stateCookie = "oauth_state"
	stateMaxAge = 5 * 60
)

func parseSameSite(v string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func maxAge(until time.Time) int {
	s := int(time.Until(until) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

func setCookie(c *gin.Context, cfg config.CookieConfig, name, value string, age int) {
	c.SetSameSite(parseSameSite(cfg.SameSite))
	c.SetCookie(name, value, age, "/", cfg.Domain, cfg.Secure, true)
}

// setAuthCookies writes the access and refresh cookies together. No other code
// path sets either cookie.
func setAuthCookies(c *gin.Context, cfg config.CookieConfig, res *auth.Result) {
	setCookie(c, cfg, middleware.AccessCookie, res.AccessToken, maxAge(res.AccessExpiresAt))
	setCookie(c, cfg, middleware.RefreshCookie, res.RefreshToken, maxAge(res.RefreshExpiresAt))
}

func clearAuthCookies(c *gin.Context, cfg config.CookieConfig) {
	setCookie(c, cfg, middleware.AccessCookie, "", -1)
	setCookie(c, cfg, middleware.RefreshCookie, "", -1)
}
