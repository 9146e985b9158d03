package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gogotex/authsession/internal/auth"
	"github.com/gogotex/authsession/internal/config"
	"github.com/gogotex/authsession/internal/models"
	"github.com/gogotex/authsession/internal/oidc"
	"github.com/gogotex/authsession/pkg/logger"
	"github.com/gogotex/authsession/pkg/middleware"
	"github.com/gogotex/authsession/pkg/response"
)

// AuthService is the session core the handlers drive. *auth.Service satisfies it.
type AuthService interface {
	Register(ctx context.Context, name, email, password string) (*auth.Result, error)
	Login(ctx context.Context, email, password string) (*auth.Result, error)
	LoginFederated(ctx context.Context, claims map[string]interface{}) (*auth.Result, error)
	Rotate(ctx context.Context, refreshToken string) (*auth.Result, error)
	Logout(ctx context.Context, subjectID, refreshToken string) error
	LogoutAll(ctx context.Context, subjectID string) (int64, error)
	Me(ctx context.Context, subjectID string) (*models.User, error)
}

// IdentityProvider runs the authorization-code flow. *oidc.Provider satisfies it.
type IdentityProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (map[string]interface{}, error)
}

type RegisterRequest struct {
	Name     string `json:"name" binding:"required,min=2"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=1"`
}

type tokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// SessionResponse is the data of register, login and refresh responses. The
// access token is included for bearer-mode clients; the refresh token travels
// only in its cookie.
type SessionResponse struct {
	User            models.Principal `json:"user"`
	AccessToken     string           `json:"accessToken"`
	AccessExpiresAt time.Time        `json:"accessExpiresAt"`
}

// AuthHandler holds dependencies
type AuthHandler struct {
	cfg  *config.Config
	svc  AuthService
	ver  middleware.AccessVerifier
	idp  IdentityProvider
	rate gin.HandlerFunc
}

// NewAuthHandler wires the routes' dependencies. idp may be nil when federated login is off.
func NewAuthHandler(cfg *config.Config, svc AuthService, ver middleware.AccessVerifier, idp IdentityProvider) *AuthHandler {
	return &AuthHandler{cfg: cfg, svc: svc, ver: ver, idp: idp}
}

// WithRateLimit guards register and login with the given limiter.
func (h *AuthHandler) WithRateLimit(l gin.HandlerFunc) *AuthHandler {
	h.rate = l
	return h
}

// Register routes under /auth
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/auth")
	credential := []gin.HandlerFunc{}
	if h.rate != nil {
		credential = append(credential, h.rate)
	}
	a.POST("/register", append(credential, h.SignUp)...)
	a.POST("/login", append(credential, h.Login)...)
	a.POST("/refresh", h.Refresh)
	a.POST("/logout", middleware.OptionalAccess(h.ver), h.Logout)
	a.POST("/logout-all", middleware.RequireAccess(h.ver), h.LogoutAll)
	a.GET("/me", middleware.RequireAccess(h.ver), h.Me)
	if h.idp != nil {
		a.GET("/oidc/login", h.OIDCLogin)
		a.GET("/oidc/callback", h.OIDCCallback)
	}
}

func (h *AuthHandler) session(c *gin.Context, res *auth.Result) {
	setAuthCookies(c, h.cfg.Cookie, res)
	response.OK(c, SessionResponse{User: res.Principal, AccessToken: res.AccessToken, AccessExpiresAt: res.AccessExpiresAt})
}

func (h *AuthHandler) SignUp(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	res, err := h.svc.Register(c.Request.Context(), strings.TrimSpace(req.Name), req.Email, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	logger.Infof("auth: registered user %s", res.Principal.ID)
	h.session(c, res)
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	res, err := h.svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	h.session(c, res)
}

// bodyRefreshToken reads an optional {refreshToken} body. An empty body is not an error.
func bodyRefreshToken(c *gin.Context) (string, error) {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return "", nil
	}
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return "", nil
		}
		return "", err
	}
	return req.RefreshToken, nil
}

// Refresh rotates the refresh token named in the body, falling back to the cookie.
// An explicit body token wins so a client holding a fresher token than its
// cookie jar is not rejected as reuse.
func (h *AuthHandler) Refresh(c *gin.Context) {
	token, err := bodyRefreshToken(c)
	if err != nil {
		bindError(c, err)
		return
	}
	if token == "" {
		token, _ = c.Cookie(middleware.RefreshCookie)
	}
	if token == "" {
		writeError(c, &auth.Error{Kind: auth.KindUnauthorized, Message: "Missing refresh token"})
		return
	}
	res, err := h.svc.Rotate(c.Request.Context(), token)
	if err != nil {
		writeError(c, err)
		return
	}
	h.session(c, res)
}

// Logout revokes the presented refresh token (body first, then cookie) and clears the
// cookie pair regardless of the outcome. An unreadable body counts as no body.
func (h *AuthHandler) Logout(c *gin.Context) {
	clearAuthCookies(c, h.cfg.Cookie)
	setCookie(c, h.cfg.Cookie, stateCookie, "", -1)

	token, err := bodyRefreshToken(c)
	if err != nil {
		logger.Debugf("auth: logout ignoring unreadable body: %v", err)
		token = ""
	}
	if token == "" {
		token, _ = c.Cookie(middleware.RefreshCookie)
	}
	var subject string
	if p, ok := middleware.PrincipalFrom(c); ok {
		subject = p.ID
	}
	if err := h.svc.Logout(c.Request.Context(), subject, token); err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, true)
}

func (h *AuthHandler) LogoutAll(c *gin.Context) {
	p, _ := middleware.PrincipalFrom(c)
	n, err := h.svc.LogoutAll(c.Request.Context(), p.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	clearAuthCookies(c, h.cfg.Cookie)
	response.OK(c, gin.H{"revoked": n})
}

func (h *AuthHandler) Me(c *gin.Context) {
	p, _ := middleware.PrincipalFrom(c)
	u, err := h.svc.Me(c.Request.Context(), p.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, u)
}

// OIDCLogin sets the CSRF state cookie and redirects to the provider's consent page.
func (h *AuthHandler) OIDCLogin(c *gin.Context) {
	state, err := oidc.NewState()
	if err != nil {
		writeError(c, err)
		return
	}
	setCookie(c, h.cfg.Cookie, stateCookie, state, stateMaxAge)
	c.Redirect(http.StatusFound, h.idp.AuthCodeURL(state))
}

func (h *AuthHandler) frontendError(c *gin.Context, code string) {
	c.Redirect(http.StatusFound, strings.TrimRight(h.cfg.Server.FrontendURL, "/")+"/login?error="+url.QueryEscape(code))
}

// OIDCCallback checks state, exchanges the code and logs the federated user in.
func (h *AuthHandler) OIDCCallback(c *gin.Context) {
	code, state := c.Query("code"), c.Query("state")
	if code == "" || state == "" {
		h.frontendError(c, "missing_code_state")
		return
	}
	cookieState, _ := c.Cookie(stateCookie)
	if cookieState == "" || cookieState != state {
		h.frontendError(c, "csrf_state_invalid")
		return
	}
	setCookie(c, h.cfg.Cookie, stateCookie, "", -1)

	claims, err := h.idp.Exchange(c.Request.Context(), code)
	if err != nil {
		logger.Warnf("auth: oidc exchange failed: %v", err)
		h.frontendError(c, "oidc_exchange_failed")
		return
	}
	res, err := h.svc.LoginFederated(c.Request.Context(), claims)
	if err != nil {
		logger.Warnf("auth: federated login failed: %v", err)
		h.frontendError(c, "oidc_login_failed")
		return
	}
	setAuthCookies(c, h.cfg.Cookie, res)
	c.Redirect(http.StatusFound, h.cfg.Server.FrontendURL)
}
