package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gogotex/authsession/internal/config"
	"github.com/gogotex/authsession/internal/models"
	"github.com/gogotex/authsession/internal/tokens"
	"github.com/stretchr/testify/require"
)

func testCodec() *tokens.Codec {
	return tokens.NewCodec(config.JWTConfig{
		AccessSecret:    "access-secret",
		RefreshSecret:   "refresh-secret",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
	})
}

func protected(ver AccessVerifier) *gin.Engine {
	g := gin.New()
	g.GET("/", RequireAccess(ver), func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		claims, _ := c.Get("claims")
		resp, _ := json.Marshal(gin.H{"principal": p, "claims": claims})
		c.Writer.Write(resp)
	})
	return g
}

func TestRequireAccess_NoToken(t *testing.T) {
	rw := httptest.NewRecorder()
	protected(testCodec()).ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusUnauthorized, rw.Code)
	require.Contains(t, rw.Body.String(), `"UNAUTHORIZED"`)
}

func TestRequireAccess_InvalidHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "BadHeader")
	rw := httptest.NewRecorder()
	protected(testCodec()).ServeHTTP(rw, req)

	require.Equal(t, http.StatusUnauthorized, rw.Code)
}

func TestRequireAccess_BadToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rw := httptest.NewRecorder()
	protected(testCodec()).ServeHTTP(rw, req)

	require.Equal(t, http.StatusUnauthorized, rw.Code)
}

func TestRequireAccess_RefreshTokenRejected(t *testing.T) {
	codec := testCodec()
	refresh, _, err := codec.SignRefresh("user1")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+refresh)
	rw := httptest.NewRecorder()
	protected(codec).ServeHTTP(rw, req)

	require.Equal(t, http.StatusUnauthorized, rw.Code)
}

func TestRequireAccess_BearerAndCookie(t *testing.T) {
	codec := testCodec()
	p := models.Principal{ID: "user1", Name: "U", Email: "test@example.com", Role: models.RoleUser}
	access, _, err := codec.SignAccess(p)
	require.NoError(t, err)

	bearer := httptest.NewRequest(http.MethodGet, "/", nil)
	bearer.Header.Set("Authorization", "bearer "+access)
	cookie := httptest.NewRequest(http.MethodGet, "/", nil)
	cookie.AddCookie(&http.Cookie{Name: AccessCookie, Value: access})

	for name, req := range map[string]*http.Request{"bearer": bearer, "cookie": cookie} {
		rw := httptest.NewRecorder()
		protected(codec).ServeHTTP(rw, req)
		require.Equal(t, http.StatusOK, rw.Code, name)

		var got struct {
			Principal models.Principal       `json:"principal"`
			Claims    map[string]interface{} `json:"claims"`
		}
		require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &got))
		require.Equal(t, p, got.Principal, name)
		require.Equal(t, "user1", got.Claims["sub"], name)
	}
}

func TestOptionalAccess(t *testing.T) {
	codec := testCodec()
	g := gin.New()
	g.GET("/", OptionalAccess(codec), func(c *gin.Context) {
		_, ok := PrincipalFrom(c)
		c.JSON(http.StatusOK, gin.H{"authenticated": ok})
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rw := httptest.NewRecorder()
	g.ServeHTTP(rw, req)
	require.Equal(t, http.StatusOK, rw.Code)
	require.JSONEq(t, `{"authenticated":false}`, rw.Body.String())

	access, _, err := codec.SignAccess(models.Principal{ID: "u2"})
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AccessCookie, Value: access})
	rw = httptest.NewRecorder()
	g.ServeHTTP(rw, req)
	require.JSONEq(t, `{"authenticated":true}`, rw.Body.String())
}
