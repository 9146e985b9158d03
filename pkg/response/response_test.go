package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	g := gin.New()
	g.GET("/ok", func(c *gin.Context) { OK(c, gin.H{"n": 1}) })
	g.GET("/fail", func(c *gin.Context) {
		Fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid input", map[string]string{"email": "required"})
	})

	w := httptest.NewRecorder()
	g.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"success":true,"data":{"n":1},"error":null}`, w.Body.String())

	w = httptest.NewRecorder()
	g.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fail", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
	var env Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.False(t, env.Success)
	require.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	require.Equal(t, "required", env.Error.Details["email"])
	require.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	require.Contains(t, raw, "data")
	require.Equal(t, "null", string(raw["data"]))
}

// Both keys are always present so clients can branch on them without existence checks.
func TestEnvelope_NullKeys(t *testing.T) {
	gin.SetMode(gin.TestMode)
	g := gin.New()
	g.GET("/empty", func(c *gin.Context) { OK(c, nil) })
	g.GET("/fail", func(c *gin.Context) { Fail(c, http.StatusUnauthorized, "UNAUTHORIZED", "Missing token", nil) })

	w := httptest.NewRecorder()
	g.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/empty", nil))
	require.JSONEq(t, `{"success":true,"data":null,"error":null}`, w.Body.String())

	w = httptest.NewRecorder()
	g.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fail", nil))
	require.JSONEq(t, `{"success":false,"data":null,"error":{"code":"UNAUTHORIZED","message":"Missing token"}}`, w.Body.String())
}
