package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints for the session API.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(rg *gin.Engine) {
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>authsession - Swagger</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

// OpenAPI document for the session routes.
const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "authsession", "version": "v1.0.0" },
  "components": {
    "schemas": {
      "Error": { "type": "object", "properties": { "code": {"type":"string"}, "message": {"type":"string"}, "details": {"type":"object","additionalProperties":{"type":"string"}} } },
      "Envelope": { "type": "object", "properties": { "success": {"type":"boolean"}, "data": {}, "error": {"$ref":"#/components/schemas/Error"} } }
    },
    "securitySchemes": {
      "bearer": { "type": "http", "scheme": "bearer", "bearerFormat": "JWT" },
      "accessCookie": { "type": "apiKey", "in": "cookie", "name": "access_token" }
    }
  },
  "paths": {
    "/auth/register": {
      "post": {
        "summary": "Create a local account and open a session",
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","required":["name","email","password"],"properties":{"name":{"type":"string","minLength":2},"email":{"type":"string","format":"email"},"password":{"type":"string","minLength":8,"maxLength":128}}}}}},
        "responses": { "200": { "description": "principal; access_token and refresh_token cookies set" }, "400": { "description": "VALIDATION_ERROR" }, "409": { "description": "EMAIL_TAKEN" }, "429": { "description": "RATE_LIMITED" } }
      }
    },
    "/auth/login": {
      "post": {
        "summary": "Log in with email and password",
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","required":["email","password"],"properties":{"email":{"type":"string","format":"email"},"password":{"type":"string"}}}}}},
        "responses": { "200": { "description": "principal; cookie pair set" }, "400": { "description": "VALIDATION_ERROR or WRONG_PROVIDER" }, "401": { "description": "INVALID_CREDENTIALS" }, "429": { "description": "RATE_LIMITED" } }
      }
    },
    "/auth/refresh": {
      "post": { "summary": "Rotate the refresh token", "description": "Reads refreshToken from the body, falling back to the refresh_token cookie.", "requestBody": { "required": false, "content": { "application/json": { "schema": {"type":"object","properties":{"refreshToken":{"type":"string"}}}}}}, "responses": { "200": { "description": "principal; rotated cookie pair set" }, "401": { "description": "UNAUTHORIZED" } } }
    },
    "/auth/logout": {
      "post": { "summary": "Revoke the presented refresh token and clear cookies", "requestBody": { "required": false, "content": { "application/json": { "schema": {"type":"object","properties":{"refreshToken":{"type":"string"}}}}}}, "responses": { "200": { "description": "logged out" } } }
    },
    "/auth/logout-all": {
      "post": { "summary": "Revoke every session of the caller", "security": [{"bearer":[]},{"accessCookie":[]}], "responses": { "200": { "description": "number of revoked sessions" }, "401": { "description": "UNAUTHORIZED" } } }
    },
    "/auth/me": {
      "get": { "summary": "Current user", "security": [{"bearer":[]},{"accessCookie":[]}], "responses": { "200": { "description": "user" }, "401": { "description": "UNAUTHORIZED" } } }
    },
    "/auth/oidc/login": { "get": { "summary": "Start federated login", "responses": { "302": { "description": "redirect to the identity provider" } } } },
    "/auth/oidc/callback": { "get": { "summary": "Federated login callback", "responses": { "302": { "description": "redirect to the frontend" } } } },
    "/health": { "get": { "summary": "Liveness check", "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } },
    "/metrics": { "get": { "summary": "Prometheus metrics", "responses": { "200": { "description": "metrics" } } } }
  }
}`
