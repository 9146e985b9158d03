// Package response writes the JSON envelope shared by every API route:
//
//	{"success": true, "data": ..., "error": null}
//	{"success": false, "data": null, "error": {"code": "...", "message": "...", "details": {...}}}
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type APIError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Error   *APIError   `json:"error"`
}

func OK(c *gin.Context, data interface{}) {
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, Envelope{Success: true, Data: data})
}

// Fail writes an error envelope and aborts the handler chain.
func Fail(c *gin.Context, status int, code, message string, details map[string]string) {
	c.Header("Cache-Control", "no-store")
	c.AbortWithStatusJSON(status, Envelope{Error: &APIError{Code: code, Message: message, Details: details}})
}
