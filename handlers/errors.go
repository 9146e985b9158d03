package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gogotex/authsession/internal/auth"
	"github.com/gogotex/authsession/pkg/logger"
	"github.com/gogotex/authsession/pkg/response"
)

var kindStatus = map[auth.Kind]int{
	auth.KindEmailTaken:         http.StatusConflict,
	auth.KindInvalidCredentials: http.StatusUnauthorized,
	auth.KindWrongProvider:      http.StatusBadRequest,
	auth.KindUnauthorized:       http.StatusUnauthorized,
	auth.KindValidation:         http.StatusBadRequest,
	auth.KindInternal:           http.StatusInternalServerError,
}

// writeError maps a service error to the envelope. Causes are logged for 500s
// and never forwarded.
func writeError(c *gin.Context, err error) {
	var ae *auth.Error
	if !errors.As(err, &ae) {
		ae = &auth.Error{Kind: auth.KindInternal, Message: auth.ErrInternal.Message, Err: err}
	}
	status, ok := kindStatus[ae.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	if status == http.StatusInternalServerError {
		logger.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	response.Fail(c, status, string(ae.Kind), ae.Message, ae.Details)
}

// bindError turns a ShouldBindJSON failure into a VALIDATION_ERROR with per-field details.
func bindError(c *gin.Context, err error) {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		writeError(c, auth.Validation(map[string]string{"body": "invalid JSON body"}))
		return
	}
	details := make(map[string]string, len(ves))
	for _, fe := range ves {
		details[jsonName(fe.Field())] = fieldMessage(fe)
	}
	writeError(c, auth.Validation(details))
}

func jsonName(field string) string {
	if field == "" {
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return "is invalid"
	}
}
