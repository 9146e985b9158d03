package auth

import "errors"

// Kind classifies service failures; transports map kinds to status codes.
type Kind string

const (
	KindEmailTaken         Kind = "EMAIL_TAKEN"
	KindInvalidCredentials Kind = "INVALID_CREDENTIALS"
	KindWrongProvider      Kind = "WRONG_PROVIDER"
	KindUnauthorized       Kind = "UNAUTHORIZED"
	KindValidation         Kind = "VALIDATION_ERROR"
	KindInternal           Kind = "INTERNAL_ERROR"
)

// Error is returned by every Service operation. Err holds the internal cause
// and is never meant for clients.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrUnauthorized) works
// regardless of message or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrEmailTaken         = &Error{Kind: KindEmailTaken, Message: "Email already registered"}
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials, Message: "Email or password is incorrect"}
	ErrWrongProvider      = &Error{Kind: KindWrongProvider, Message: "This account uses single sign-on. Use /auth/oidc/login."}
	ErrUnauthorized       = &Error{Kind: KindUnauthorized, Message: "Unauthorized"}
	ErrValidation         = &Error{Kind: KindValidation, Message: "Invalid input"}
	ErrInternal           = &Error{Kind: KindInternal, Message: "Internal server error"}
)

func unauthorized(msg string, cause error) *Error {
	return &Error{Kind: KindUnauthorized, Message: msg, Err: cause}
}

func internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: ErrInternal.Message, Err: cause}
}

// Validation builds a VALIDATION_ERROR with per-field messages.
func Validation(details map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: ErrValidation.Message, Details: details}
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
