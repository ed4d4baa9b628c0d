package identity

import (
	"errors"
	"fmt"
)

// Error codes surfaced by identity backends. Backends translate their native
// failure modes into these; anything unrecognized passes through verbatim.
const (
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeUserNotFound       = "USER_NOT_FOUND"
	CodeEmailExists        = "EMAIL_EXISTS"
	CodeTokenExpired       = "TOKEN_EXPIRED"
	CodeNoActiveSession    = "NO_ACTIVE_SESSION"
	CodeUnavailable        = "UNAVAILABLE"
	CodeInternal           = "INTERNAL"
)

// Error is the normalized failure shape of an identity backend: a stable
// machine code plus the backend's message.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("identity: %s: %s", e.Code, e.Message)
}

// NewError builds a backend error with the given code and message.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// ErrorCode extracts the backend code from err, or CodeInternal when err is
// not a backend error.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var backendErr *Error
	if errors.As(err, &backendErr) {
		return backendErr.Code
	}
	return CodeInternal
}
