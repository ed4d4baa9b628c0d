// Package credentials holds one provider per authentication mechanism
// (email/password, anonymous, social) plus the dispatcher that routes logout
// to whichever provider signed the session in. Every mutating operation
// either returns a fresh session token or a normalized *Error.
package credentials

import "fmt"

// Method tags which provider authenticated the current session. It is
// persisted next to the token and routes logout.
type Method string

const (
	MethodEmail     Method = "EMAIL"
	MethodAnonymous Method = "ANONYMOUS"
	MethodSocial    Method = "SOCIAL"
)

// Operation-level error codes used on top of the backend's own codes.
const (
	CodeForbidden = "FORBIDDEN"
	CodeNotFound  = "NOT_FOUND"
)

// Error is the normalized failure shape of a credential provider.
type Error struct {
	Service string // provider service name, e.g. "EmailAuthService"
	Op      string // failing operation, e.g. "Login"
	Code    string // provider error code, passed through untranslated
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s.%s: %s: %s", e.Service, e.Op, e.Code, e.Message)
}

func newError(service, op, code, message string) *Error {
	return &Error{Service: service, Op: op, Code: code, Message: message}
}
