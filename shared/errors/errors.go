package errors

import (
	"errors"
	"net/http"
)

// Machine readable error codes. Clients may branch on them, so they are stable.
const (
	CodeValidation         = "validation_error"
	CodeInvalidEmail       = "invalid_email"
	CodeInvalidCredentials = "invalid_credentials"
	CodeEmailUnconfirmed   = "email_unconfirmed"
	CodeForbidden          = "forbidden"
	CodeNotFound           = "not_found"
	CodeConflict           = "conflict"
	CodeInvalidToken       = "invalid_token"
	CodeDelivery           = "delivery_error"
	CodeAttemptsExhausted  = "attempts_exhausted"
	CodeRateLimited        = "rate_limited"
)

// default error is internal service error at handler level
// if error has different status code use ErrorWithStatusCode
type ErrorWithStatusCode struct {
	Message    string
	StatusCode int
	Code       string
}

func (e *ErrorWithStatusCode) Error() string {
	return e.Message
}

// Is matches by Code, so errors.Is(err, ErrInvalidToken) holds for any
// invalid token error regardless of its message.
func (e *ErrorWithStatusCode) Is(target error) bool {
	t, ok := target.(*ErrorWithStatusCode)
	if !ok {
		return false
	}
	if t.Code != "" {
		return e.Code == t.Code
	}
	return e.StatusCode == t.StatusCode && e.Message == t.Message
}

// Sentinels for errors.Is. Never return these directly, use the constructors.
var (
	ErrValidation         = &ErrorWithStatusCode{Code: CodeValidation}
	ErrInvalidEmail       = &ErrorWithStatusCode{Code: CodeInvalidEmail}
	ErrInvalidCredentials = &ErrorWithStatusCode{Code: CodeInvalidCredentials}
	ErrEmailUnconfirmed   = &ErrorWithStatusCode{Code: CodeEmailUnconfirmed}
	ErrForbidden          = &ErrorWithStatusCode{Code: CodeForbidden}
	ErrNotFound           = &ErrorWithStatusCode{Code: CodeNotFound}
	ErrConflict           = &ErrorWithStatusCode{Code: CodeConflict}
	ErrInvalidToken       = &ErrorWithStatusCode{Code: CodeInvalidToken}
	ErrDelivery           = &ErrorWithStatusCode{Code: CodeDelivery}
)

func Validation(msg string) error {
	return &ErrorWithStatusCode{Message: msg, StatusCode: http.StatusBadRequest, Code: CodeValidation}
}

func InvalidEmail(msg string) error {
	return &ErrorWithStatusCode{Message: msg, StatusCode: http.StatusBadRequest, Code: CodeInvalidEmail}
}

// InvalidCredentials always carries the same message so that callers cannot
// tell an unknown login from a wrong password.
func InvalidCredentials() error {
	return &ErrorWithStatusCode{Message: "Invalid username or password", StatusCode: http.StatusUnauthorized, Code: CodeInvalidCredentials}
}

func EmailUnconfirmed(msg string) error {
	return &ErrorWithStatusCode{Message: msg, StatusCode: http.StatusUnauthorized, Code: CodeEmailUnconfirmed}
}

func Forbidden(msg string) error {
	return &ErrorWithStatusCode{Message: msg, StatusCode: http.StatusForbidden, Code: CodeForbidden}
}

func NotFound(msg string) error {
	return &ErrorWithStatusCode{Message: msg, StatusCode: http.StatusNotFound, Code: CodeNotFound}
}

func Conflict(msg string) error {
	return &ErrorWithStatusCode{Message: msg, StatusCode: http.StatusConflict, Code: CodeConflict}
}

func InvalidToken(msg string) error {
	return &ErrorWithStatusCode{Message: msg, StatusCode: http.StatusBadRequest, Code: CodeInvalidToken}
}

// Delivery reports a mail transport failure. Registration surfaces it as 400,
// reset requests as 503, so the status is chosen by the caller.
func Delivery(msg string, status int) error {
	return &ErrorWithStatusCode{Message: msg, StatusCode: status, Code: CodeDelivery}
}

func RateLimited() error {
	return &ErrorWithStatusCode{Message: "Rate limit exceeded, try again later", StatusCode: http.StatusTooManyRequests, Code: CodeRateLimited}
}

// IsNotFound reports whether err is a not found error of any origin.
func IsNotFound(err error) bool {
	var e *ErrorWithStatusCode
	if errors.As(err, &e) {
		return e.Code == CodeNotFound || e.StatusCode == http.StatusNotFound
	}
	return false
}

// Is checks if err is instance of T for custom error types
func Is[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}
