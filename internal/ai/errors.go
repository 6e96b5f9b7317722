package ai

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies a failed model call so callers can map classes
// to distinct behavior (retry, caller-facing status, config hint)
// without matching on message strings.
type ErrorCode string

const (
	ErrInvalidInput          ErrorCode = "INVALID_INPUT"
	ErrEmptyInput            ErrorCode = "EMPTY_INPUT"
	ErrMissingAPIKey         ErrorCode = "MISSING_API_KEY"
	ErrAuthenticationFailed  ErrorCode = "AUTHENTICATION_FAILED"
	ErrAccessForbidden       ErrorCode = "ACCESS_FORBIDDEN"
	ErrRateLimited           ErrorCode = "RATE_LIMITED"
	ErrServerError           ErrorCode = "SERVER_ERROR"
	ErrTimeout               ErrorCode = "TIMEOUT"
	ErrConnectionError       ErrorCode = "CONNECTION_ERROR"
	ErrInvalidResponseFormat ErrorCode = "INVALID_RESPONSE_FORMAT"
	ErrAPIError              ErrorCode = "API_ERROR"
	ErrUnexpected            ErrorCode = "UNEXPECTED_ERROR"
)

// Error is the typed failure returned by every model call.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsTransient reports whether the failure class is worth retrying.
// Auth problems, bad input, and malformed responses will not fix
// themselves on a second attempt.
func (e *Error) IsTransient() bool {
	switch e.Code {
	case ErrRateLimited, ErrServerError, ErrTimeout, ErrConnectionError:
		return true
	}
	return false
}

// AsError unwraps err into *Error if it carries one.
func AsError(err error) (*Error, bool) {
	var aiErr *Error
	if errors.As(err, &aiErr) {
		return aiErr, true
	}
	return nil, false
}

// HTTPStatus maps an error code to the status the API layer should
// return. Auth and key problems are configuration faults on our side,
// not the caller's, so they surface as 500.
func HTTPStatus(err error) int {
	aiErr, ok := AsError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch aiErr.Code {
	case ErrInvalidInput, ErrEmptyInput:
		return http.StatusBadRequest
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrTimeout:
		return http.StatusRequestTimeout
	case ErrServerError, ErrConnectionError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// classifyStatus maps a non-2xx upstream response to an error code.
func classifyStatus(status int) ErrorCode {
	switch {
	case status == http.StatusUnauthorized:
		return ErrAuthenticationFailed
	case status == http.StatusForbidden:
		return ErrAccessForbidden
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status >= 500:
		return ErrServerError
	default:
		return ErrAPIError
	}
}
