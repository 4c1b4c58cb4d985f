package domain

import (
	"errors"
	"net/http"
)

// Error codes for mirror and transport errors.
const (
	CodeNotFound     = 1
	CodeFetch        = 2
	CodeValidation   = 3
	CodeSubscription = 4
	CodeInternal     = 5
)

// AppError represents an operational error with a code, message, and optional wrapped error.
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Predefined errors.
//
// To check whether an error matches one of these categories, use the
// corresponding helper function (IsNotFound, IsFetch, etc.) instead of
// errors.Is. The helpers use errors.As with error-code comparison, so they
// match any *AppError carrying the same code — including freshly constructed
// and wrapped instances — whereas errors.Is only matches by pointer identity
// with the specific sentinel below.
var (
	ErrNotFound     = &AppError{Code: CodeNotFound, Message: "not found"}
	ErrFetch        = &AppError{Code: CodeFetch, Message: "remote fetch failed"}
	ErrValidation   = &AppError{Code: CodeValidation, Message: "validation error"}
	ErrSubscription = &AppError{Code: CodeSubscription, Message: "change feed unavailable"}
	ErrInternal     = &AppError{Code: CodeInternal, Message: "internal error"}
)

// NewAppError creates a new AppError with the given code, message, and wrapped error.
func NewAppError(code int, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsNotFound reports whether err is or wraps an AppError with CodeNotFound.
func IsNotFound(err error) bool {
	return hasCode(err, CodeNotFound)
}

// IsFetch reports whether err is or wraps an AppError with CodeFetch.
func IsFetch(err error) bool {
	return hasCode(err, CodeFetch)
}

// IsValidation reports whether err is or wraps an AppError with CodeValidation.
func IsValidation(err error) bool {
	return hasCode(err, CodeValidation)
}

// IsSubscription reports whether err is or wraps an AppError with CodeSubscription.
func IsSubscription(err error) bool {
	return hasCode(err, CodeSubscription)
}

// IsInternal reports whether err is or wraps an AppError with CodeInternal.
func IsInternal(err error) bool {
	return hasCode(err, CodeInternal)
}

// hasCode checks whether err is or wraps an *AppError with the given code.
func hasCode(err error, code int) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// HTTPStatusCode maps an error to an HTTP status code.
// If the error is an *AppError, the code is mapped; otherwise http.StatusInternalServerError is returned.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if err != nil && errors.As(err, &appErr) {
		switch appErr.Code {
		case CodeNotFound:
			return http.StatusNotFound
		case CodeFetch:
			return http.StatusBadGateway
		case CodeValidation:
			return http.StatusBadRequest
		case CodeSubscription:
			return http.StatusServiceUnavailable
		case CodeInternal:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}
