// Package apperr defines the error taxonomy for business-rule violations.
// Every operation returns one of these typed errors to the caller; only
// storage failures and similar unexpected conditions surface as plain errors,
// which handlers report as a generic internal error.
package apperr

import (
	"errors"
	"net/http"
)

type Code string

const (
	CodeValidation        Code = "validation_error"
	CodeInvalidState      Code = "invalid_state"
	CodeStateConflict     Code = "state_conflict"
	CodeUnauthorized      Code = "unauthorized"
	CodeNotFound          Code = "not_found"
	CodeInsufficientFunds Code = "insufficient_funds"
	CodeInvalidSignature  Code = "invalid_signature"
	CodeDuplicateOffer    Code = "duplicate_offer"
	CodeExpiredWindow     Code = "expired_window"
	CodeInternal          Code = "internal_error"
)

type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return string(e.Code) + ": " + e.Message }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Validation(message string) *Error        { return New(CodeValidation, message) }
func InvalidState(message string) *Error      { return New(CodeInvalidState, message) }
func StateConflict(message string) *Error     { return New(CodeStateConflict, message) }
func Unauthorized(message string) *Error      { return New(CodeUnauthorized, message) }
func NotFound(message string) *Error          { return New(CodeNotFound, message) }
func InsufficientFunds(message string) *Error { return New(CodeInsufficientFunds, message) }
func InvalidSignature(message string) *Error  { return New(CodeInvalidSignature, message) }
func DuplicateOffer(message string) *Error    { return New(CodeDuplicateOffer, message) }
func ExpiredWindow(message string) *Error     { return New(CodeExpiredWindow, message) }

// CodeOf extracts the taxonomy code from err, or CodeInternal for
// unclassified errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool { return CodeOf(err) == code }

// HTTPStatus maps a taxonomy code to the HTTP status handlers respond with.
func HTTPStatus(code Code) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeInvalidState, CodeDuplicateOffer:
		return http.StatusConflict
	case CodeStateConflict:
		return http.StatusConflict
	case CodeUnauthorized:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInsufficientFunds:
		return http.StatusPaymentRequired
	case CodeInvalidSignature:
		return http.StatusUnauthorized
	case CodeExpiredWindow:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}
