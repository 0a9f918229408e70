// Package apperr is the error taxonomy shared by services and handlers.
// Every error that crosses the service boundary carries a Code; handlers
// map the code to an HTTP status and a public message.
package apperr

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation      Code = "VALIDATION_ERROR"
	CodeConflict        Code = "CONFLICT"
	CodeSeatUnavailable Code = "SEAT_UNAVAILABLE"
	CodeAmountMismatch  Code = "AMOUNT_MISMATCH"
	CodePaymentDeclined Code = "PAYMENT_DECLINED"
	CodePartialFailure  Code = "PARTIAL_FAILURE_AFTER_CHARGE"
	CodeRateLimited     Code = "RATE_LIMITED"
	CodeNotFound        Code = "NOT_FOUND"
	CodeNotEligible     Code = "NOT_ELIGIBLE"
	CodeNotReady        Code = "NOT_READY"
	CodeExpired         Code = "EXPIRED"
	CodeAlreadyUsed     Code = "ALREADY_USED"
	CodeUnauthorized    Code = "UNAUTHORIZED"
	CodeForbidden       Code = "FORBIDDEN"
	CodeInternal        Code = "INTERNAL_ERROR"
	CodeDependency      Code = "DEPENDENCY_ERROR"
)

type Metadata struct {
	HTTPStatus    int
	Retryable     bool
	PublicMessage string
	// DetailsAllowed reports whether the error message may be shown to the caller.
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:      {http.StatusBadRequest, true, "validation failed", true},
	CodeConflict:        {http.StatusConflict, false, "conflict detected", true},
	CodeSeatUnavailable: {http.StatusConflict, false, "seat no longer available", true},
	CodeAmountMismatch:  {http.StatusBadRequest, false, "amount does not match the order total", true},
	CodePaymentDeclined: {http.StatusBadRequest, true, "payment declined", false},
	CodePartialFailure:  {http.StatusConflict, false, "payment received but some seats could not be allocated; our team will contact you", false},
	CodeRateLimited:     {http.StatusTooManyRequests, true, "too many requests, try again later", false},
	CodeNotFound:        {http.StatusNotFound, false, "resource not found", false},
	CodeNotEligible:     {http.StatusForbidden, false, "not eligible", false},
	CodeNotReady:        {http.StatusBadRequest, false, "content is not available yet", false},
	CodeExpired:         {http.StatusGone, false, "link has expired", false},
	CodeAlreadyUsed:     {http.StatusConflict, false, "link has already been used", false},
	CodeUnauthorized:    {http.StatusUnauthorized, false, "authentication required", false},
	CodeForbidden:       {http.StatusForbidden, false, "access denied", false},
	CodeInternal:        {http.StatusInternalServerError, true, "internal server error", false},
	CodeDependency:      {http.StatusServiceUnavailable, true, "dependency unavailable", false},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As extracts the first *Error in err's chain.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf returns the code of err, or CodeInternal for untyped errors.
func CodeOf(err error) Code {
	if typed := As(err); typed != nil {
		return typed.Code()
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
