package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation   Code = "VALIDATION_ERROR"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"
	CodeNotFound     Code = "NOT_FOUND"
	CodeConflict     Code = "CONFLICT"
	CodeIdempotency  Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit    Code = "RATE_LIMITED"
	CodeInvalidState Code = "INVALID_STATE"
	CodeTransport    Code = "TRANSPORT_ERROR"
	CodeInternal     Code = "INTERNAL_ERROR"
	CodeDependency   Code = "DEPENDENCY_ERROR"
)

// Metadata is the transport-facing view of a code. EchoMessage lets the
// error's own message replace PublicMessage in responses.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
	EchoMessage    bool
}

// Conflicts come from version checks and duplicate signatures; the caller
// re-reads and retries. Transport failures never reach an HTTP response.
var metadataByCode = map[Code]Metadata{
	CodeValidation:   {http.StatusBadRequest, false, "validation failed", true, true},
	CodeUnauthorized: {http.StatusUnauthorized, false, "authentication required", false, true},
	CodeForbidden:    {http.StatusForbidden, false, "access denied", false, true},
	CodeNotFound:     {http.StatusNotFound, false, "resource not found", false, true},
	CodeConflict:     {http.StatusConflict, true, "conflict detected", false, true},
	CodeIdempotency:  {http.StatusConflict, false, "idempotency key reused", false, true},
	CodeRateLimit:    {http.StatusTooManyRequests, true, "too many requests", false, true},
	CodeInvalidState: {http.StatusUnprocessableEntity, false, "state transition disallowed", true, true},
	CodeTransport:    {http.StatusBadGateway, true, "mail transport failure", false, false},
	CodeInternal:     {http.StatusInternalServerError, true, "internal server error", false, false},
	CodeDependency:   {http.StatusServiceUnavailable, true, "dependency unavailable", true, false},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Error is the typed error every layer returns. Error() carries only the code
// and message; the cause is reachable through Unwrap.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches code and message to err. A nil err behaves like New.
func Wrap(code Code, err error, message string) *Error {
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
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

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

// IsCode reports whether the outermost typed error in err carries code.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}

// Retryable reports whether the error's code is marked retryable.
func Retryable(err error) bool {
	typed := As(err)
	if typed == nil {
		return false
	}
	return MetadataFor(typed.code).Retryable
}
