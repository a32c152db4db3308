package core

import "github.com/pkg/errors"

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

// ErrorCode is the machine readable kind of a failed access or enrolment decision.
type ErrorCode string

const (
	CodeUnauthenticated     ErrorCode = "UNAUTHENTICATED"
	CodeNoRole              ErrorCode = "NO_ROLE"
	CodeForbidden           ErrorCode = "FORBIDDEN"
	CodeNotFound            ErrorCode = "NOT_FOUND"
	CodeInvalidCode         ErrorCode = "INVALID_CODE"
	CodeAlreadyEnrolled     ErrorCode = "ALREADY_ENROLLED"
	CodeAccountInactive     ErrorCode = "ACCOUNT_INACTIVE"
	CodeUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	CodeRateLimited         ErrorCode = "RATE_LIMITED"
)

// CodedError is a domain error carrying an ErrorCode.
// Sentinels are declared per package and compared with errors.Cause.
type CodedError struct {
	Code ErrorCode
	Msg  string
}

func NewCodedError(code ErrorCode, msg string) *CodedError {
	return &CodedError{Code: code, Msg: msg}
}

func (err *CodedError) Error() string {
	return err.Msg
}

// ErrorCodeOf returns the ErrorCode at the root of err, or "" if there is none.
func ErrorCodeOf(err error) ErrorCode {
	if cErr, ok := errors.Cause(err).(*CodedError); ok {
		return cErr.Code
	}
	return ""
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
