package apperrors

import "errors"

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil && e.Message == "" {
		return e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata}
}

// Sentinels for errors.Is checks against a code.
var (
	ErrNotFound          = New(CodeNotFound, "not found")
	ErrForbidden         = New(CodeForbidden, "forbidden")
	ErrUnauthenticated   = New(CodeUnauthenticated, "unauthenticated")
	ErrInvalidArgument   = New(CodeInvalidArgument, "invalid argument")
	ErrInvalidTransition = New(CodeInvalidTransition, "invalid transition")
	ErrConflict          = New(CodeConflict, "conflict")
	ErrAlreadyConfirmed  = New(CodeAlreadyConfirmed, "already confirmed")
	ErrPaymentGateway    = New(CodePaymentGateway, "payment gateway error")
)

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
