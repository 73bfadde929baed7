package errors

import (
	stderrors "errors"
	"fmt"
)

// Error is the business-outcome value returned by gateway operations.
// Operations never panic for expected failures; they return one of these.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Details string // optional, e.g. the joined validation violations
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// New constructs an Error with the given kind, code, and message.
func New(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Newf constructs an Error with a formatted message.
func Newf(kind Kind, code Code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails returns a copy of the error carrying extra context for the
// response body. Details must already be safe to show to merchants.
func (e *Error) WithDetails(details string) *Error {
	clone := *e
	clone.Details = details
	return &clone
}

// Validation builds a field-scoped validation failure.
func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Code: CodeValidation, Message: message}
}

// Internal wraps an unexpected failure behind the opaque "999" code. The
// underlying error goes to the log, never to the merchant.
func Internal(err error) *Error {
	return &Error{Kind: KindSystem, Code: CodeInternal, Message: "internal error"}
}

// AsError extracts an *Error from any error value, converting unknown errors
// to system errors so handlers always have a wire code to respond with.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var ge *Error
	if stderrors.As(err, &ge) {
		return ge
	}
	return Internal(err)
}
