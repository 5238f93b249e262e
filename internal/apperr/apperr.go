// Package apperr classifies errors into the kinds callers act on.
//
// Packages declare their sentinels with New so that any wrapped error can be
// mapped back to a stable machine code and a kind without the caller knowing
// which package produced it. Errors that carry no kind are treated as
// infrastructure failures.
package apperr

import "errors"

type Kind string

const (
	KindValidation  Kind = "validation"
	KindConflict    Kind = "conflict"
	KindNotFound    Kind = "not_found"
	KindForbidden   Kind = "forbidden"
	KindTransient   Kind = "transient"
	KindUnavailable Kind = "unavailable"
)

// Error is a classified sentinel. Compare with errors.Is.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string { return e.Message }

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnavailable
}

// CodeOf returns the machine code of err, or "service_unavailable".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "service_unavailable"
}

// MessageOf returns a caller-safe message. Unclassified errors never leak
// their text.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "service unavailable"
}
