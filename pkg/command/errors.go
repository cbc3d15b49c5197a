package command

import "errors"

// Kind classifies a gateway error.
type Kind string

const (
	KindConnection Kind = "ConnectionError"
	KindValidation Kind = "ValidationError"
	KindHandler    Kind = "HandlerError"
	KindNotFound   Kind = "NotFoundError"
)

// Error is a classified gateway error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// NewError creates an Error without a cause.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError creates an Error that wraps err.
func WrapError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or KindHandler for unclassified errors.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindHandler
}

// IsKind reports whether err is a gateway error of the given kind.
func IsKind(err error, kind Kind) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == kind
}

// ErrorSink records caught errors and returns an id that can be used to look them up later.
type ErrorSink interface {
	Report(kind string, message string, context map[string]interface{}) string
}

// NopSink discards reports.
type NopSink struct{}

// Report returns an empty id.
func (NopSink) Report(string, string, map[string]interface{}) string { return "" }
