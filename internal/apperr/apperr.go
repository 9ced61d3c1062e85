package apperr

import "fmt"

// ValidationError marks malformed or out-of-range caller input. The
// transport layer maps it to HTTP 400; no write is attempted once one
// is returned.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validationf builds a ValidationError.
func Validationf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError marks a referenced entity that does not exist.
// Mapped to HTTP 404.
type NotFoundError struct {
	Msg string
}

func (e *NotFoundError) Error() string { return e.Msg }

// NotFoundf builds a NotFoundError.
func NotFoundf(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Msg: fmt.Sprintf(format, args...)}
}
