package core

import "github.com/pkg/errors"

var (
	ErrUnauthenticated = errors.New("user not authenticated")
	ErrDatabase        = errors.New("database error")
)

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

// StoreError marks a failure of the underlying store. Its message is always "database error";
// the wrapped error keeps the details for logs.
type StoreError struct {
	Err error
}

func NewStoreError(err error, msg string) error {
	return &StoreError{Err: errors.Wrap(err, msg)}
}

func (err StoreError) Error() string { return ErrDatabase.Error() }

func (err StoreError) Unwrap() error { return err.Err }

func IsStoreError(err error) bool {
	var sErr *StoreError
	return errors.As(err, &sErr)
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
