package repositories

import "fmt"

// StoreErrorKind categorises StoreError values.
type StoreErrorKind string

const (
	// StoreErrorNotFound marks a missing record.
	StoreErrorNotFound StoreErrorKind = "not_found"
	// StoreErrorConflict marks a concurrent modification or uniqueness violation.
	StoreErrorConflict StoreErrorKind = "conflict"
	// StoreErrorUnavailable marks a backend outage.
	StoreErrorUnavailable StoreErrorKind = "unavailable"
)

// StoreError is a RepositoryError for stores that are not backed by gRPC status codes.
type StoreError struct {
	Op      string
	Kind    StoreErrorKind
	Message string
	Err     error
}

var _ RepositoryError = (*StoreError)(nil)

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

// Unwrap exposes the underlying error, if any.
func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the record was missing.
func (e *StoreError) IsNotFound() bool { return e != nil && e.Kind == StoreErrorNotFound }

// IsConflict reports whether a concurrent modification was detected.
func (e *StoreError) IsConflict() bool { return e != nil && e.Kind == StoreErrorConflict }

// IsUnavailable reports whether the backend was unreachable.
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Kind == StoreErrorUnavailable }

// NewNotFoundError builds a not-found StoreError.
func NewNotFoundError(op, message string) *StoreError {
	return &StoreError{Op: op, Kind: StoreErrorNotFound, Message: message}
}

// NewConflictError builds a conflict StoreError.
func NewConflictError(op, message string, err error) *StoreError {
	return &StoreError{Op: op, Kind: StoreErrorConflict, Message: message, Err: err}
}
