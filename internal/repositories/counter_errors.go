package repositories

import "fmt"

// CounterErrorCode enumerates failure reasons for counter operations.
type CounterErrorCode string

const (
	// CounterErrorInvalidInput indicates the caller supplied invalid arguments.
	CounterErrorInvalidInput CounterErrorCode = "counter_invalid_input"
)

// CounterError wraps counter-specific failures with machine readable codes.
type CounterError struct {
	Code    CounterErrorCode
	Message string
}

// Error implements the error interface.
func (e *CounterError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewCounterError constructs a typed counter error.
func NewCounterError(code CounterErrorCode, message string) *CounterError {
	if message == "" {
		message = string(code)
	}
	return &CounterError{Code: code, Message: message}
}
