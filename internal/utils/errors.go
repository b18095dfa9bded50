package utils

import (
	"errors"
	"fmt"
)

// ErrInvalidParameter marks caller mistakes such as an unknown algorithm name, k < 1 or
// inverted hysteresis thresholds. It is never coerced silently.
var ErrInvalidParameter = errors.New("invalid parameter")

// AppError wraps an operation, human-facing message, and underlying error.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}

// InvalidParameter builds an AppError wrapping ErrInvalidParameter.
func InvalidParameter(op, format string, args ...any) error {
	return &AppError{Op: op, Msg: fmt.Sprintf(format, args...), Err: ErrInvalidParameter}
}

// IsInvalidParameter reports whether err stems from bad caller input.
func IsInvalidParameter(err error) bool {
	return errors.Is(err, ErrInvalidParameter)
}
