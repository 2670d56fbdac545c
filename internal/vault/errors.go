package vault

import (
	"errors"
	"fmt"
)

// ErrUnknownFunction is wrapped by the ValidationError returned for function
// names that are missing from the registry or not public.
var ErrUnknownFunction = errors.New("unknown or non-public bridge function")

// ValidationError reports input the assembler refuses to build from. It is
// never retried.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
